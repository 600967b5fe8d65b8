// Package events distributes saga outcomes to in-process subscribers: the
// SSE endpoint and anything else that wants to know how a transaction
// ended. A subscriber either follows every outcome or exactly one
// transaction id, which is what the 1:1 "start saga, wait for its result"
// HTTP flow needs.
package events

import (
	"sync"
	"time"
)

// SagaOutcomeEvent is the terminal result of one saga.
type SagaOutcomeEvent struct {
	TransactionID string    `json:"transaction_id"`
	Outcome       string    `json:"outcome"`
	Participants  []string  `json:"participants"`
	Timestamp     time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscription channel. Publish never blocks
// on a slow consumer; an outcome that does not fit is dropped for that
// subscriber (the authoritative record stays in the saga's journal).
const subscriberBuffer = 16

// Subscription is a live feed of saga outcomes. Cancel it to release the
// channel; a channel still registered with the broker is closed on cancel.
// A per-transaction channel that already received its outcome (at publish
// time or as a replay at subscribe time) is no longer registered, and
// Cancel leaves it as it is.
type Subscription struct {
	C      <-chan SagaOutcomeEvent
	cancel func()
}

func (s *Subscription) Cancel() {
	s.cancel()
}

// Broker routes completed-saga events to subscribers.
type Broker struct {
	mu   sync.Mutex
	all  map[chan SagaOutcomeEvent]struct{}
	byTx map[string]map[chan SagaOutcomeEvent]struct{}
	// delivered remembers outcomes already published, so a subscriber that
	// arrives after its saga finished still gets the result.
	delivered map[string]SagaOutcomeEvent
}

func NewBroker() *Broker {
	return &Broker{
		all:       make(map[chan SagaOutcomeEvent]struct{}),
		byTx:      make(map[string]map[chan SagaOutcomeEvent]struct{}),
		delivered: make(map[string]SagaOutcomeEvent),
	}
}

// Subscribe follows every saga outcome.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan SagaOutcomeEvent, subscriberBuffer)

	b.mu.Lock()
	b.all[ch] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.all[ch]; ok {
				delete(b.all, ch)
				close(ch)
			}
		},
	}
}

// SubscribeTx follows a single transaction. If the outcome was already
// published it is delivered immediately.
func (b *Broker) SubscribeTx(txID string) *Subscription {
	ch := make(chan SagaOutcomeEvent, subscriberBuffer)

	b.mu.Lock()
	if event, done := b.delivered[txID]; done {
		ch <- event
	} else {
		subs, ok := b.byTx[txID]
		if !ok {
			subs = make(map[chan SagaOutcomeEvent]struct{})
			b.byTx[txID] = subs
		}
		subs[ch] = struct{}{}
	}
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs, ok := b.byTx[txID]
			if !ok {
				return
			}
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.byTx, txID)
			}
		},
	}
}

// Publish records the outcome and fans it out to the global subscribers
// and to everyone waiting on this transaction id. Per-transaction
// subscriptions are closed after delivery: an outcome is final.
func (b *Broker) Publish(event SagaOutcomeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.delivered[event.TransactionID] = event

	for ch := range b.all {
		select {
		case ch <- event:
		default:
		}
	}

	if subs, ok := b.byTx[event.TransactionID]; ok {
		for ch := range subs {
			ch <- event // buffered and closed right after; cannot block
			close(ch)
		}
		delete(b.byTx, event.TransactionID)
	}
}

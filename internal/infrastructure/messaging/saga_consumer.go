package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bank-saga/internal/domain/money"
	"bank-saga/internal/domain/saga"
	"bank-saga/internal/infrastructure/messaging/kafka"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/idempotency"
	"bank-saga/internal/pkg/logging"

	"github.com/IBM/sarama"
)

// SagaRequestConsumer feeds StartSaga commands from the saga-requests
// topic into the entity router. Delivery is at-least-once with manual
// offset commits; the saga entity's idempotence absorbs redeliveries.
type SagaRequestConsumer struct {
	consumerGroup sarama.ConsumerGroup
	router        *runtime.Router
	config        *kafka.Config
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewSagaRequestConsumer creates a new saga request consumer
func NewSagaRequestConsumer(config *kafka.Config, router *runtime.Router) (*SagaRequestConsumer, error) {
	saramaConfig, err := config.ToSaramaConfig()
	if err != nil {
		return nil, err
	}

	// At-least-once: start from the oldest uncommitted message and commit
	// manually after the command reached the saga entity.
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false

	consumerGroup, err := sarama.NewConsumerGroup(config.Brokers, config.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SagaRequestConsumer{
		consumerGroup: consumerGroup,
		router:        router,
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start begins consuming saga request events
func (c *SagaRequestConsumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &sagaRequestHandler{router: c.router}
		topics := []string{kafka.TopicSagaRequests}

		for {
			// Consume is re-entered after every server-side rebalance.
			if err := c.consumerGroup.Consume(c.ctx, topics, handler); err != nil {
				logging.Error("Saga request consumer error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				logging.Error("Saga request consumer group error", err)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	logging.Info("Saga request consumer started",
		logging.F("group", c.config.ConsumerGroup), logging.F("topic", kafka.TopicSagaRequests))
	return nil
}

// Stop gracefully stops the consumer
func (c *SagaRequestConsumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// sagaRequestHandler implements sarama.ConsumerGroupHandler
type sagaRequestHandler struct {
	router *runtime.Router
}

func (h *sagaRequestHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *sagaRequestHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *sagaRequestHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.processRequest(message); err != nil {
				logging.Error("Failed to process saga request", err, logging.F("offset", message.Offset))
				// Don't mark on failure: the message is reprocessed after
				// restart or rebalance.
				continue
			}
			session.MarkMessage(message, "")
			session.Commit()
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *sagaRequestHandler) processRequest(message *sarama.ConsumerMessage) error {
	var req SagaRequestedEvent
	if err := json.Unmarshal(message.Value, &req); err != nil {
		// Malformed payloads never become valid; skip instead of looping.
		logging.Warn("Dropping malformed saga request",
			logging.F("offset", message.Offset), logging.F("error", err.Error()))
		return nil
	}

	cmd, err := toStartSaga(req)
	if err != nil {
		logging.Warn("Dropping invalid saga request",
			logging.F("offset", message.Offset), logging.F("error", err.Error()))
		return nil
	}

	replyCh := make(chan error, 1)
	cmd.Reply = replyCh
	h.router.Send(runtime.Ref{Kind: saga.Kind, ID: cmd.TxID}, cmd)

	select {
	case err = <-replyCh:
	case <-time.After(30 * time.Second):
		// The entity instance may have died between enqueue and
		// processing; redelivery will retry against a fresh one.
		err = fmt.Errorf("saga %s: no reply from entity", cmd.TxID)
	}
	if err != nil {
		switch err {
		case saga.ErrNoParticipants, saga.ErrDuplicateParticipant:
			logging.Warn("Dropping rejected saga request",
				logging.Tx(cmd.TxID), logging.F("error", err.Error()))
			return nil
		default:
			// Persistence failures are retryable.
			return fmt.Errorf("saga %s not accepted: %w", cmd.TxID, err)
		}
	}
	return nil
}

func toStartSaga(req SagaRequestedEvent) (saga.StartSaga, error) {
	txID := req.TransactionID
	if txID == "" {
		deposits := make([][2]string, 0, len(req.Deposits))
		for _, p := range req.Deposits {
			deposits = append(deposits, [2]string{p.AccountNumber, p.Amount})
		}
		withdrawals := make([][2]string, 0, len(req.Withdrawals))
		for _, p := range req.Withdrawals {
			withdrawals = append(withdrawals, [2]string{p.AccountNumber, p.Amount})
		}
		txID = idempotency.SagaKey(deposits, withdrawals)
	}

	cmd := saga.StartSaga{TxID: txID}
	for _, p := range req.Deposits {
		amount, err := money.ParsePositive(p.Amount)
		if err != nil {
			return saga.StartSaga{}, fmt.Errorf("deposit for %s: %w", p.AccountNumber, err)
		}
		cmd.Deposits = append(cmd.Deposits, saga.Posting{AccountNumber: p.AccountNumber, Amount: amount})
	}
	for _, p := range req.Withdrawals {
		amount, err := money.ParsePositive(p.Amount)
		if err != nil {
			return saga.StartSaga{}, fmt.Errorf("withdrawal for %s: %w", p.AccountNumber, err)
		}
		cmd.Withdrawals = append(cmd.Withdrawals, saga.Posting{AccountNumber: p.AccountNumber, Amount: amount})
	}
	return cmd, nil
}

// Package runtime is the addressable entity runtime: it routes commands to
// entities by id, keeps each entity single-threaded behind a FIFO mailbox,
// and recovers entity state from the journal on activation.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bank-saga/internal/infrastructure/journal"
	"bank-saga/internal/pkg/logging"
	"bank-saga/internal/pkg/telemetry"
)

var ErrRouterClosed = errors.New("entity router is closed")

// Message is any command or acknowledgement delivered to an entity mailbox.
type Message any

// Ref addresses an entity: a kind registered with the router plus the
// entity's id (account number or transaction id).
type Ref struct {
	Kind string
	ID   string
}

func (r Ref) String() string {
	return r.Kind + "/" + r.ID
}

// Entity processes one message at a time from its mailbox. Apply folds a
// single journal event during recovery; Receive handles a live message.
// Events are persisted only from Receive and from the optional Activated
// hook.
//
// A Receive error is fatal to the instance: the runtime drops it and the
// next Send re-activates a fresh instance from the journal, so no partial
// state survives a failed append.
type Entity interface {
	Apply(env journal.Envelope) error
	Receive(ctx context.Context, msg Message) error
}

// Snapshotter is implemented by entities that support the optional
// snapshot contract. The runtime restores from the latest snapshot and
// replays only the events after it.
type Snapshotter interface {
	SnapshotState() (json.RawMessage, error)
	RestoreSnapshot(state json.RawMessage) error
}

// Activatable is implemented by entities that need to resume work after
// recovery, before the first live message (the saga re-sends outstanding
// commands here).
type Activatable interface {
	Activated(ctx context.Context) error
}

// Services are the runtime facilities handed to each entity instance.
type Services struct {
	Ref       Ref
	Journal   journal.Journal
	Snapshots journal.SnapshotStore // nil when the backend has no snapshot store
	Router    *Router
	Clock     Clock
}

// Persist durably appends events under this entity's persistence key and
// returns the offset of the last one. The entity must not observe effects
// of a failed append: callers apply events only after Persist returns nil.
func (s Services) Persist(ctx context.Context, events ...journal.Event) (int64, error) {
	offset, err := s.Journal.Append(ctx, s.Ref.String(), events...)
	telemetry.RecordJournalAppend(err)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", journal.ErrAppendFailed, err)
	}
	return offset, nil
}

// SaveSnapshot stores a snapshot if the backend supports it.
func (s Services) SaveSnapshot(ctx context.Context, offset int64, state json.RawMessage) {
	if s.Snapshots == nil {
		return
	}
	if err := s.Snapshots.SaveSnapshot(ctx, s.Ref.String(), journal.Snapshot{Offset: offset, State: state}); err != nil {
		logging.Warn("Failed to save snapshot", logging.Entity(s.Ref.String()), logging.F("error", err.Error()))
	}
}

// Send delivers a message to another entity through the router.
func (s Services) Send(to Ref, msg Message) {
	s.Router.Send(to, msg)
}

// Factory builds an entity instance for an id. The same factory is used for
// cold activation and for re-activation after a failure.
type Factory func(id string, svc Services) Entity

// Router routes messages to entity mailboxes, activating entities (with
// journal replay) on first use.
type Router struct {
	mu        sync.Mutex
	kinds     map[string]Factory
	boxes     map[Ref]*mailbox
	journal   journal.Journal
	snapshots journal.SnapshotStore
	clock     Clock
	boxSize   int
	closed    bool
	wg        sync.WaitGroup
}

type mailbox struct {
	ch       chan Message
	stop     chan struct{} // closed to ask the instance to exit
	done     chan struct{} // closed once the instance is gone
	doneOnce sync.Once
}

func (mb *mailbox) markDone() {
	mb.doneOnce.Do(func() { close(mb.done) })
}

// Option configures the router.
type Option func(*Router)

func WithSnapshotStore(s journal.SnapshotStore) Option {
	return func(r *Router) { r.snapshots = s }
}

func WithMailboxSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.boxSize = n
		}
	}
}

func NewRouter(j journal.Journal, clock Clock, opts ...Option) *Router {
	r := &Router{
		kinds:   make(map[string]Factory),
		boxes:   make(map[Ref]*mailbox),
		journal: j,
		clock:   clock,
		boxSize: 256,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterKind installs the factory for an entity kind. Must be called
// before any Send for that kind.
func (r *Router) RegisterKind(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Send delivers msg to the entity addressed by ref, activating it if
// needed. Delivery from a single sender is FIFO. Send blocks only when the
// target mailbox is full, which gives natural backpressure.
func (r *Router) Send(ref Ref, msg Message) {
	mb, err := r.mailboxFor(ref)
	if err != nil {
		logging.Warn("Dropping message for entity", logging.Entity(ref.String()), logging.F("error", err.Error()))
		return
	}

	select {
	case mb.ch <- msg:
	case <-mb.done:
		// Instance died between lookup and enqueue; re-deliver so the
		// message lands in the fresh incarnation's mailbox.
		r.Send(ref, msg)
	}
}

func (r *Router) mailboxFor(ref Ref) (*mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}
	if mb, ok := r.boxes[ref]; ok {
		return mb, nil
	}
	factory, ok := r.kinds[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", ref.Kind)
	}

	mb := &mailbox{
		ch:   make(chan Message, r.boxSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.boxes[ref] = mb

	svc := Services{
		Ref:       ref,
		Journal:   r.journal,
		Snapshots: r.snapshots,
		Router:    r,
		Clock:     r.clock,
	}
	entity := factory(ref.ID, svc)

	r.wg.Add(1)
	go r.run(ref, entity, mb)

	return mb, nil
}

// run recovers the entity from the journal and then drains its mailbox,
// one message at a time.
func (r *Router) run(ref Ref, entity Entity, mb *mailbox) {
	defer r.wg.Done()
	defer r.deactivate(ref, mb)

	telemetry.RecordEntityActivation(ref.Kind)
	defer telemetry.RecordEntityDeactivation(ref.Kind)

	ctx := context.Background()

	if err := r.recover(ctx, ref, entity); err != nil {
		logging.Error("Entity recovery failed", err, logging.Entity(ref.String()))
		return
	}

	if a, ok := entity.(Activatable); ok {
		if err := a.Activated(ctx); err != nil {
			logging.Error("Entity activation hook failed", err, logging.Entity(ref.String()))
			return
		}
	}

	for {
		select {
		case <-mb.stop:
			return
		case msg := <-mb.ch:
			err := entity.Receive(ctx, msg)
			telemetry.RecordCommand(ref.Kind, err)
			if err != nil {
				// Persistence failures are fatal to the instance. Stop
				// here; the next Send re-activates from the journal.
				logging.Error("Entity stopped after command failure", err,
					logging.Entity(ref.String()), logging.F("message", fmt.Sprintf("%T", msg)))
				return
			}
		}
	}
}

func (r *Router) deactivate(ref Ref, mb *mailbox) {
	r.mu.Lock()
	if r.boxes[ref] == mb {
		delete(r.boxes, ref)
	}
	r.mu.Unlock()
	mb.markDone()
}

func (r *Router) recover(ctx context.Context, ref Ref, entity Entity) error {
	var fromOffset int64

	if snapshotter, ok := entity.(Snapshotter); ok && r.snapshots != nil {
		snap, found, err := r.snapshots.LoadSnapshot(ctx, ref.String())
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if found {
			if err := snapshotter.RestoreSnapshot(snap.State); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			fromOffset = snap.Offset
		}
	}

	envelopes, err := r.journal.Replay(ctx, ref.String(), fromOffset)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for _, env := range envelopes {
		if err := entity.Apply(env); err != nil {
			return fmt.Errorf("apply event %s at offset %d: %w", env.Event.Type, env.Offset, err)
		}
	}
	return nil
}

// Passivate drops an entity instance without touching its journal. The
// next Send re-activates it from persisted state. It is also how tests
// exercise crash recovery. Blocks until the instance is gone.
func (r *Router) Passivate(ref Ref) {
	r.mu.Lock()
	mb, ok := r.boxes[ref]
	if ok {
		delete(r.boxes, ref)
	}
	r.mu.Unlock()
	if ok {
		close(mb.stop)
		<-mb.done
	}
}

// Shutdown stops accepting sends, asks every mailbox to stop and waits for
// the entities to finish their current message.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	boxes := make([]*mailbox, 0, len(r.boxes))
	for _, mb := range r.boxes {
		boxes = append(boxes, mb)
	}
	r.boxes = make(map[Ref]*mailbox)
	r.mu.Unlock()

	for _, mb := range boxes {
		close(mb.stop)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

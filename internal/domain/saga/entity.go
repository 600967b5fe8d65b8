// Package saga implements the coordinator entity that drives a fixed set
// of deposits and withdrawals across bank accounts to a single global
// outcome. The prepare phase collects Ready acks under a deadline; any
// rejection or timeout turns the decision into a rollback, and once a
// decision is persisted only participant acknowledgements complete it.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bank-saga/internal/domain/account"
	"bank-saga/internal/domain/finitestate"
	"bank-saga/internal/infrastructure/journal"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/logging"
	"bank-saga/internal/pkg/telemetry"
)

var (
	ErrNoParticipants       = errors.New("saga requires at least one deposit or withdrawal")
	ErrDuplicateParticipant = errors.New("each account may appear only once in a saga")
)

// Options tune a saga entity instance.
type Options struct {
	// PrepareTimeout is the deadline for collecting Ready acks.
	PrepareTimeout time.Duration
	// RetryInterval drives the tick that re-sends outstanding commands.
	RetryInterval time.Duration
	// OnCompleted, when non-nil, observes terminal states reached live
	// (not replayed ones). Used to publish outcomes.
	OnCompleted func(State)
}

// Entity is a single saga coordinator instance owned by the runtime.
type Entity struct {
	id    string // the transaction id
	svc   runtime.Services
	state State
	fsm   *finitestate.Machine
	opts  Options

	timer     runtime.Timer
	startedAt time.Time
}

// New builds a saga entity; used as the runtime factory for Kind.
func New(id string, svc runtime.Services, opts Options) *Entity {
	if opts.PrepareTimeout <= 0 {
		opts.PrepareTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	machine, err := finitestate.NewSagaMachine(slog.Default().Handler())
	if err != nil {
		// The transition table is static; this cannot fail at runtime.
		panic(fmt.Sprintf("saga state machine: %v", err))
	}
	return &Entity{
		id:    id,
		svc:   svc,
		state: newState(),
		fsm:   machine,
		opts:  opts,
	}
}

// State returns a deep copy of the in-memory state.
func (e *Entity) State() State {
	return e.state.Clone()
}

// Apply folds one journal event during recovery.
func (e *Entity) Apply(env journal.Envelope) error {
	decoded, err := decodeEvent(env.Event)
	if err != nil {
		return err
	}
	return e.applyDecoded(decoded)
}

func (e *Entity) applyDecoded(decoded any) error {
	before := e.state.Status
	if err := e.state.apply(decoded); err != nil {
		return err
	}
	if e.state.Status != before {
		return e.fsm.Transition(e.state.Status.String())
	}
	return nil
}

// Activated resumes a recovered saga: a non-terminal coordinator re-sends
// whatever is outstanding and re-arms its tick. A crash between the last
// acknowledgement and the completion append leaves a decided saga with
// nothing outstanding; finish it here.
func (e *Entity) Activated(ctx context.Context) error {
	fmt.Println("DEBUG Activated", e.id, e.state.Status)
	switch e.state.Status {
	case StatusPending, StatusCompleted:
		return nil
	case StatusCommitting:
		if e.state.CommitComplete() {
			return e.complete(ctx, OutcomeCommitted)
		}
	case StatusRollingBack:
		if e.state.RollbackComplete() {
			return e.complete(ctx, OutcomeRolledBack)
		}
	}
	fmt.Println("DEBUG Activated resend", e.id, e.state.Status)
	e.resendOutstanding()
	e.scheduleTick()
	return nil
}

func (e *Entity) Receive(ctx context.Context, msg runtime.Message) error {
	switch m := msg.(type) {
	case StartSaga:
		return e.handleStart(ctx, m)
	case account.Ready:
		return e.handleReady(ctx, m)
	case account.Rejected:
		return e.handleRejected(ctx, m)
	case account.Cleared:
		return e.handleCleared(ctx, m)
	case account.Reversed:
		return e.handleReversed(ctx, m)
	case account.UnknownTransaction:
		logging.Warn("Participant reported unknown transaction",
			logging.Tx(e.id), logging.Account(m.AccountNumber))
		return nil
	case Tick:
		return e.handleTick(ctx, m)
	case GetState:
		m.Reply <- e.State()
		return nil
	default:
		logging.Warn("Saga received unexpected message",
			logging.Tx(e.id), logging.F("type", fmt.Sprintf("%T", msg)))
		return nil
	}
}

func (e *Entity) handleStart(ctx context.Context, cmd StartSaga) error {
	if e.state.Status != StatusPending {
		// Duplicate StartSaga for a known transaction id: the first one
		// won, acknowledge without effect.
		reply(cmd.Reply, nil)
		return nil
	}

	commands, err := buildCommands(cmd)
	if err != nil {
		reply(cmd.Reply, err)
		return nil
	}

	now := e.svc.Clock.Now()
	started := SagaStarted{
		TxID:         cmd.TxID,
		Participants: commands,
		Deadline:     now.Add(e.opts.PrepareTimeout),
	}
	if err := e.persistAndApply(ctx, EventSagaStarted, started); err != nil {
		reply(cmd.Reply, err)
		return err
	}

	e.startedAt = now
	telemetry.SagasStartedTotal.Inc()
	logging.Info("Saga started", logging.Tx(cmd.TxID), logging.F("participants", len(commands)))

	for _, op := range commands {
		e.sendStart(op)
	}
	e.scheduleTick()
	reply(cmd.Reply, nil)
	return nil
}

func buildCommands(cmd StartSaga) ([]account.Operation, error) {
	total := len(cmd.Deposits) + len(cmd.Withdrawals)
	if total == 0 {
		return nil, ErrNoParticipants
	}
	commands := make([]account.Operation, 0, total)
	seen := make(map[string]bool, total)
	for _, p := range cmd.Deposits {
		if seen[p.AccountNumber] {
			return nil, ErrDuplicateParticipant
		}
		seen[p.AccountNumber] = true
		commands = append(commands, account.Deposit(p.AccountNumber, p.Amount))
	}
	for _, p := range cmd.Withdrawals {
		if seen[p.AccountNumber] {
			return nil, ErrDuplicateParticipant
		}
		seen[p.AccountNumber] = true
		commands = append(commands, account.Withdraw(p.AccountNumber, p.Amount))
	}
	return commands, nil
}

func (e *Entity) handleReady(ctx context.Context, ack account.Ready) error {
	fmt.Println("DEBUG handleReady", e.id, ack.AccountNumber, e.state.Status)
	if e.state.Status == StatusCompleted || e.state.Ready[ack.AccountNumber] {
		return nil
	}
	if !e.state.IsParticipant(ack.AccountNumber) {
		logging.Warn("Ready from non-participant",
			logging.Tx(e.id), logging.Account(ack.AccountNumber))
		return nil
	}

	if err := e.persistAndApply(ctx, EventParticipantReady, ParticipantReady{
		TxID:          e.id,
		AccountNumber: ack.AccountNumber,
	}); err != nil {
		return err
	}

	switch e.state.Status {
	case StatusAwaitingReady:
		if e.state.AllReady() {
			return e.decideCommit(ctx)
		}
	case StatusRollingBack:
		// The participant staged after the rollback decision (late
		// delivery); undo it right away.
		e.sendRollback(ack.AccountNumber)
	}
	return nil
}

func (e *Entity) handleRejected(ctx context.Context, ack account.Rejected) error {
	if e.state.Status != StatusAwaitingReady || e.state.Rejected[ack.AccountNumber] {
		// After a decision a rejection carries no information: the
		// participant staged nothing.
		return nil
	}
	if !e.state.IsParticipant(ack.AccountNumber) {
		return nil
	}

	logging.Info("Participant rejected transaction",
		logging.Tx(e.id), logging.Account(ack.AccountNumber), logging.F("reason", ack.Reason))
	if err := e.persistAndApply(ctx, EventParticipantRejected, ParticipantRejected{
		TxID:          e.id,
		AccountNumber: ack.AccountNumber,
		Reason:        ack.Reason,
	}); err != nil {
		return err
	}
	return e.decideRollback(ctx)
}

func (e *Entity) handleCleared(ctx context.Context, ack account.Cleared) error {
	if e.state.Status != StatusCommitting || e.state.Cleared[ack.AccountNumber] {
		return nil
	}
	if !e.state.IsParticipant(ack.AccountNumber) {
		return nil
	}

	if err := e.persistAndApply(ctx, EventParticipantCleared, ParticipantCleared{
		TxID:          e.id,
		AccountNumber: ack.AccountNumber,
	}); err != nil {
		return err
	}
	if e.state.CommitComplete() {
		return e.complete(ctx, OutcomeCommitted)
	}
	return nil
}

func (e *Entity) handleReversed(ctx context.Context, ack account.Reversed) error {
	if e.state.Status != StatusRollingBack || e.state.Reversed[ack.AccountNumber] {
		return nil
	}
	if !e.state.IsParticipant(ack.AccountNumber) {
		return nil
	}

	if err := e.persistAndApply(ctx, EventParticipantReversed, ParticipantReversed{
		TxID:          e.id,
		AccountNumber: ack.AccountNumber,
	}); err != nil {
		return err
	}
	if e.state.RollbackComplete() {
		return e.complete(ctx, OutcomeRolledBack)
	}
	return nil
}

func (e *Entity) handleTick(ctx context.Context, tick Tick) error {
	if e.state.Status == StatusCompleted || e.state.Status == StatusPending {
		return nil
	}

	if e.state.Status == StatusAwaitingReady && !tick.Now.Before(e.state.Deadline) && !e.state.AllReady() {
		logging.Info("Saga prepare deadline expired", logging.Tx(e.id),
			logging.F("ready", len(e.state.Ready)), logging.F("total", len(e.state.Commands)))
		if err := e.decideRollback(ctx); err != nil {
			return err
		}
	} else {
		e.resendOutstanding()
	}

	if e.state.Status != StatusCompleted {
		e.scheduleTick()
	}
	return nil
}

// decideCommit is the point of no return: after CommitDecided every
// participant will eventually clear.
func (e *Entity) decideCommit(ctx context.Context) error {
	if err := e.persistAndApply(ctx, EventCommitDecided, CommitDecided{TxID: e.id}); err != nil {
		return err
	}
	logging.Info("Saga committing", logging.Tx(e.id))
	for accountNumber := range e.state.Ready {
		e.sendCommit(accountNumber)
	}
	return nil
}

func (e *Entity) decideRollback(ctx context.Context) error {
	if err := e.persistAndApply(ctx, EventRollbackDecided, RollbackDecided{TxID: e.id}); err != nil {
		return err
	}
	logging.Info("Saga rolling back", logging.Tx(e.id))
	for accountNumber := range e.state.Ready {
		e.sendRollback(accountNumber)
	}
	// Nothing staged yet means nothing to undo.
	if e.state.RollbackComplete() {
		return e.complete(ctx, OutcomeRolledBack)
	}
	return nil
}

func (e *Entity) complete(ctx context.Context, outcome Outcome) error {
	if err := e.persistAndApply(ctx, EventSagaCompleted, SagaCompleted{
		TxID:    e.id,
		Outcome: outcome,
	}); err != nil {
		return err
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if !e.startedAt.IsZero() {
		label := "committed"
		if outcome == OutcomeRolledBack {
			label = "rolled_back"
		}
		telemetry.RecordSagaCompleted(label, e.svc.Clock.Now().Sub(e.startedAt))
	}
	logging.Info("Saga completed", logging.Tx(e.id), logging.F("outcome", string(outcome)))
	if e.opts.OnCompleted != nil {
		e.opts.OnCompleted(e.State())
	}
	return nil
}

// resendOutstanding re-delivers commands to participants that have not yet
// acknowledged. Account idempotence makes the duplicates harmless.
func (e *Entity) resendOutstanding() {
	switch e.state.Status {
	case StatusAwaitingReady:
		for _, op := range e.state.Commands {
			if !e.state.Ready[op.AccountNumber] && !e.state.Rejected[op.AccountNumber] {
				e.sendStart(op)
			}
		}
	case StatusCommitting:
		for _, op := range e.state.Commands {
			if !e.state.Cleared[op.AccountNumber] {
				e.sendCommit(op.AccountNumber)
			}
		}
	case StatusRollingBack:
		for accountNumber := range e.state.Ready {
			if !e.state.Reversed[accountNumber] {
				e.sendRollback(accountNumber)
			}
		}
	}
}

func (e *Entity) sendStart(op account.Operation) {
	fmt.Println("DEBUG sendStart", e.id, op.AccountNumber)
	e.svc.Send(runtime.Ref{Kind: account.Kind, ID: op.AccountNumber}, account.StartTransaction{
		TxID:    e.id,
		Op:      op,
		ReplyTo: e.svc.Ref,
	})
}

func (e *Entity) sendCommit(accountNumber string) {
	e.svc.Send(runtime.Ref{Kind: account.Kind, ID: accountNumber}, account.CommitTransaction{
		TxID:          e.id,
		AccountNumber: accountNumber,
		ReplyTo:       e.svc.Ref,
	})
}

func (e *Entity) sendRollback(accountNumber string) {
	e.svc.Send(runtime.Ref{Kind: account.Kind, ID: accountNumber}, account.RollbackTransaction{
		TxID:          e.id,
		AccountNumber: accountNumber,
		ReplyTo:       e.svc.Ref,
	})
}

func (e *Entity) scheduleTick() {
	if e.timer != nil {
		e.timer.Stop()
	}
	clock := e.svc.Clock
	e.timer = clock.AfterFunc(e.opts.RetryInterval, func() {
		e.svc.Send(e.svc.Ref, Tick{Now: clock.Now()})
	})
}

func (e *Entity) persistAndApply(ctx context.Context, eventType string, payload any) error {
	ev, err := encodeEvent(eventType, payload)
	if err != nil {
		return err
	}
	if _, err := e.svc.Persist(ctx, ev); err != nil {
		return err
	}
	return e.applyDecoded(payload)
}

func reply(ch chan<- error, err error) {
	if ch != nil {
		ch <- err
	}
}

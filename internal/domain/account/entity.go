// Package account implements the bank-account entity: a persistent,
// event-sourced ledger that participates in two-phase transactions driven
// by a saga coordinator. One transaction is staged at a time; competing
// StartTransaction commands wait in a transient FIFO stash.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"bank-saga/internal/domain/finitestate"
	"bank-saga/internal/domain/money"
	"bank-saga/internal/infrastructure/journal"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/logging"
	"bank-saga/internal/pkg/telemetry"
)

// Options tune a single account entity instance.
type Options struct {
	// StashLimit bounds the deferred-command queue; overflow is answered
	// with a Busy rejection. Zero means the default of 128.
	StashLimit int
	// SnapshotEvery takes a snapshot once this many events accumulated
	// since the last one. Zero disables snapshotting.
	SnapshotEvery int
}

// Entity is a single account instance owned by the runtime. All access is
// serialized by the entity mailbox; fields need no locking.
type Entity struct {
	id    string
	svc   runtime.Services
	state State
	fsm   *finitestate.Machine

	// cleared and reversed remember completed transaction ids so that
	// duplicate Commit/Rollback deliveries are acked idempotently.
	cleared  map[string]bool
	reversed map[string]bool

	// stash holds StartTransaction commands that arrived while another
	// transaction was staged. Not persisted: after a crash the
	// coordinator's retries repopulate it.
	stash      []StartTransaction
	stashLimit int

	snapshotEvery      int
	lastOffset         int64
	lastSnapshotOffset int64
}

// New builds an account entity; used as the runtime factory for Kind.
func New(id string, svc runtime.Services, opts Options) *Entity {
	if opts.StashLimit <= 0 {
		opts.StashLimit = 128
	}
	machine, err := finitestate.NewAccountMachine(slog.Default().Handler())
	if err != nil {
		// The transition table is static; this cannot fail at runtime.
		panic(fmt.Sprintf("account state machine: %v", err))
	}
	return &Entity{
		id:            id,
		svc:           svc,
		fsm:           machine,
		cleared:       make(map[string]bool),
		reversed:      make(map[string]bool),
		stashLimit:    opts.StashLimit,
		snapshotEvery: opts.SnapshotEvery,
	}
}

// State returns a copy of the in-memory state; tests use it directly, the
// runtime path goes through the GetState query.
func (e *Entity) State() State {
	st := e.state
	st.StashDepth = len(e.stash)
	return st
}

// Apply folds one journal event during recovery.
func (e *Entity) Apply(env journal.Envelope) error {
	decoded, err := decodeEvent(env.Event)
	if err != nil {
		return err
	}
	if err := e.applyDecoded(decoded); err != nil {
		return err
	}
	e.lastOffset = env.Offset
	return nil
}

func (e *Entity) applyDecoded(decoded any) error {
	if err := e.state.apply(decoded); err != nil {
		return err
	}
	switch ev := decoded.(type) {
	case TransactionCleared:
		e.cleared[ev.TxID] = true
	case TransactionReversed:
		e.reversed[ev.TxID] = true
	}
	// Every event maps to exactly one edge of the status machine, so the
	// guarded transition doubles as journal validation.
	return e.fsm.Transition(e.state.Status.String())
}

// Receive handles one live command. Persistence happens before any state
// change becomes visible; an append failure is returned and kills the
// instance.
func (e *Entity) Receive(ctx context.Context, msg runtime.Message) error {
	switch m := msg.(type) {
	case CreateBankAccount:
		return e.handleCreate(ctx, m)
	case StartTransaction:
		return e.handleStart(ctx, m)
	case CommitTransaction:
		return e.handleCommit(ctx, m)
	case RollbackTransaction:
		return e.handleRollback(ctx, m)
	case GetState:
		m.Reply <- e.State()
		return nil
	default:
		logging.Warn("Account received unexpected message",
			logging.Account(e.id), logging.F("type", fmt.Sprintf("%T", msg)))
		return nil
	}
}

func (e *Entity) handleCreate(ctx context.Context, cmd CreateBankAccount) error {
	if e.state.Status != StatusUninitialized {
		// Idempotent: the account already exists.
		reply(cmd.Reply, nil)
		return nil
	}

	if err := e.persistAndApply(ctx, EventBankAccountCreated, BankAccountCreated{
		CustomerNumber: cmd.CustomerNumber,
		AccountNumber:  cmd.AccountNumber,
	}); err != nil {
		reply(cmd.Reply, err)
		return err
	}

	telemetry.AccountsCreatedTotal.Inc()
	logging.Info("Bank account created",
		logging.Account(cmd.AccountNumber), logging.F("customer", cmd.CustomerNumber))
	reply(cmd.Reply, nil)
	return nil
}

func (e *Entity) handleStart(ctx context.Context, cmd StartTransaction) error {
	fmt.Println("DEBUG account handleStart", e.id, cmd.TxID, e.state.Status)
	switch e.state.Status {
	case StatusUninitialized:
		e.reject(cmd, ReasonNotInitialized)
		return nil

	case StatusInTransaction:
		if cmd.TxID == e.state.CurrentTxID {
			// Duplicate delivery of the staged transaction: re-ack.
			e.ack(cmd.ReplyTo, Ready{AccountNumber: e.id, TxID: cmd.TxID})
			return nil
		}
		if len(e.stash) >= e.stashLimit {
			e.reject(cmd, ReasonBusy)
			return nil
		}
		e.stash = append(e.stash, cmd)
		telemetry.AccountStashDepthGauge.Inc()
		return nil

	case StatusActive:
		if e.cleared[cmd.TxID] {
			e.ack(cmd.ReplyTo, Cleared{AccountNumber: e.id, TxID: cmd.TxID})
			return nil
		}
		if e.reversed[cmd.TxID] {
			e.ack(cmd.ReplyTo, Reversed{AccountNumber: e.id, TxID: cmd.TxID})
			return nil
		}
		if cmd.Op.Type == OpFundsWithdrawn && !e.state.Balance.GreaterOrEqual(cmd.Op.Amount) {
			e.reject(cmd, ReasonInsufficientFunds)
			return nil
		}
		if err := e.persistAndApply(ctx, EventTransactionStarted, TransactionStarted{
			TxID:  cmd.TxID,
			Inner: cmd.Op,
		}); err != nil {
			return err
		}
		e.ack(cmd.ReplyTo, Ready{AccountNumber: e.id, TxID: cmd.TxID})
		return nil
	}
	return nil
}

func (e *Entity) handleCommit(ctx context.Context, cmd CommitTransaction) error {
	if e.state.Status == StatusInTransaction && cmd.TxID == e.state.CurrentTxID {
		staged := e.stagedOperation()
		if err := e.persistAndApply(ctx, EventTransactionCleared, TransactionCleared{
			TxID:  cmd.TxID,
			Inner: staged,
		}); err != nil {
			return err
		}
		e.ack(cmd.ReplyTo, Cleared{AccountNumber: e.id, TxID: cmd.TxID})
		e.maybeSnapshot(ctx)
		return e.drainStash(ctx)
	}

	if e.cleared[cmd.TxID] {
		// Duplicate commit for a completed transaction.
		e.ack(cmd.ReplyTo, Cleared{AccountNumber: e.id, TxID: cmd.TxID})
		return nil
	}

	logging.Warn("Commit for unknown transaction", logging.Account(e.id), logging.Tx(cmd.TxID))
	e.ack(cmd.ReplyTo, UnknownTransaction{AccountNumber: e.id, TxID: cmd.TxID})
	return nil
}

func (e *Entity) handleRollback(ctx context.Context, cmd RollbackTransaction) error {
	if e.state.Status == StatusInTransaction && cmd.TxID == e.state.CurrentTxID {
		staged := e.stagedOperation()
		if err := e.persistAndApply(ctx, EventTransactionReversed, TransactionReversed{
			TxID:  cmd.TxID,
			Inner: staged,
		}); err != nil {
			return err
		}
		e.ack(cmd.ReplyTo, Reversed{AccountNumber: e.id, TxID: cmd.TxID})
		e.maybeSnapshot(ctx)
		return e.drainStash(ctx)
	}

	if e.reversed[cmd.TxID] {
		e.ack(cmd.ReplyTo, Reversed{AccountNumber: e.id, TxID: cmd.TxID})
		return nil
	}

	logging.Warn("Rollback for unknown transaction", logging.Account(e.id), logging.Tx(cmd.TxID))
	e.ack(cmd.ReplyTo, UnknownTransaction{AccountNumber: e.id, TxID: cmd.TxID})
	return nil
}

// stagedOperation reconstructs the staged op from the pending delta.
func (e *Entity) stagedOperation() Operation {
	if e.state.PendingBalance.IsNegative() {
		return Withdraw(e.id, e.state.PendingBalance.Neg())
	}
	return Deposit(e.id, e.state.PendingBalance)
}

// drainStash reprocesses deferred commands after the entity returned to
// Active. The first accepted command moves it back to InTransaction and
// stops the drain; rejected ones are answered and dropped.
func (e *Entity) drainStash(ctx context.Context) error {
	for e.state.Status == StatusActive && len(e.stash) > 0 {
		cmd := e.stash[0]
		e.stash = e.stash[1:]
		telemetry.AccountStashDepthGauge.Dec()
		if err := e.handleStart(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entity) persistAndApply(ctx context.Context, eventType string, payload any) error {
	ev, err := encodeEvent(eventType, payload)
	if err != nil {
		return err
	}
	offset, err := e.svc.Persist(ctx, ev)
	if err != nil {
		return err
	}
	e.lastOffset = offset
	return e.applyDecoded(payload)
}

func (e *Entity) reject(cmd StartTransaction, reason string) {
	telemetry.RecordRejection(reason)
	logging.Debug("Transaction rejected",
		logging.Account(e.id), logging.Tx(cmd.TxID), logging.F("reason", reason))
	e.ack(cmd.ReplyTo, Rejected{AccountNumber: e.id, TxID: cmd.TxID, Reason: reason})
}

func (e *Entity) ack(to runtime.Ref, msg runtime.Message) {
	fmt.Printf("DEBUG ack %s -> %s %T %+v\n", e.id, to, msg, msg)
	if to == (runtime.Ref{}) {
		return
	}
	e.svc.Send(to, msg)
}

func reply(ch chan<- error, err error) {
	if ch != nil {
		ch <- err
	}
}

// Snapshot support (optional journal contract)

type snapshotState struct {
	Status         string       `json:"status"`
	CustomerNumber string       `json:"customerNumber"`
	AccountNumber  string       `json:"accountNumber"`
	Balance        money.Amount `json:"balance"`
	PendingBalance money.Amount `json:"pendingBalance"`
	CurrentTxID    string       `json:"currentTxId,omitempty"`
	Cleared        []string     `json:"cleared,omitempty"`
	Reversed       []string     `json:"reversed,omitempty"`
}

func (e *Entity) SnapshotState() (json.RawMessage, error) {
	snap := snapshotState{
		Status:         e.state.Status.String(),
		CustomerNumber: e.state.CustomerNumber,
		AccountNumber:  e.state.AccountNumber,
		Balance:        e.state.Balance,
		PendingBalance: e.state.PendingBalance,
		CurrentTxID:    e.state.CurrentTxID,
	}
	for txID := range e.cleared {
		snap.Cleared = append(snap.Cleared, txID)
	}
	for txID := range e.reversed {
		snap.Reversed = append(snap.Reversed, txID)
	}
	return json.Marshal(snap)
}

func (e *Entity) RestoreSnapshot(state json.RawMessage) error {
	var snap snapshotState
	if err := json.Unmarshal(state, &snap); err != nil {
		return fmt.Errorf("decode account snapshot: %w", err)
	}

	switch snap.Status {
	case finitestate.AccountUninitialized:
		e.state.Status = StatusUninitialized
	case finitestate.AccountActive:
		e.state.Status = StatusActive
	case finitestate.AccountInTransaction:
		e.state.Status = StatusInTransaction
	default:
		return fmt.Errorf("unknown account status %q in snapshot", snap.Status)
	}
	e.state.CustomerNumber = snap.CustomerNumber
	e.state.AccountNumber = snap.AccountNumber
	e.state.Balance = snap.Balance
	e.state.PendingBalance = snap.PendingBalance
	e.state.CurrentTxID = snap.CurrentTxID
	for _, txID := range snap.Cleared {
		e.cleared[txID] = true
	}
	for _, txID := range snap.Reversed {
		e.reversed[txID] = true
	}
	return e.fsm.SetState(snap.Status)
}

func (e *Entity) maybeSnapshot(ctx context.Context) {
	if e.snapshotEvery <= 0 || e.svc.Snapshots == nil {
		return
	}
	if e.lastOffset-e.lastSnapshotOffset < int64(e.snapshotEvery) {
		return
	}
	state, err := e.SnapshotState()
	if err != nil {
		logging.Warn("Failed to serialize account snapshot",
			logging.Account(e.id), logging.F("error", err.Error()))
		return
	}
	e.svc.SaveSnapshot(ctx, e.lastOffset, state)
	e.lastSnapshotOffset = e.lastOffset
}

package account_test

import (
	"context"
	"testing"
	"time"

	"bank-saga/internal/domain/account"
	"bank-saga/internal/domain/money"
	"bank-saga/internal/infrastructure/journal"
	"bank-saga/internal/infrastructure/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probe captures every message routed to it, standing in for the saga
// coordinator.
type probe struct {
	ch chan runtime.Message
}

func (p *probe) Apply(env journal.Envelope) error                      { return nil }
func (p *probe) Receive(ctx context.Context, msg runtime.Message) error {
	p.ch <- msg
	return nil
}

type fixture struct {
	ctx     context.Context
	mem     *journal.Memory
	router  *runtime.Router
	entity  *account.Entity
	acks    chan runtime.Message
	replyTo runtime.Ref
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := journal.NewMemory()
	router := runtime.NewRouter(mem, runtime.SystemClock{}, runtime.WithSnapshotStore(mem))
	acks := make(chan runtime.Message, 64)
	router.RegisterKind("probe", func(id string, svc runtime.Services) runtime.Entity {
		return &probe{ch: acks}
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = router.Shutdown(ctx)
	})

	svc := runtime.Services{
		Ref:       runtime.Ref{Kind: account.Kind, ID: "A1"},
		Journal:   mem,
		Snapshots: mem,
		Router:    router,
		Clock:     runtime.SystemClock{},
	}

	return &fixture{
		ctx:     context.Background(),
		mem:     mem,
		router:  router,
		entity:  account.New("A1", svc, account.Options{StashLimit: 2}),
		acks:    acks,
		replyTo: runtime.Ref{Kind: "probe", ID: "saga-1"},
	}
}

func (f *fixture) create(t *testing.T) {
	t.Helper()
	require.NoError(t, f.entity.Receive(f.ctx, account.CreateBankAccount{
		CustomerNumber: "cust",
		AccountNumber:  "A1",
	}))
}

func (f *fixture) nextAck(t *testing.T) runtime.Message {
	t.Helper()
	select {
	case msg := <-f.acks:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for acknowledgement")
		return nil
	}
}

func (f *fixture) journalTypes(t *testing.T) []string {
	t.Helper()
	envelopes, err := f.mem.Replay(f.ctx, "account/A1", 0)
	require.NoError(t, err)
	types := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		types = append(types, env.Event.Type)
	}
	return types
}

func amt(s string) money.Amount {
	return money.MustParse(s)
}

func TestCreateAndQuery(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	state := f.entity.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.True(t, state.Balance.IsZero())
	assert.True(t, state.PendingBalance.IsZero())
	assert.Equal(t, "cust", state.CustomerNumber)

	assert.Equal(t, []string{account.EventBankAccountCreated}, f.journalTypes(t))
}

func TestCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.create(t)

	assert.Equal(t, []string{account.EventBankAccountCreated}, f.journalTypes(t))
}

func TestDepositStagesAndHolds(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID:    "t1",
		Op:      account.Deposit("A1", amt("10")),
		ReplyTo: f.replyTo,
	}))

	state := f.entity.State()
	assert.Equal(t, account.StatusInTransaction, state.Status)
	assert.True(t, state.Balance.IsZero())
	assert.True(t, state.PendingBalance.Equal(amt("10")))
	assert.Equal(t, "t1", state.CurrentTxID)

	assert.Equal(t, account.Ready{AccountNumber: "A1", TxID: "t1"}, f.nextAck(t))
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
	}, f.journalTypes(t))
}

func TestSecondTransactionIsStashed(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("10")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t2", Op: account.Withdraw("A1", amt("5")), ReplyTo: f.replyTo,
	}))

	// State unchanged, no new journal event, no ack for t2 yet.
	state := f.entity.State()
	assert.Equal(t, account.StatusInTransaction, state.Status)
	assert.Equal(t, "t1", state.CurrentTxID)
	assert.True(t, state.PendingBalance.Equal(amt("10")))
	assert.Equal(t, 1, state.StashDepth)
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
	}, f.journalTypes(t))
}

func TestCommitDrainsStash(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("10")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t2", Op: account.Withdraw("A1", amt("5")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t1", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	// t1 cleared, t2 picked up from the stash.
	state := f.entity.State()
	assert.Equal(t, account.StatusInTransaction, state.Status)
	assert.Equal(t, "t2", state.CurrentTxID)
	assert.True(t, state.Balance.Equal(amt("10")))
	assert.True(t, state.PendingBalance.Equal(amt("-5")))
	assert.Equal(t, 0, state.StashDepth)
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
		account.EventTransactionCleared,
		account.EventTransactionStarted,
	}, f.journalTypes(t))

	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t2", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))
	state = f.entity.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.True(t, state.Balance.Equal(amt("5")))
	assert.True(t, state.PendingBalance.IsZero())
}

func TestRollbackOfDeposit(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	// Bring the balance to 5 first.
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("5")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t1", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t3", Op: account.Deposit("A1", amt("11")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.RollbackTransaction{
		TxID: "t3", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	state := f.entity.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.True(t, state.Balance.Equal(amt("5")))
	assert.True(t, state.PendingBalance.IsZero())
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
		account.EventTransactionCleared,
		account.EventTransactionStarted,
		account.EventTransactionReversed,
	}, f.journalTypes(t))
}

func TestInsufficientFundsIsRejectedWithoutEvent(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Withdraw("A1", amt("1")), ReplyTo: f.replyTo,
	}))

	ack := f.nextAck(t)
	rejected, ok := ack.(account.Rejected)
	require.True(t, ok, "expected Rejected, got %T", ack)
	assert.Equal(t, account.ReasonInsufficientFunds, rejected.Reason)
	assert.Equal(t, "t1", rejected.TxID)

	state := f.entity.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.Equal(t, []string{account.EventBankAccountCreated}, f.journalTypes(t))
}

func TestStartOnUninitializedAccountIsRejected(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("1")), ReplyTo: f.replyTo,
	}))

	rejected, ok := f.nextAck(t).(account.Rejected)
	require.True(t, ok)
	assert.Equal(t, account.ReasonNotInitialized, rejected.Reason)
}

func TestStashOverflowRepliesBusy(t *testing.T) {
	f := newFixture(t) // StashLimit: 2
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("1")), ReplyTo: f.replyTo,
	}))
	_ = f.nextAck(t) // Ready for t1

	for _, txID := range []string{"t2", "t3"} {
		require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
			TxID: txID, Op: account.Deposit("A1", amt("1")), ReplyTo: f.replyTo,
		}))
	}

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t4", Op: account.Deposit("A1", amt("1")), ReplyTo: f.replyTo,
	}))

	rejected, ok := f.nextAck(t).(account.Rejected)
	require.True(t, ok)
	assert.Equal(t, account.ReasonBusy, rejected.Reason)
	assert.Equal(t, "t4", rejected.TxID)
}

func TestDuplicateStartForCurrentTransactionReacksReady(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	cmd := account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("10")), ReplyTo: f.replyTo,
	}
	require.NoError(t, f.entity.Receive(f.ctx, cmd))
	require.NoError(t, f.entity.Receive(f.ctx, cmd))

	assert.Equal(t, account.Ready{AccountNumber: "A1", TxID: "t1"}, f.nextAck(t))
	assert.Equal(t, account.Ready{AccountNumber: "A1", TxID: "t1"}, f.nextAck(t))
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
	}, f.journalTypes(t))
}

func TestDuplicateCommitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("10")), ReplyTo: f.replyTo,
	}))
	commit := account.CommitTransaction{TxID: "t1", AccountNumber: "A1", ReplyTo: f.replyTo}
	require.NoError(t, f.entity.Receive(f.ctx, commit))
	require.NoError(t, f.entity.Receive(f.ctx, commit))

	state := f.entity.State()
	assert.True(t, state.Balance.Equal(amt("10")))
	assert.Equal(t, []string{
		account.EventBankAccountCreated,
		account.EventTransactionStarted,
		account.EventTransactionCleared,
	}, f.journalTypes(t))
}

func TestCommitForUnknownTransactionIsAckedWithoutEffect(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "nope", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	_, ok := f.nextAck(t).(account.UnknownTransaction)
	assert.True(t, ok)
	assert.Equal(t, []string{account.EventBankAccountCreated}, f.journalTypes(t))
}

func TestCommitForDifferentTransactionLeavesStagedOneIntact(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("10")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "other", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	state := f.entity.State()
	assert.Equal(t, account.StatusInTransaction, state.Status)
	assert.Equal(t, "t1", state.CurrentTxID)
}

func TestCrashAndReplayReconstructsState(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	// Same history as the rollback scenario: commit of 5, then a reversed
	// deposit of 11.
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("5")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t1", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t3", Op: account.Deposit("A1", amt("11")), ReplyTo: f.replyTo,
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.RollbackTransaction{
		TxID: "t3", AccountNumber: "A1", ReplyTo: f.replyTo,
	}))

	before := f.entity.State()

	// A fresh instance fed only the journal must converge to the same
	// state.
	svc := runtime.Services{
		Ref:     runtime.Ref{Kind: account.Kind, ID: "A1"},
		Journal: f.mem,
		Router:  f.router,
		Clock:   runtime.SystemClock{},
	}
	recovered := account.New("A1", svc, account.Options{})
	envelopes, err := f.mem.Replay(f.ctx, "account/A1", 0)
	require.NoError(t, err)
	for _, env := range envelopes {
		require.NoError(t, recovered.Apply(env))
	}

	after := recovered.State()
	assert.Equal(t, before.Status, after.Status)
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.True(t, before.PendingBalance.Equal(after.PendingBalance))
	assert.Equal(t, before.CurrentTxID, after.CurrentTxID)

	// The stash is transient: replay starts with an empty one.
	assert.Equal(t, 0, after.StashDepth)
}

func TestReplayMidTransactionRestoresStagedDelta(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Withdraw("A1", amt("3")), ReplyTo: runtime.Ref{},
	}))

	// Balance 0 < 3: rejected, nothing staged.
	state := f.entity.State()
	assert.Equal(t, account.StatusActive, state.Status)

	// Fund the account, stage a withdrawal, then replay mid-transaction.
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t2", Op: account.Deposit("A1", amt("10")), ReplyTo: runtime.Ref{},
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t2", AccountNumber: "A1",
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t3", Op: account.Withdraw("A1", amt("4")), ReplyTo: runtime.Ref{},
	}))

	svc := runtime.Services{
		Ref:     runtime.Ref{Kind: account.Kind, ID: "A1"},
		Journal: f.mem,
		Router:  f.router,
		Clock:   runtime.SystemClock{},
	}
	recovered := account.New("A1", svc, account.Options{})
	envelopes, err := f.mem.Replay(f.ctx, "account/A1", 0)
	require.NoError(t, err)
	for _, env := range envelopes {
		require.NoError(t, recovered.Apply(env))
	}

	state = recovered.State()
	assert.Equal(t, account.StatusInTransaction, state.Status)
	assert.Equal(t, "t3", state.CurrentTxID)
	assert.True(t, state.Balance.Equal(amt("10")))
	assert.True(t, state.PendingBalance.Equal(amt("-4")))

	// The recovered instance can still commit the staged transaction.
	require.NoError(t, recovered.Receive(f.ctx, account.CommitTransaction{
		TxID: "t3", AccountNumber: "A1",
	}))
	state = recovered.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.True(t, state.Balance.Equal(amt("6")))
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	require.NoError(t, f.entity.Receive(f.ctx, account.StartTransaction{
		TxID: "t1", Op: account.Deposit("A1", amt("7.25")), ReplyTo: runtime.Ref{},
	}))
	require.NoError(t, f.entity.Receive(f.ctx, account.CommitTransaction{
		TxID: "t1", AccountNumber: "A1",
	}))

	snap, err := f.entity.SnapshotState()
	require.NoError(t, err)

	svc := runtime.Services{
		Ref:     runtime.Ref{Kind: account.Kind, ID: "A1"},
		Journal: f.mem,
		Router:  f.router,
		Clock:   runtime.SystemClock{},
	}
	restored := account.New("A1", svc, account.Options{})
	require.NoError(t, restored.RestoreSnapshot(snap))

	state := restored.State()
	assert.Equal(t, account.StatusActive, state.Status)
	assert.True(t, state.Balance.Equal(amt("7.25")))

	// Completed transaction ids survive the snapshot, keeping duplicate
	// commits idempotent after recovery.
	require.NoError(t, restored.Receive(f.ctx, account.CommitTransaction{
		TxID: "t1", AccountNumber: "A1",
	}))
	state = restored.State()
	assert.True(t, state.Balance.Equal(amt("7.25")))
}

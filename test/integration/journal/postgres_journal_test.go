package journal_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"bank-saga/internal/infrastructure/journal"
	journalpg "bank-saga/internal/infrastructure/journal/postgres"
	"bank-saga/test/integration/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJournal(t *testing.T) *journalpg.Journal {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	_, connStr := testenv.SetupPostgresContainer(t)
	pool := testenv.SetupPool(t, connStr)

	j, err := journalpg.NewJournalWithPool(context.Background(), pool)
	require.NoError(t, err)
	return j
}

func TestPostgresJournalAppendAndReplay(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	last, err := j.Append(ctx, "account/A1",
		journal.Event{Type: "BankAccountCreated", Data: json.RawMessage(`{"accountNumber":"A1"}`)},
		journal.Event{Type: "TransactionStarted", Data: json.RawMessage(`{"txId":"t1"}`)},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	envelopes, err := j.Replay(ctx, "account/A1", 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 2)
	assert.Equal(t, int64(1), envelopes[0].Offset)
	assert.Equal(t, "BankAccountCreated", envelopes[0].Event.Type)
	assert.JSONEq(t, `{"accountNumber":"A1"}`, string(envelopes[0].Event.Data))
	assert.Equal(t, int64(2), envelopes[1].Offset)

	// Replay from a mid-stream offset skips what the snapshot covers.
	envelopes, err = j.Replay(ctx, "account/A1", 1)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "TransactionStarted", envelopes[0].Event.Type)
}

func TestPostgresJournalKeysAreIndependent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	_, err := j.Append(ctx, "account/A1", journal.Event{Type: "E", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	envelopes, err := j.Replay(ctx, "account/A2", 0)
	require.NoError(t, err)
	assert.Empty(t, envelopes)

	last, err := j.Append(ctx, "account/A2", journal.Event{Type: "E", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestPostgresJournalConcurrentAppendsStayOrdered(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := j.Append(ctx, "hot", journal.Event{Type: "E", Data: json.RawMessage(`{}`)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	envelopes, err := j.Replay(ctx, "hot", 0)
	require.NoError(t, err)
	require.Len(t, envelopes, writers*perWriter)
	for i, env := range envelopes {
		assert.Equal(t, int64(i+1), env.Offset)
	}
}

func TestPostgresJournalSnapshotRoundTrip(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	_, found, err := j.LoadSnapshot(ctx, "account/A1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, j.SaveSnapshot(ctx, "account/A1", journal.Snapshot{
		Offset: 3,
		State:  json.RawMessage(`{"balance":"10.5"}`),
	}))

	// A second save overwrites the first.
	require.NoError(t, j.SaveSnapshot(ctx, "account/A1", journal.Snapshot{
		Offset: 7,
		State:  json.RawMessage(`{"balance":"12"}`),
	}))

	snap, found, err := j.LoadSnapshot(ctx, "account/A1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7), snap.Offset)
	assert.JSONEq(t, `{"balance":"12"}`, string(snap.State))
}

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerContract exercises behaviour every DeliveryLedger must share.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) DeliveryLedger) {
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("lookup unknown key", func(t *testing.T) {
		l := newLedger(t)
		rec, err := l.Lookup(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("commit then lookup", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Commit(ctx, DeliveryRecord{
			IntentID:   "k1",
			Status:     StatusSent,
			DeliveryID: "<id-1@notifyd>",
			Transport:  "smtp",
			TemplateID: "vehicle_status",
			Recipients: []string{"driver@example.com"},
			Subject:    "Véhicule refusé",
			Attempts:   2,
			CreatedAt:  base,
			UpdatedAt:  base,
		}))

		rec, err := l.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, StatusSent, rec.Status)
		assert.Equal(t, "<id-1@notifyd>", rec.DeliveryID)
		assert.Equal(t, []string{"driver@example.com"}, rec.Recipients)
		assert.Equal(t, 2, rec.Attempts)
		assert.True(t, base.Equal(rec.UpdatedAt))
	})

	t.Run("sent record is final", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "k2", Status: StatusSent, DeliveryID: "first", Attempts: 1}))
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "k2", Status: StatusExhausted, Reason: "permanent", Attempts: 1}))

		rec, err := l.Lookup(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, StatusSent, rec.Status)
		assert.Equal(t, "first", rec.DeliveryID)
	})

	t.Run("exhausted record can be replaced", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "k3", Status: StatusExhausted, Reason: "retries_exhausted", Attempts: 5}))
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "k3", Status: StatusSent, DeliveryID: "later", Attempts: 1}))

		rec, err := l.Lookup(ctx, "k3")
		require.NoError(t, err)
		assert.Equal(t, StatusSent, rec.Status)
		assert.Equal(t, "later", rec.DeliveryID)
		assert.Empty(t, rec.Reason)
	})

	t.Run("duplicate attempt number conflicts", func(t *testing.T) {
		l := newLedger(t)
		a := DeliveryAttempt{IntentID: "k4", AttemptNumber: 1, Outcome: OutcomeTransientFailure, Error: "421", Timestamp: base}
		require.NoError(t, l.RecordAttempt(ctx, a))
		err := l.RecordAttempt(ctx, a)
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		l := newLedger(t)
		for i, key := range []string{"a", "b", "c"} {
			ts := base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: key, Status: StatusSent, CreatedAt: ts, UpdatedAt: ts}))
		}

		recs, err := l.ListDeliveries(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "c", recs[0].IntentID)
		assert.Equal(t, "b", recs[1].IntentID)
	})

	t.Run("prune drops old rows", func(t *testing.T) {
		l := newLedger(t)
		old := base.Add(-48 * time.Hour)
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "old", Status: StatusSent, CreatedAt: old, UpdatedAt: old}))
		require.NoError(t, l.RecordAttempt(ctx, DeliveryAttempt{IntentID: "old", AttemptNumber: 1, Outcome: OutcomeSent, Timestamp: old}))
		require.NoError(t, l.Commit(ctx, DeliveryRecord{IntentID: "new", Status: StatusSent, CreatedAt: base, UpdatedAt: base}))

		n, err := l.Prune(ctx, base.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		rec, err := l.Lookup(ctx, "old")
		require.NoError(t, err)
		assert.Nil(t, rec)
		rec, err = l.Lookup(ctx, "new")
		require.NoError(t, err)
		assert.NotNil(t, rec)

		// The attempt row went with the record, so attempt 1 can be written again.
		assert.NoError(t, l.RecordAttempt(ctx, DeliveryAttempt{IntentID: "old", AttemptNumber: 1, Outcome: OutcomeSent, Timestamp: base}))
	})

	t.Run("claim is exclusive until released", func(t *testing.T) {
		l := newLedger(t)
		ok, err := l.Claim(ctx, "k", "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.Claim(ctx, "k", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second owner won a held claim")

		ok, err = l.Claim(ctx, "other", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "claims are per key")

		// Renewal by the holder succeeds.
		ok, err = l.Claim(ctx, "k", "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// Only the holder can release.
		require.NoError(t, l.Release(ctx, "k", "worker-b"))
		ok, err = l.Claim(ctx, "k", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, l.Release(ctx, "k", "worker-a"))
		ok, err = l.Claim(ctx, "k", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired claim can be taken over", func(t *testing.T) {
		l := newLedger(t)
		ok, err := l.Claim(ctx, "k", "crashed", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(5 * time.Millisecond)
		ok, err = l.Claim(ctx, "k", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("prune drops expired claims", func(t *testing.T) {
		l := newLedger(t)
		ok, err := l.Claim(ctx, "k", "crashed", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(5 * time.Millisecond)

		_, err = l.Prune(ctx, base)
		require.NoError(t, err)
		ok, err = l.Claim(ctx, "k", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryDeliveryLedger(t *testing.T) {
	runLedgerContract(t, func(*testing.T) DeliveryLedger { return NewMemoryDeliveryLedger() })
}

func TestSQLiteDeliveryLedger(t *testing.T) {
	runLedgerContract(t, func(t *testing.T) DeliveryLedger { return NewSQLiteDeliveryLedger(newTestDB(t)) })
}

func TestMemoryDeliveryLedger_AttemptsInOrder(t *testing.T) {
	l := NewMemoryDeliveryLedger()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, l.RecordAttempt(ctx, DeliveryAttempt{IntentID: "k", AttemptNumber: i, Outcome: OutcomeTransientFailure}))
	}

	attempts := l.Attempts("k")
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
}

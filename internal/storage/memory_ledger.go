package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryDeliveryLedger is a process-local DeliveryLedger. Its contents are
// lost on restart.
type MemoryDeliveryLedger struct {
	mu       sync.RWMutex
	records  map[string]DeliveryRecord
	attempts map[string][]DeliveryAttempt
	claims   map[string]claim
}

type claim struct {
	owner   string
	expires time.Time
}

// NewMemoryDeliveryLedger returns an empty in-memory ledger.
func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records:  make(map[string]DeliveryRecord),
		attempts: make(map[string][]DeliveryAttempt),
		claims:   make(map[string]claim),
	}
}

// Claim implements DeliveryLedger.
func (l *MemoryDeliveryLedger) Claim(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if c, ok := l.claims[key]; ok && c.owner != owner && now.Before(c.expires) {
		return false, nil
	}
	l.claims[key] = claim{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Release implements DeliveryLedger.
func (l *MemoryDeliveryLedger) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.claims[key]; ok && c.owner == owner {
		delete(l.claims, key)
	}
	return nil
}

// Lookup implements DeliveryLedger.
func (l *MemoryDeliveryLedger) Lookup(_ context.Context, key string) (*DeliveryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[key]
	if !ok {
		return nil, nil
	}
	rec.Recipients = slices.Clone(rec.Recipients)
	return &rec, nil
}

// RecordAttempt implements DeliveryLedger.
func (l *MemoryDeliveryLedger) RecordAttempt(_ context.Context, attempt DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range l.attempts[attempt.IntentID] {
		if a.AttemptNumber == attempt.AttemptNumber {
			return fmt.Errorf("attempt %d for %s: %w", attempt.AttemptNumber, attempt.IntentID, ErrConflict)
		}
	}
	l.attempts[attempt.IntentID] = append(l.attempts[attempt.IntentID], attempt)
	return nil
}

// Commit implements DeliveryLedger.
func (l *MemoryDeliveryLedger) Commit(_ context.Context, record DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := l.records[record.IntentID]
	if ok && existing.Status == StatusSent {
		return nil
	}
	if ok {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	record.Recipients = slices.Clone(record.Recipients)
	l.records[record.IntentID] = record
	return nil
}

// ListDeliveries implements DeliveryLedger.
func (l *MemoryDeliveryLedger) ListDeliveries(_ context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.RLock()
	out := make([]DeliveryRecord, 0, len(l.records))
	for _, rec := range l.records {
		rec.Recipients = slices.Clone(rec.Recipients)
		out = append(out, rec)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].IntentID < out[j].IntentID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Attempts returns the attempts recorded for key in insertion order.
func (l *MemoryDeliveryLedger) Attempts(key string) []DeliveryAttempt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.attempts[key])
}

// Prune implements DeliveryLedger.
func (l *MemoryDeliveryLedger) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, c := range l.claims {
		if !now.Before(c.expires) {
			delete(l.claims, key)
		}
	}

	var removed int64
	for key, rec := range l.records {
		if rec.UpdatedAt.Before(before) {
			delete(l.records, key)
			removed++
		}
	}
	for key, attempts := range l.attempts {
		kept := attempts[:0]
		for _, a := range attempts {
			if !a.Timestamp.Before(before) {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = kept
	}
	return removed, nil
}

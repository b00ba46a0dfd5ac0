package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteDeliveryLedger implements DeliveryLedger backed by SQLite.
type SQLiteDeliveryLedger struct {
	db *sql.DB
}

// NewSQLiteDeliveryLedger returns a ledger over an already migrated database.
func NewSQLiteDeliveryLedger(db *sql.DB) *SQLiteDeliveryLedger {
	return &SQLiteDeliveryLedger{db: db}
}

const deliveryColumns = `intent_id, status, reason, delivery_id, transport, template_id,
	recipients, subject, attempts, error_msg, created_at, updated_at`

// Claim implements DeliveryLedger. expires_at holds Unix nanoseconds.
func (l *SQLiteDeliveryLedger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO delivery_claims (intent_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			owner      = excluded.owner,
			expires_at = excluded.expires_at
		WHERE delivery_claims.expires_at <= ? OR delivery_claims.owner = excluded.owner`,
		key, owner, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("claiming delivery %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming delivery %s: %w", key, err)
	}
	return n == 1, nil
}

// Release implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) Release(ctx context.Context, key, owner string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM delivery_claims WHERE intent_id = ? AND owner = ?`, key, owner); err != nil {
		return fmt.Errorf("releasing delivery %s: %w", key, err)
	}
	return nil
}

// Lookup implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) Lookup(ctx context.Context, key string) (*DeliveryRecord, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE intent_id = ?`, key)
	rec, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up delivery %s: %w", key, err)
	}
	return rec, nil
}

// RecordAttempt implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) RecordAttempt(ctx context.Context, a DeliveryAttempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (intent_id, attempt_number, outcome, error, attempted_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.IntentID, a.AttemptNumber, string(a.Outcome), a.Error, a.Timestamp.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("attempt %d for %s: %w", a.AttemptNumber, a.IntentID, ErrConflict)
		}
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// Commit implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) Commit(ctx context.Context, r DeliveryRecord) error {
	recipients, err := json.Marshal(r.Recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			status      = excluded.status,
			reason      = excluded.reason,
			delivery_id = excluded.delivery_id,
			transport   = excluded.transport,
			template_id = excluded.template_id,
			recipients  = excluded.recipients,
			subject     = excluded.subject,
			attempts    = excluded.attempts,
			error_msg   = excluded.error_msg,
			updated_at  = excluded.updated_at
		WHERE deliveries.status <> 'sent'`,
		r.IntentID, string(r.Status), r.Reason, r.DeliveryID, r.Transport, r.TemplateID,
		string(recipients), r.Subject, r.Attempts, r.ErrorMsg, r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("committing delivery %s: %w", r.IntentID, err)
	}
	return nil
}

// ListDeliveries implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) ListDeliveries(ctx context.Context, limit int) (_ []DeliveryRecord, err error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		ORDER BY updated_at DESC, intent_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	var out []DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}
	return out, nil
}

// Prune implements DeliveryLedger.
func (l *SQLiteDeliveryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC()
	if _, err := l.db.ExecContext(ctx, `DELETE FROM delivery_claims WHERE expires_at <= ?`, time.Now().UnixNano()); err != nil {
		return 0, fmt.Errorf("pruning expired claims: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE attempted_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("pruning delivery attempts: %w", err)
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM deliveries WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned deliveries: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(s rowScanner) (*DeliveryRecord, error) {
	var (
		rec        DeliveryRecord
		status     string
		recipients string
	)
	if err := s.Scan(&rec.IntentID, &status, &rec.Reason, &rec.DeliveryID, &rec.Transport,
		&rec.TemplateID, &recipients, &rec.Subject, &rec.Attempts, &rec.ErrorMsg,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = DeliveryStatus(status)
	if err := json.Unmarshal([]byte(recipients), &rec.Recipients); err != nil {
		return nil, fmt.Errorf("decoding recipients: %w", err)
	}
	return &rec, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// OpenPostgres opens a gorm handle for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping postgres: %w", err), sqlDB.Close())
	}
	return db, nil
}

type deliveryModel struct {
	IntentID   string    `gorm:"column:intent_id;primaryKey"`
	Status     string    `gorm:"column:status;not null"`
	Reason     string    `gorm:"column:reason;not null;default:''"`
	DeliveryID string    `gorm:"column:delivery_id;not null;default:''"`
	Transport  string    `gorm:"column:transport;not null;default:''"`
	TemplateID string    `gorm:"column:template_id;not null;default:''"`
	Recipients string    `gorm:"column:recipients;type:jsonb;not null"`
	Subject    string    `gorm:"column:subject;not null;default:''"`
	Attempts   int       `gorm:"column:attempts;not null"`
	ErrorMsg   string    `gorm:"column:error_msg;not null;default:''"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;index"`
}

func (deliveryModel) TableName() string { return "notifyd_deliveries" }

type attemptModel struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	IntentID      string    `gorm:"column:intent_id;not null;uniqueIndex:idx_notifyd_attempt_number"`
	AttemptNumber int       `gorm:"column:attempt_number;not null;uniqueIndex:idx_notifyd_attempt_number"`
	Outcome       string    `gorm:"column:outcome;not null"`
	Error         string    `gorm:"column:error;not null;default:''"`
	AttemptedAt   time.Time `gorm:"column:attempted_at;not null;index"`
}

func (attemptModel) TableName() string { return "notifyd_delivery_attempts" }

type claimModel struct {
	IntentID  string    `gorm:"column:intent_id;primaryKey"`
	Owner     string    `gorm:"column:owner;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (claimModel) TableName() string { return "notifyd_delivery_claims" }

// PostgresDeliveryLedger implements DeliveryLedger on PostgreSQL. Several
// notifyd processes may share one database: a key is sent only under a
// claim row won by an atomic conditional upsert.
type PostgresDeliveryLedger struct {
	db *gorm.DB
}

// NewPostgresDeliveryLedger migrates the ledger tables and returns the ledger.
func NewPostgresDeliveryLedger(ctx context.Context, db *gorm.DB) (*PostgresDeliveryLedger, error) {
	if err := db.WithContext(ctx).AutoMigrate(&deliveryModel{}, &attemptModel{}, &claimModel{}); err != nil {
		return nil, fmt.Errorf("migrating ledger tables: %w", err)
	}
	return &PostgresDeliveryLedger{db: db}, nil
}

// Claim implements DeliveryLedger.
func (l *PostgresDeliveryLedger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	row := claimModel{IntentID: key, Owner: owner, ExpiresAt: now.Add(ttl)}
	table := row.TableName()
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{clause.Or(
			clause.Lte{Column: clause.Column{Table: table, Name: "expires_at"}, Value: now},
			clause.Eq{Column: clause.Column{Table: table, Name: "owner"}, Value: owner},
		)}},
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("claiming delivery %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release implements DeliveryLedger.
func (l *PostgresDeliveryLedger) Release(ctx context.Context, key, owner string) error {
	err := l.db.WithContext(ctx).
		Where("intent_id = ? AND owner = ?", key, owner).
		Delete(&claimModel{}).Error
	if err != nil {
		return fmt.Errorf("releasing delivery %s: %w", key, err)
	}
	return nil
}

// Lookup implements DeliveryLedger.
func (l *PostgresDeliveryLedger) Lookup(ctx context.Context, key string) (*DeliveryRecord, error) {
	var row deliveryModel
	err := l.db.WithContext(ctx).Where("intent_id = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up delivery %s: %w", key, err)
	}
	return row.toRecord()
}

// RecordAttempt implements DeliveryLedger.
func (l *PostgresDeliveryLedger) RecordAttempt(ctx context.Context, a DeliveryAttempt) error {
	row := attemptModel{
		IntentID:      a.IntentID,
		AttemptNumber: a.AttemptNumber,
		Outcome:       string(a.Outcome),
		Error:         a.Error,
		AttemptedAt:   a.Timestamp.UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt %d for %s: %w", a.AttemptNumber, a.IntentID, ErrConflict)
		}
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// Commit implements DeliveryLedger.
func (l *PostgresDeliveryLedger) Commit(ctx context.Context, r DeliveryRecord) error {
	row, err := newDeliveryModel(r)
	if err != nil {
		return err
	}
	err = l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "reason", "delivery_id", "transport", "template_id",
			"recipients", "subject", "attempts", "error_msg", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: row.TableName(), Name: "status"}, Value: string(StatusSent)},
		}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("committing delivery %s: %w", r.IntentID, err)
	}
	return nil
}

// ListDeliveries implements DeliveryLedger.
func (l *PostgresDeliveryLedger) ListDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows []deliveryModel
	if err := l.db.WithContext(ctx).
		Order("updated_at DESC").
		Order("intent_id").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}

	out := make([]DeliveryRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Prune implements DeliveryLedger.
func (l *PostgresDeliveryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at <= ?", time.Now().UTC()).Delete(&claimModel{}).Error; err != nil {
			return fmt.Errorf("pruning expired claims: %w", err)
		}
		if err := tx.Where("attempted_at < ?", before.UTC()).Delete(&attemptModel{}).Error; err != nil {
			return fmt.Errorf("pruning delivery attempts: %w", err)
		}
		res := tx.Where("updated_at < ?", before.UTC()).Delete(&deliveryModel{})
		if res.Error != nil {
			return fmt.Errorf("pruning deliveries: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func newDeliveryModel(r DeliveryRecord) (deliveryModel, error) {
	recipients, err := json.Marshal(r.Recipients)
	if err != nil {
		return deliveryModel{}, fmt.Errorf("encoding recipients: %w", err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	return deliveryModel{
		IntentID:   r.IntentID,
		Status:     string(r.Status),
		Reason:     r.Reason,
		DeliveryID: r.DeliveryID,
		Transport:  r.Transport,
		TemplateID: r.TemplateID,
		Recipients: string(recipients),
		Subject:    r.Subject,
		Attempts:   r.Attempts,
		ErrorMsg:   r.ErrorMsg,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

func (m deliveryModel) toRecord() (*DeliveryRecord, error) {
	rec := &DeliveryRecord{
		IntentID:   m.IntentID,
		Status:     DeliveryStatus(m.Status),
		Reason:     m.Reason,
		DeliveryID: m.DeliveryID,
		Transport:  m.Transport,
		TemplateID: m.TemplateID,
		Subject:    m.Subject,
		Attempts:   m.Attempts,
		ErrorMsg:   m.ErrorMsg,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(m.Recipients), &rec.Recipients); err != nil {
		return nil, fmt.Errorf("decoding recipients for %s: %w", m.IntentID, err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

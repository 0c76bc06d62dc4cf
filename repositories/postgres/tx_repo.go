package postgres

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	goerrors "errors"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUpdateRetries = 3

type txModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Category      string    `gorm:"column:category;not null"`
	Status        string    `gorm:"column:status;not null;index:idx_transactions_status_created,priority:1"`
	Description   string    `gorm:"column:description;not null"`
	Outcome       *string   `gorm:"column:outcome;type:text"`
	FailureReason string    `gorm:"column:failure_reason;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_transactions_status_created,priority:2"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
	Version       int64     `gorm:"column:version;not null"`
}

func (txModel) TableName() string { return "transactions" }

func txModelFromRecord(rec models.TransactionRecord) txModel {
	row := txModel{
		ID:            rec.ID,
		Category:      string(rec.Category),
		Status:        string(rec.Status),
		Description:   rec.Description,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Version:       rec.Version,
	}
	if len(rec.Outcome) > 0 {
		s := string(rec.Outcome)
		row.Outcome = &s
	}
	return row
}

func (m txModel) toRecord() models.TransactionRecord {
	rec := models.TransactionRecord{
		ID:            m.ID,
		Category:      models.ParseCategory(m.Category),
		Status:        models.Status(m.Status),
		Description:   m.Description,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		Version:       m.Version,
	}
	if m.Outcome != nil {
		rec.Outcome = json.RawMessage(*m.Outcome)
	}
	return rec
}

// TxRepository stores transaction records in Postgres through gorm.
type TxRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewTxRepository(db *gorm.DB, logger *zap.Logger) *TxRepository {
	return &TxRepository{db: db, logger: logger, now: time.Now}
}

func (r *TxRepository) Put(ctx context.Context, rec models.TransactionRecord) error {
	if err := rec.ValidateNew(); err != nil {
		return err
	}

	row := txModelFromRecord(rec)
	err := r.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return r.logError("failed to insert transaction", err, rec.ID)
	}

	existing, getErr := r.Get(ctx, rec.ID)
	if getErr != nil {
		return getErr
	}
	if existing.SameIdentity(rec) {
		return nil
	}
	return errors.ConflictErr(rec.ID, err)
}

func (r *TxRepository) Get(ctx context.Context, id string) (models.TransactionRecord, error) {
	var row txModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return models.TransactionRecord{}, errors.NotFoundErr(id)
		}
		return models.TransactionRecord{}, r.logError("failed to get transaction", err, id)
	}
	return row.toRecord(), nil
}

func (r *TxRepository) Update(ctx context.Context, id string, u models.StatusUpdate) (models.TransactionRecord, bool, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return models.TransactionRecord{}, false, err
		}
		next, changed, err := cur.Apply(u, r.now())
		if err != nil || !changed {
			return next, false, err
		}

		row := txModelFromRecord(next)
		res := r.db.WithContext(ctx).
			Model(&txModel{}).
			Where("id = ? AND version = ?", id, cur.Version).
			Updates(map[string]any{
				"status":         row.Status,
				"outcome":        row.Outcome,
				"failure_reason": row.FailureReason,
				"updated_at":     row.UpdatedAt,
				"version":        row.Version,
			})
		if res.Error != nil {
			return models.TransactionRecord{}, false, r.logError("failed to update transaction", res.Error, id)
		}
		if res.RowsAffected == 1 {
			return next, true, nil
		}
		r.logger.Debug("lost update race, retrying", zap.String("tx_id", id), zap.Int("attempt", attempt+1))
	}
	return models.TransactionRecord{}, false, errors.E(errors.Conflict, "concurrent updates on "+id, nil)
}

func (r *TxRepository) ListPending(ctx context.Context) ([]models.TransactionRecord, error) {
	var rows []txModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(models.StatusPending)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("failed to list pending transactions", err, "")
	}
	out := make([]models.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (r *TxRepository) PurgeResolvedOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := r.now().Add(-d).UTC()
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{string(models.StatusSucceeded), string(models.StatusFailed)}, cutoff).
		Delete(&txModel{})
	if res.Error != nil {
		return 0, r.logError("failed to purge transactions", res.Error, "")
	}
	return res.RowsAffected, nil
}

func (r *TxRepository) logError(msg string, err error, txID string) error {
	fields := []zap.Field{zap.Error(err)}
	if txID != "" {
		fields = append(fields, zap.String("tx_id", txID))
	}
	r.logger.Error(msg, fields...)
	return errors.E(errors.Unavailable, msg, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return goerrors.As(err, &pgErr) && pgErr.Code == "23505"
}

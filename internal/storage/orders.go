// Package storage implements the persistence port over Postgres. The
// ingestion core only ever sees bounded batches and summed outcomes; row
// identity and upsert atomicity are this layer's business.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/orderkey"
)

// GormStore persists orders and the upload audit trail.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// AutoMigrate creates or updates the tables this store owns.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&OrderModel{}, &UploadLogModel{})
}

// SaveBatch upserts one batch of sanitized records keyed by order number.
// Per-record problems (missing or malformed key, row-level write failure)
// are counted as failed with a FieldError; only an infrastructure fault
// fails the batch as a whole, and the partial result is still returned.
func (s *GormStore) SaveBatch(ctx context.Context, records []models.IngestRecord) (models.BatchResult, error) {
	var res models.BatchResult
	if len(records) == 0 {
		return res, nil
	}

	keys := make([]string, 0, len(records))
	for _, rec := range records {
		if k := rec.Key(); orderkey.ValidateOne(k) {
			keys = append(keys, k)
		}
	}

	existing := make(map[string]*OrderModel, len(keys))
	if len(keys) > 0 {
		var rows []OrderModel
		if err := s.db.WithContext(ctx).Where("final_order IN ?", keys).Find(&rows).Error; err != nil {
			res.Failed = len(records)
			return res, fmt.Errorf("load existing orders: %w", err)
		}
		for i := range rows {
			existing[rows[i].FinalOrder] = &rows[i]
		}
	}

	pending := make(map[string]*OrderModel)
	var creates []*OrderModel

	for i, rec := range records {
		key := rec.Key()
		if key == "" {
			res.Failed++
			res.Errors = append(res.Errors, models.FieldError{
				Row: i + 1, Field: models.KeyField, Reason: "missing order number",
			})
			continue
		}
		if !orderkey.ValidateOne(key) {
			res.Failed++
			res.Errors = append(res.Errors, models.FieldError{
				Row: i + 1, Field: models.KeyField, Reason: "malformed order number",
			})
			continue
		}

		if m, ok := existing[key]; ok {
			if !applyRecord(m, rec) {
				res.Skipped++
				continue
			}
			if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
				res.Failed++
				res.Errors = append(res.Errors, models.FieldError{
					Row: i + 1, Field: models.KeyField, Reason: err.Error(),
				})
				continue
			}
			res.Updated++
			continue
		}

		// A key repeated inside one batch folds into its pending insert.
		if m, ok := pending[key]; ok {
			applyRecord(m, rec)
			res.Updated++
			continue
		}

		m := &OrderModel{}
		applyRecord(m, rec)
		pending[key] = m
		creates = append(creates, m)
	}

	if len(creates) > 0 {
		if err := s.db.WithContext(ctx).Create(&creates).Error; err != nil {
			res.Failed += len(creates)
			return res, fmt.Errorf("insert orders: %w", err)
		}
		res.Created += len(creates)
	}

	return res, nil
}

// FindByNumbers returns identity refs for the stored orders matching keys,
// most recent first. Callers are expected to batch; oversized key lists are
// a programming error, not something to silently split here.
func (s *GormStore) FindByNumbers(ctx context.Context, keys []string) ([]models.OrderRef, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > orderkey.LookupBatchSize {
		return nil, fmt.Errorf("key list exceeds lookup batch size (%d > %d)", len(keys), orderkey.LookupBatchSize)
	}

	var rows []OrderModel
	err := s.db.WithContext(ctx).
		Select("id", "final_order", "updated_at").
		Where("final_order IN ?", keys).
		Order("updated_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find orders by number: %w", err)
	}

	refs := make([]models.OrderRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, models.OrderRef{
			ID:         r.ID,
			FinalOrder: r.FinalOrder,
			UpdatedAt:  r.UpdatedAt.UnixMilli(),
		})
	}
	return refs, nil
}

// WriteUploadLog appends one audit row for an upload attempt.
func (s *GormStore) WriteUploadLog(ctx context.Context, entry *models.UploadLog) error {
	model := &UploadLogModel{
		ID:           entry.ID,
		UserID:       entry.UserID,
		FileName:     entry.FileName,
		SuccessCount: entry.SuccessCount,
		FailedCount:  entry.FailedCount,
		Results:      entry.Results,
		CreatedAt:    entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("write upload log: %w", err)
	}
	s.logger.Debug("upload log written",
		zap.String("id", entry.ID),
		zap.String("fileName", entry.FileName),
		zap.Int("success", entry.SuccessCount),
		zap.Int("failed", entry.FailedCount))
	return nil
}

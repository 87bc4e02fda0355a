package database

import (
	"context"
	"fmt"

	"despeed/internal/domain"

	"gorm.io/gorm"
)

const defaultHistoryLimit = 20

// HistoryStore persists one row per account outcome.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record implements the orchestrator's outcome sink.
func (s *HistoryStore) Record(ctx context.Context, outcome domain.AccountOutcome, credential domain.Credential) error {
	record := domain.NewRunHistory(outcome, credential)
	return s.Save(ctx, &record)
}

func (s *HistoryStore) Save(ctx context.Context, record *domain.RunHistory) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("database: save run history: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]domain.RunHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var records []domain.RunHistory
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("database: load run history: %w", err)
	}
	return records, nil
}

// SuccessRate returns the number of successful and total records for a token fingerprint.
func (s *HistoryStore) SuccessRate(ctx context.Context, fingerprint string) (succeeded, total int64, err error) {
	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&domain.RunHistory{}).Where("token_fingerprint = ?", fingerprint)
	}

	if err := query().Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("database: count run history: %w", err)
	}
	if err := query().Where("success = ?", true).Count(&succeeded).Error; err != nil {
		return 0, 0, fmt.Errorf("database: count successful runs: %w", err)
	}
	return succeeded, total, nil
}

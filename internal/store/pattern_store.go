package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// PatternStore persists cached interaction patterns an Action.UsePattern
// can reference, supplemented from the original daemon's pattern cache.
type PatternStore interface {
	Create(ctx context.Context, p *Pattern) error
	GetByID(ctx context.Context, id string) (*Pattern, error)
	RecordOutcome(ctx context.Context, id string, success bool) error
	List(ctx context.Context, patternType string, opts ListOptions) ([]Pattern, int64, error)
}

type gormPatternStore struct {
	db *gorm.DB
}

// NewPatternStore returns a PatternStore backed by db.
func NewPatternStore(db *gorm.DB) PatternStore {
	return &gormPatternStore{db: db}
}

func (s *gormPatternStore) Create(ctx context.Context, p *Pattern) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("patterns: create: %w", err)
	}
	return nil
}

func (s *gormPatternStore) GetByID(ctx context.Context, id string) (*Pattern, error) {
	var p Pattern
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patterns: get by id: %w", err)
	}
	return &p, nil
}

// RecordOutcome increments success_count or failure_count for a pattern
// application, avoiding a read-modify-write round trip.
func (s *gormPatternStore) RecordOutcome(ctx context.Context, id string, success bool) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}
	result := s.db.WithContext(ctx).Model(&Pattern{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return fmt.Errorf("patterns: record outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormPatternStore) List(ctx context.Context, patternType string, opts ListOptions) ([]Pattern, int64, error) {
	q := s.db.WithContext(ctx).Model(&Pattern{})
	if patternType != "" {
		q = q.Where("pattern_type = ?", patternType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("patterns: list count: %w", err)
	}

	var patterns []Pattern
	if err := q.Limit(opts.Limit).Offset(opts.Offset).Order("created_at ASC").Find(&patterns).Error; err != nil {
		return nil, 0, fmt.Errorf("patterns: list: %w", err)
	}
	return patterns, total, nil
}

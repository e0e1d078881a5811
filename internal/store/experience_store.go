package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/fleetmind/acpd/internal/rl"
)

// ExperienceStore persists rl.Experience rows for an algorithm, so the
// replay buffer survives process restarts (§6, "persist_experiences").
type ExperienceStore interface {
	Record(ctx context.Context, algorithm string, exp rl.Experience) error
	Sample(ctx context.Context, algorithm string, n int) ([]rl.Experience, error)
	Count(ctx context.Context, algorithm string) (int64, error)
	Prune(ctx context.Context, algorithm string, keepMostRecent int) error
}

type gormExperienceStore struct {
	db *gorm.DB
}

// NewExperienceStore returns an ExperienceStore backed by db.
func NewExperienceStore(db *gorm.DB) ExperienceStore {
	return &gormExperienceStore{db: db}
}

// Record encodes exp's State/Action/NextState to JSON and inserts one row.
func (s *gormExperienceStore) Record(ctx context.Context, algorithm string, exp rl.Experience) error {
	row, err := toExperienceRow(algorithm, exp)
	if err != nil {
		return fmt.Errorf("experiences: encode: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("experiences: create: %w", err)
	}
	return nil
}

// Sample draws n rows uniformly at random for algorithm and decodes them
// back into rl.Experience values. Rows that fail to decode are skipped.
func (s *gormExperienceStore) Sample(ctx context.Context, algorithm string, n int) ([]rl.Experience, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Experience{}).Where("algorithm = ?", algorithm).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("experiences: count: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	var rows []Experience
	if err := s.db.WithContext(ctx).
		Where("algorithm = ?", algorithm).
		Order("RANDOM()").
		Limit(n).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("experiences: sample: %w", err)
	}

	out := make([]rl.Experience, 0, len(rows))
	for _, row := range rows {
		exp, err := fromExperienceRow(row)
		if err != nil {
			continue
		}
		out = append(out, exp)
	}
	return out, nil
}

// Count reports how many experience rows are stored for algorithm.
func (s *gormExperienceStore) Count(ctx context.Context, algorithm string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Experience{}).Where("algorithm = ?", algorithm).Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("experiences: count: %w", err)
	}
	return total, nil
}

// Prune deletes all but the keepMostRecent newest rows for algorithm,
// mirroring the in-memory ring buffer's fixed-capacity eviction.
func (s *gormExperienceStore) Prune(ctx context.Context, algorithm string, keepMostRecent int) error {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Experience{}).
		Where("algorithm = ?", algorithm).
		Order("created_at DESC").
		Offset(keepMostRecent).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("experiences: prune select: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Experience{}).Error; err != nil {
		return fmt.Errorf("experiences: prune delete: %w", err)
	}
	return nil
}

func toExperienceRow(algorithm string, exp rl.Experience) (Experience, error) {
	state, err := json.Marshal(exp.State)
	if err != nil {
		return Experience{}, err
	}
	action, err := json.Marshal(exp.Action)
	if err != nil {
		return Experience{}, err
	}

	row := Experience{
		Algorithm: algorithm,
		State:     string(state),
		Action:    string(action),
		Reward:    exp.Reward,
		Done:      exp.Done,
	}
	if exp.NextState != nil {
		next, err := json.Marshal(exp.NextState)
		if err != nil {
			return Experience{}, err
		}
		s := string(next)
		row.NextState = &s
	}
	return row, nil
}

func fromExperienceRow(row Experience) (rl.Experience, error) {
	var exp rl.Experience
	if err := json.Unmarshal([]byte(row.State), &exp.State); err != nil {
		return rl.Experience{}, err
	}
	if err := json.Unmarshal([]byte(row.Action), &exp.Action); err != nil {
		return rl.Experience{}, err
	}
	exp.Reward = row.Reward
	exp.Done = row.Done
	if row.NextState != nil {
		var next rl.State
		if err := json.Unmarshal([]byte(*row.NextState), &next); err != nil {
			return rl.Experience{}, err
		}
		exp.NextState = &next
	}
	return exp, nil
}

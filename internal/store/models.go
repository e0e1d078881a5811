package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the fields shared by every persisted model. ID uses UUID v7
// (time-ordered) for efficient B-tree indexing and natural chronological
// ordering without a separate created_at sort.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// Experience is the persisted row backing one rl.Experience (§6): state,
// action, and next_state are stored as their JSON encodings so the schema
// does not need to track the RL State/Action union's shape.
type Experience struct {
	base
	Algorithm string `gorm:"not null;index"`
	State     string `gorm:"type:text;not null"`
	Action    string `gorm:"type:text;not null"`
	Reward    float64
	NextState *string `gorm:"type:text"`
	Done      bool    `gorm:"not null"`
}

func (Experience) TableName() string { return "experiences" }

// Pattern is a cached successful interaction pattern the coordinator can be
// pointed at via an Action.UsePattern, supplemented from the original
// daemon's pattern-cache feature.
type Pattern struct {
	base
	PatternType   string `gorm:"not null;index"`
	Content       string `gorm:"type:text;not null"`
	SuccessCount  int64  `gorm:"not null;default:0"`
	FailureCount  int64  `gorm:"not null;default:0"`
}

func (Pattern) TableName() string { return "patterns" }

// SuccessRate returns success/(success+failure), or 0 when the pattern has
// never been applied.
func (p *Pattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

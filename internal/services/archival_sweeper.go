package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/metrics"
)

// SweeperOption customises ArchivalSweeper behaviour.
type SweeperOption func(*ArchivalSweeper)

// WithSweeperClock injects a custom clock primarily for testing.
func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(s *ArchivalSweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ArchivalSweeper archives every meeting whose end time has passed.
type ArchivalSweeper struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewArchivalSweeper constructs an ArchivalSweeper.
func NewArchivalSweeper(db *gorm.DB, opts ...SweeperOption) (*ArchivalSweeper, error) {
	if db == nil {
		return nil, errors.New("archival sweeper: db is required")
	}
	sweeper := &ArchivalSweeper{
		db:  db,
		now: time.Now,
		log: logger.WithModule("archiver"),
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// Sweep archives elapsed meetings in a single statement and returns how many changed.
func (s *ArchivalSweeper) Sweep(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("archived = ? AND end_time < ?", false, s.now().UTC()).
		Update("archived", true)
	if result.Error != nil {
		return 0, fmt.Errorf("archival sweeper: update meetings: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.MeetingsArchived.Add(float64(result.RowsAffected))
		s.log.Info("archived elapsed meetings", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

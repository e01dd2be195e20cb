package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/syncmeet/internal/models"
)

// DatabaseCounter implements Counter on the primary SQL database so that every server
// instance shares the same windows.
type DatabaseCounter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseCounter constructs a database-backed Counter.
func NewDatabaseCounter(db *gorm.DB, now func() time.Time) *DatabaseCounter {
	if db == nil {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &DatabaseCounter{db: db, now: now}
}

// IncrementWithTTL implements Counter. The window only starts when the previous one expired.
func (s *DatabaseCounter) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("cache: database counter not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()
	var entry models.RateCounter

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, "bucket = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.RateCounter{Bucket: key, Count: 1, ExpiresAt: now.Add(window)}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if !now.Before(entry.ExpiresAt) {
			entry.Count = 1
			entry.ExpiresAt = now.Add(window)
		} else {
			entry.Count++
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return entry.Count, entry.ExpiresAt.Sub(now), nil
}

// PurgeExpired removes counters whose window ended before now.
func (s *DatabaseCounter) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: database counter not initialised")
	}
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now().UTC()).
		Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}

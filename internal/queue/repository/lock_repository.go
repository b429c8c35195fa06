package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultLockTTL = 30 * time.Second

type gormLockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) LockRepository {
	return &gormLockRepository{db: db}
}

// AcquireLock takes the lock for key when it is free or expired. A zero
// or negative ttl means the 30 second default.
func (r *gormLockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*domain.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("lock key is empty")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	now := time.Now().UTC()
	lockID := uuid.New().String()
	lock := &domain.Lock{
		Key:       key,
		LockID:    lockID,
		Holder:    lockID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	db := r.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(lock)
	if result.Error != nil {
		return nil, fmt.Errorf("unable to acquire lock %s: %w", key, result.Error)
	}
	if result.RowsAffected > 0 {
		return lock, nil
	}

	// The row exists; take it over only if it has expired.
	result = db.Model(&domain.Lock{}).
		Where("key = ? AND expires_at < ?", key, now).
		Updates(map[string]interface{}{
			"lock_id":    lockID,
			"holder":     lockID,
			"expires_at": lock.ExpiresAt,
			"created_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("unable to acquire lock %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
	}
	return lock, nil
}

// ReleaseLock frees the lock if lockID still owns it. Releasing a lock
// that was already taken over is a no-op.
func (r *gormLockRepository) ReleaseLock(ctx context.Context, lockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("lock_id = ?", lockID).Delete(&domain.Lock{}).Error
}

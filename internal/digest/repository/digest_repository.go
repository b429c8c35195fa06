package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/digest/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrItemsChanged means some items were consumed by someone else while a
// digest was being compiled.
var ErrItemsChanged = errors.New("digest items changed during compile")

type DigestRepository interface {
	GetSchedule(ctx context.Context, accountID string) (*domain.Schedule, error)
	SaveSchedule(ctx context.Context, s *domain.Schedule) error
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	// CompareAndSwapSchedule stores s only if its next occurrence is still
	// expectedNext. It reports whether the write happened.
	CompareAndSwapSchedule(ctx context.Context, s *domain.Schedule, expectedNext time.Time) (bool, error)

	// AddItem queues an item; a second add for the same message and action
	// is ignored.
	AddItem(ctx context.Context, item *domain.Item) error
	PendingItems(ctx context.Context, accountID string, limit int) ([]domain.Item, error)
	// CompleteDigest stores d and marks every listed item consumed by it,
	// all or nothing.
	CompleteDigest(ctx context.Context, d *domain.Digest, itemIDs []string) error
	ListDigests(ctx context.Context, accountID string, limit, offset int) ([]domain.Digest, int64, error)
}

type digestRepository struct {
	db *gorm.DB
}

func NewDigestRepository(db *gorm.DB) DigestRepository {
	return &digestRepository{db: db}
}

func (r *digestRepository) GetSchedule(ctx context.Context, accountID string) (*domain.Schedule, error) {
	var s domain.Schedule
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *digestRepository) SaveSchedule(ctx context.Context, s *domain.Schedule) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"interval_days", "days_of_week", "time_of_day", "enabled", "next_occurrence_at", "updated_at",
		}),
	}).Create(s).Error
}

func (r *digestRepository) DueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	var out []domain.Schedule
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_occurrence_at IS NOT NULL AND next_occurrence_at <= ?", true, now.UTC()).
		Order("next_occurrence_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *digestRepository) CompareAndSwapSchedule(ctx context.Context, s *domain.Schedule, expectedNext time.Time) (bool, error) {
	s.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Schedule{}).
		Where("id = ? AND next_occurrence_at = ?", s.ID, expectedNext.UTC()).
		Updates(map[string]interface{}{
			"last_occurrence_at": s.LastOccurrenceAt,
			"next_occurrence_at": s.NextOccurrenceAt,
			"occurrences":        s.Occurrences,
			"updated_at":         s.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *digestRepository) AddItem(ctx context.Context, item *domain.Item) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "message_id"}, {Name: "action_id"}},
		DoNothing: true,
	}).Create(item).Error
}

func (r *digestRepository) PendingItems(ctx context.Context, accountID string, limit int) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND consumed_at IS NULL", accountID).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *digestRepository) CompleteDigest(ctx context.Context, d *domain.Digest, itemIDs []string) error {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	d.ItemCount = len(itemIDs)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(d).Error; err != nil {
			return err
		}
		if len(itemIDs) == 0 {
			return nil
		}
		res := tx.Model(&domain.Item{}).
			Where("id IN ? AND consumed_at IS NULL", itemIDs).
			Updates(map[string]interface{}{"digest_id": d.ID, "consumed_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(itemIDs)) {
			return fmt.Errorf("%w: marked %d of %d", ErrItemsChanged, res.RowsAffected, len(itemIDs))
		}
		return nil
	})
}

func (r *digestRepository) ListDigests(ctx context.Context, accountID string, limit, offset int) ([]domain.Digest, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Digest{}).Where("account_id = ?", accountID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Digest
	err := q.Preload("Items").Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, total, err
}

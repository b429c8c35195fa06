package repository

import (
	"context"
	"errors"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository stores what happened to each evaluated message.
type LedgerRepository interface {
	Find(ctx context.Context, accountID, threadID, messageID string) (*domain.ExecutedRule, error)
	FindByID(ctx context.Context, accountID, id string) (*domain.ExecutedRule, error)
	// Upsert writes the entry keyed by (account, thread, message) and sets
	// rec.ID to the stored row's id.
	Upsert(ctx context.Context, rec *domain.ExecutedRule) error
	UpdateStatus(ctx context.Context, id string, status domain.ExecutedRuleStatus, reason string) error
	// RecordAction writes one action outcome, replacing an earlier attempt
	// of the same action.
	RecordAction(ctx context.Context, action *domain.ExecutedAction) error
	List(ctx context.Context, accountID, ruleID string, limit, offset int) ([]domain.ExecutedRule, int64, error)
	FindByMessageIDs(ctx context.Context, accountID string, messageIDs []string) ([]domain.ExecutedRule, error)
	// StaleDrafts returns unconsumed AI-written drafts written before the
	// cutoff, least recently checked first.
	StaleDrafts(ctx context.Context, before time.Time, limit int) ([]domain.ExecutedAction, error)
	MarkConsumed(ctx context.Context, actionID string, at time.Time) error
	// MarkChecked moves an edited draft to the back of the cleanup order.
	MarkChecked(ctx context.Context, actionID string, at time.Time) error
	TrackThread(ctx context.Context, t *domain.TrackedThread) error
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) withActions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
}

func (r *ledgerRepository) Find(ctx context.Context, accountID, threadID, messageID string) (*domain.ExecutedRule, error) {
	var rec domain.ExecutedRule
	err := r.withActions(ctx).
		Where("account_id = ? AND thread_id = ? AND message_id = ?", accountID, threadID, messageID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ledgerRepository) FindByID(ctx context.Context, accountID, id string) (*domain.ExecutedRule, error) {
	var rec domain.ExecutedRule
	err := r.withActions(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ledgerRepository) Upsert(ctx context.Context, rec *domain.ExecutedRule) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := r.db.WithContext(ctx).Omit("Actions").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "thread_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rule_id", "rule_name", "status", "automated", "matched_by", "reason",
			"from", "subject", "action_items", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return err
	}

	var stored domain.ExecutedRule
	if err := r.db.WithContext(ctx).Select("id", "created_at").
		Where("account_id = ? AND thread_id = ? AND message_id = ?", rec.AccountID, rec.ThreadID, rec.MessageID).
		First(&stored).Error; err != nil {
		return err
	}
	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	return nil
}

func (r *ledgerRepository) UpdateStatus(ctx context.Context, id string, status domain.ExecutedRuleStatus, reason string) error {
	updates := map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}
	if reason != "" {
		updates["reason"] = reason
	}
	return r.db.WithContext(ctx).Model(&domain.ExecutedRule{}).Where("id = ?", id).Updates(updates).Error
}

func (r *ledgerRepository) RecordAction(ctx context.Context, action *domain.ExecutedAction) error {
	now := time.Now().UTC()
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	action.CreatedAt = now
	action.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "executed_rule_id"}, {Name: "action_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"label", "subject", "content", "to", "cc", "bcc", "url", "folder",
			"status", "error", "draft_id", "sent_message_id", "ai_generated", "position", "updated_at",
		}),
	}).Create(action).Error
}

func (r *ledgerRepository) List(ctx context.Context, accountID, ruleID string, limit, offset int) ([]domain.ExecutedRule, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.ExecutedRule{}).Where("account_id = ?", accountID)
	if ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []domain.ExecutedRule
	err := q.Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	return recs, total, err
}

func (r *ledgerRepository) FindByMessageIDs(ctx context.Context, accountID string, messageIDs []string) ([]domain.ExecutedRule, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var recs []domain.ExecutedRule
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND message_id IN ? AND rule_id IS NOT NULL", accountID, messageIDs).
		Find(&recs).Error
	return recs, err
}

func (r *ledgerRepository) StaleDrafts(ctx context.Context, before time.Time, limit int) ([]domain.ExecutedAction, error) {
	var actions []domain.ExecutedAction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND ai_generated = ? AND draft_id <> '' AND consumed_at IS NULL AND updated_at < ?",
			ruledomain.ActionDraftEmail, domain.ActionSucceeded, true, before.UTC()).
		Order("COALESCE(cleanup_checked_at, updated_at) ASC").
		Limit(limit).
		Find(&actions).Error
	return actions, err
}

func (r *ledgerRepository) MarkConsumed(ctx context.Context, actionID string, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Model(&domain.ExecutedAction{}).
		Where("id = ?", actionID).
		Updates(map[string]interface{}{"consumed_at": &at, "updated_at": at}).Error
}

func (r *ledgerRepository) MarkChecked(ctx context.Context, actionID string, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Model(&domain.ExecutedAction{}).
		Where("id = ?", actionID).
		UpdateColumn("cleanup_checked_at", &at).Error
}

func (r *ledgerRepository) TrackThread(ctx context.Context, t *domain.TrackedThread) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"message_id", "rule_id", "subject", "resolved", "updated_at"}),
	}).Create(t).Error
}

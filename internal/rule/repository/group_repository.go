package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type groupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) ListByAccount(ctx context.Context, accountID string) ([]ruledomain.Group, error) {
	var groups []ruledomain.Group
	err := r.db.WithContext(ctx).Preload("Items").Where("account_id = ?", accountID).Find(&groups).Error
	return groups, err
}

func (r *groupRepository) FindByRule(ctx context.Context, ruleID string) (*ruledomain.Group, error) {
	var group ruledomain.Group
	err := r.db.WithContext(ctx).Preload("Items").Where("rule_id = ?", ruleID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// EnsureGroup returns the rule's group, creating it on first use.
func (r *groupRepository) EnsureGroup(ctx context.Context, accountID, ruleID, name string) (*ruledomain.Group, error) {
	now := time.Now().UTC()
	group := &ruledomain.Group{
		ID:        uuid.New().String(),
		AccountID: accountID,
		RuleID:    ruleID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}},
		DoNothing: true,
	}).Create(group).Error
	if err != nil {
		return nil, err
	}
	return r.FindByRule(ctx, ruleID)
}

func (r *groupRepository) AddItem(ctx context.Context, groupID string, itemType ruledomain.GroupItemType, value string) (bool, error) {
	item := &ruledomain.GroupItem{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Type:      itemType,
		Value:     strings.ToLower(strings.TrimSpace(value)),
		CreatedAt: time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "type"}, {Name: "value"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *groupRepository) DeleteItem(ctx context.Context, groupID, itemID string) error {
	return r.db.WithContext(ctx).Where("id = ? AND group_id = ?", itemID, groupID).Delete(&ruledomain.GroupItem{}).Error
}

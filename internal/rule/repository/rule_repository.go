package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new instance of ruleRepository
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Group.Items")
}

func (r *ruleRepository) Create(ctx context.Context, rule *ruledomain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	prepareActions(rule)
	return r.db.WithContext(ctx).Omit("Group").Create(rule).Error
}

// Update replaces the rule's fields and its whole action list.
func (r *ruleRepository) Update(ctx context.Context, rule *ruledomain.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	prepareActions(rule)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&ruledomain.Action{}).Error; err != nil {
			return err
		}
		res := tx.Model(&ruledomain.Rule{}).
			Where("id = ? AND account_id = ?", rule.ID, rule.AccountID).
			Select("name", "instructions", "from", "to", "subject", "body", "enabled", "automate",
				"include_sent", "system_type", "priority", "updated_at").
			Updates(rule)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("rule %s not found", rule.ID)
		}
		if len(rule.Actions) > 0 {
			return tx.Create(&rule.Actions).Error
		}
		return nil
	})
}

func (r *ruleRepository) Delete(ctx context.Context, accountID, ruleID string) error {
	return r.db.WithContext(ctx).Where("id = ? AND account_id = ?", ruleID, accountID).Delete(&ruledomain.Rule{}).Error
}

func (r *ruleRepository) FindByID(ctx context.Context, accountID, ruleID string) (*ruledomain.Rule, error) {
	var rule ruledomain.Rule
	err := r.preloaded(ctx).Where("id = ? AND account_id = ?", ruleID, accountID).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) FindByName(ctx context.Context, accountID, name string) (*ruledomain.Rule, error) {
	var rule ruledomain.Rule
	err := r.preloaded(ctx).Where("account_id = ? AND name = ?", accountID, name).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) ListByAccount(ctx context.Context, accountID string) ([]ruledomain.Rule, error) {
	var rules []ruledomain.Rule
	err := r.preloaded(ctx).Where("account_id = ?", accountID).Order("priority ASC, created_at ASC").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) ListEnabled(ctx context.Context, accountID string) ([]ruledomain.Rule, error) {
	var rules []ruledomain.Rule
	err := r.preloaded(ctx).Where("account_id = ? AND enabled = ?", accountID, true).Order("priority ASC, created_at ASC").Find(&rules).Error
	return rules, err
}

func prepareActions(rule *ruledomain.Rule) {
	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = uuid.New().String()
		}
		rule.Actions[i].RuleID = rule.ID
		rule.Actions[i].Position = i
	}
}

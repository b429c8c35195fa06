package repository

import (
	"context"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
)

// RuleRepository stores rules with their ordered actions and group.
type RuleRepository interface {
	Create(ctx context.Context, rule *ruledomain.Rule) error
	Update(ctx context.Context, rule *ruledomain.Rule) error
	Delete(ctx context.Context, accountID, ruleID string) error
	FindByID(ctx context.Context, accountID, ruleID string) (*ruledomain.Rule, error)
	FindByName(ctx context.Context, accountID, name string) (*ruledomain.Rule, error)
	ListByAccount(ctx context.Context, accountID string) ([]ruledomain.Rule, error)
	ListEnabled(ctx context.Context, accountID string) ([]ruledomain.Rule, error)
}

// GroupRepository stores learned patterns.
type GroupRepository interface {
	ListByAccount(ctx context.Context, accountID string) ([]ruledomain.Group, error)
	FindByRule(ctx context.Context, ruleID string) (*ruledomain.Group, error)
	EnsureGroup(ctx context.Context, accountID, ruleID, name string) (*ruledomain.Group, error)
	// AddItem is a no-op when the same (type, value) is already present.
	AddItem(ctx context.Context, groupID string, itemType ruledomain.GroupItemType, value string) (bool, error)
	DeleteItem(ctx context.Context, groupID, itemID string) error
}

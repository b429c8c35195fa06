package domain

import (
	"encoding/json"
	"time"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"gorm.io/datatypes"
)

type ExecutedRuleStatus string

const (
	// StatusPending is a suggestion waiting for the user to approve it.
	StatusPending ExecutedRuleStatus = "PENDING"
	// StatusApplying is set while actions run; a retry resumes from it.
	StatusApplying ExecutedRuleStatus = "APPLYING"
	StatusApplied  ExecutedRuleStatus = "APPLIED"
	// StatusSkipped covers "no rule matched" as well as rejected suggestions.
	StatusSkipped ExecutedRuleStatus = "SKIPPED"
	// StatusPartial means some actions failed and the rest succeeded.
	StatusPartial ExecutedRuleStatus = "PARTIAL"
	StatusError   ExecutedRuleStatus = "ERROR"
)

// Settled reports whether a new delivery of the same message should leave
// the entry alone.
func (s ExecutedRuleStatus) Settled() bool {
	return s != StatusApplying && s != ""
}

// ExecutedRule is the ledger entry for one message. There is at most one
// per (account, thread, message).
type ExecutedRule struct {
	ID          string                 `json:"id" gorm:"primaryKey"`
	AccountID   string                 `json:"account_id" gorm:"not null;uniqueIndex:idx_executed_rule_key"`
	ThreadID    string                 `json:"thread_id" gorm:"not null;uniqueIndex:idx_executed_rule_key"`
	MessageID   string                 `json:"message_id" gorm:"not null;uniqueIndex:idx_executed_rule_key"`
	RuleID      *string                `json:"rule_id,omitempty" gorm:"index"`
	RuleName    string                 `json:"rule_name,omitempty"`
	Status      ExecutedRuleStatus     `json:"status" gorm:"index;not null"`
	Automated   bool                   `json:"automated"`
	MatchedBy   ruledomain.MatchSource `json:"matched_by"`
	Reason      string                 `json:"reason"`
	From        string                 `json:"from"`
	Subject     string                 `json:"subject"`
	ActionItems datatypes.JSON         `json:"action_items,omitempty"`
	Actions     []ExecutedAction       `json:"actions" gorm:"foreignKey:ExecutedRuleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Items decodes the planned action list.
func (r *ExecutedRule) Items() ([]ruledomain.ActionItem, error) {
	if len(r.ActionItems) == 0 {
		return nil, nil
	}
	var items []ruledomain.ActionItem
	if err := json.Unmarshal(r.ActionItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ExecutedRule) SetItems(items []ruledomain.ActionItem) error {
	if len(items) == 0 {
		r.ActionItems = nil
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	r.ActionItems = datatypes.JSON(b)
	return nil
}

// ActionResult returns the recorded outcome of a planned action, or nil.
func (r *ExecutedRule) ActionResult(actionID string) *ExecutedAction {
	for i := range r.Actions {
		if r.Actions[i].ActionID == actionID {
			return &r.Actions[i]
		}
	}
	return nil
}

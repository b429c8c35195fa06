package domain

import (
	"time"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
)

type ActionStatus string

const (
	// ActionPlanned is a suggested action waiting for approval.
	ActionPlanned   ActionStatus = "planned"
	ActionSucceeded ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

// ExecutedAction is one attempted action with the values it ran with.
type ExecutedAction struct {
	ID             string                `json:"id" gorm:"primaryKey"`
	ExecutedRuleID string                `json:"executed_rule_id" gorm:"not null;uniqueIndex:idx_executed_action"`
	ActionID       string                `json:"action_id" gorm:"not null;uniqueIndex:idx_executed_action"`
	AccountID      string                `json:"account_id" gorm:"index;not null"`
	Type           ruledomain.ActionType `json:"type" gorm:"not null"`
	Position       int                   `json:"position"`

	Label   string `json:"label,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
	URL     string `json:"url,omitempty"`
	Folder  string `json:"folder,omitempty"`

	Status        ActionStatus `json:"status" gorm:"not null"`
	Error         string       `json:"error,omitempty"`
	DraftID       string       `json:"draft_id,omitempty" gorm:"index"`
	SentMessageID string       `json:"sent_message_id,omitempty"`
	AIGenerated   bool         `json:"ai_generated"`
	// ConsumedAt is set once draft cleanup has dealt with the draft.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	// CleanupCheckedAt is when cleanup last found the draft edited.
	CleanupCheckedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackedThread is a conversation the user wants followed up.
type TrackedThread struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"not null;uniqueIndex:idx_tracked_thread"`
	ThreadID  string    `json:"thread_id" gorm:"not null;uniqueIndex:idx_tracked_thread"`
	MessageID string    `json:"message_id"`
	RuleID    string    `json:"rule_id"`
	Subject   string    `json:"subject"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

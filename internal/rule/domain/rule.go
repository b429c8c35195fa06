package domain

import (
	"strings"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"gorm.io/gorm"
)

// SystemType marks rules created from a well-known category preset.
type SystemType string

const (
	SystemNewsletter   SystemType = "newsletter"
	SystemMarketing    SystemType = "marketing"
	SystemCalendar     SystemType = "calendar"
	SystemReceipt      SystemType = "receipt"
	SystemNotification SystemType = "notification"
)

// Rule maps a condition on incoming mail to an ordered list of actions.
// Instructions is the free-text condition the classifier reads; the
// From/To/Subject/Body filters are optional deterministic conditions
// checked before it.
type Rule struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	AccountID    string      `json:"account_id" gorm:"index;not null;uniqueIndex:idx_rule_account_name"`
	Name         string      `json:"name" gorm:"not null;uniqueIndex:idx_rule_account_name"`
	Instructions string      `json:"instructions"`
	From         string      `json:"from,omitempty"`
	To           string      `json:"to,omitempty"`
	Subject      string      `json:"subject,omitempty"`
	Body         string      `json:"body,omitempty"`
	Enabled      bool        `json:"enabled"`
	Automate     bool        `json:"automate"`
	IncludeSent  bool        `json:"include_sent"`
	SystemType   *SystemType `json:"system_type,omitempty"`
	Priority     int         `json:"priority"`

	Actions []Action `json:"actions" gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	Group   *Group   `json:"group,omitempty" gorm:"foreignKey:RuleID"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// HasStaticFilters reports whether any structured condition is set.
func (r *Rule) HasStaticFilters() bool {
	return r.From != "" || r.To != "" || r.Subject != "" || r.Body != ""
}

// StaticOnly is a rule the classifier never needs to see.
func (r *Rule) StaticOnly() bool {
	return r.HasStaticFilters() && strings.TrimSpace(r.Instructions) == ""
}

// MatchesStatic checks the structured filters. Each filter is a
// case-insensitive substring test; "|" separates alternatives. A rule
// with no filters matches everything.
func (r *Rule) MatchesStatic(e *emaildomain.Email) bool {
	if r.From != "" && !containsAnyFold(e.FromName+" <"+e.From+">", r.From) {
		return false
	}
	if r.To != "" && !containsAnyFold(strings.Join(append(append([]string{}, e.To...), e.Cc...), ", "), r.To) {
		return false
	}
	if r.Subject != "" && !containsAnyFold(e.Subject, r.Subject) {
		return false
	}
	if r.Body != "" && !containsAnyFold(e.Body, r.Body) {
		return false
	}
	return true
}

// ConditionText is what the tie-break compares: the longer the more
// specific.
func (r *Rule) ConditionText() string {
	parts := []string{strings.TrimSpace(r.Instructions)}
	for _, f := range []string{r.From, r.To, r.Subject, r.Body} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func containsAnyFold(haystack, pattern string) bool {
	h := strings.ToLower(haystack)
	for _, alt := range strings.Split(pattern, "|") {
		alt = strings.ToLower(strings.TrimSpace(alt))
		if alt != "" && strings.Contains(h, alt) {
			return true
		}
	}
	return false
}

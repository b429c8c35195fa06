package domain

import (
	"strings"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
)

type GroupItemType string

const (
	GroupItemFrom    GroupItemType = "FROM"
	GroupItemSubject GroupItemType = "SUBJECT"
)

// Group is the learned pattern of exactly one rule.
type Group struct {
	ID        string      `json:"id" gorm:"primaryKey"`
	AccountID string      `json:"account_id" gorm:"index;not null"`
	RuleID    string      `json:"rule_id" gorm:"uniqueIndex;not null"`
	Name      string      `json:"name"`
	Items     []GroupItem `json:"items" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// GroupItem is one matcher. A FROM value is either a full address or a
// domain starting with "@"; a SUBJECT value is a substring.
type GroupItem struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	GroupID   string        `json:"group_id" gorm:"not null;uniqueIndex:idx_group_item"`
	Type      GroupItemType `json:"type" gorm:"not null;uniqueIndex:idx_group_item"`
	Value     string        `json:"value" gorm:"not null;uniqueIndex:idx_group_item"`
	CreatedAt time.Time     `json:"created_at"`
}

// Matches reports whether e hits this item.
func (i *GroupItem) Matches(e *emaildomain.Email) bool {
	value := strings.ToLower(strings.TrimSpace(i.Value))
	if value == "" {
		return false
	}
	switch i.Type {
	case GroupItemFrom:
		if strings.HasPrefix(value, "@") {
			return e.SenderDomain() == value
		}
		return strings.EqualFold(e.From, value)
	case GroupItemSubject:
		return strings.Contains(strings.ToLower(e.Subject), value)
	default:
		return false
	}
}

// Match returns the first item e hits, or nil.
func (g *Group) Match(e *emaildomain.Email) *GroupItem {
	for i := range g.Items {
		if g.Items[i].Matches(e) {
			return &g.Items[i]
		}
	}
	return nil
}

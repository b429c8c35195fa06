package domain

import "fmt"

// ActionType is the closed set of things a rule can do. Every value must
// be handled by the executor's switch.
type ActionType string

const (
	ActionArchive     ActionType = "ARCHIVE"
	ActionLabel       ActionType = "LABEL"
	ActionDraftEmail  ActionType = "DRAFT_EMAIL"
	ActionReply       ActionType = "REPLY"
	ActionSendEmail   ActionType = "SEND_EMAIL"
	ActionForward     ActionType = "FORWARD"
	ActionMarkRead    ActionType = "MARK_READ"
	ActionMarkSpam    ActionType = "MARK_SPAM"
	ActionCallWebhook ActionType = "CALL_WEBHOOK"
	ActionDigest      ActionType = "DIGEST"
	ActionTrackThread ActionType = "TRACK_THREAD"
	ActionMoveFolder  ActionType = "MOVE_FOLDER"
)

var AllActionTypes = []ActionType{
	ActionArchive, ActionLabel, ActionDraftEmail, ActionReply, ActionSendEmail, ActionForward,
	ActionMarkRead, ActionMarkSpam, ActionCallWebhook, ActionDigest, ActionTrackThread, ActionMoveFolder,
}

func (t ActionType) Valid() bool {
	for _, a := range AllActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Action belongs to a rule. Only the fields relevant to Type are set.
type Action struct {
	ID       string     `json:"id" gorm:"primaryKey"`
	RuleID   string     `json:"rule_id" gorm:"index;not null"`
	Type     ActionType `json:"type" gorm:"not null"`
	Label    string     `json:"label,omitempty"`
	Subject  string     `json:"subject,omitempty"`
	Content  string     `json:"content,omitempty"`
	To       string     `json:"to,omitempty"`
	Cc       string     `json:"cc,omitempty"`
	Bcc      string     `json:"bcc,omitempty"`
	URL      string     `json:"url,omitempty"`
	Folder   string     `json:"folder,omitempty"`
	Position int        `json:"position"`
}

// Validate checks that the fields a type cannot work without are set.
func (a *Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	switch a.Type {
	case ActionForward, ActionSendEmail:
		if a.To == "" {
			return fmt.Errorf("%s needs a recipient", a.Type)
		}
	case ActionCallWebhook:
		if a.URL == "" {
			return fmt.Errorf("%s needs a url", a.Type)
		}
	case ActionMoveFolder:
		if a.Folder == "" {
			return fmt.Errorf("%s needs a folder", a.Type)
		}
	}
	return nil
}

// ActionItem is an action with its parameters resolved for one message.
// Template tokens are still unexpanded; the executor fills them in.
type ActionItem struct {
	ActionID    string     `json:"action_id"`
	Type        ActionType `json:"type"`
	Label       string     `json:"label,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	Content     string     `json:"content,omitempty"`
	To          string     `json:"to,omitempty"`
	Cc          string     `json:"cc,omitempty"`
	Bcc         string     `json:"bcc,omitempty"`
	URL         string     `json:"url,omitempty"`
	Folder      string     `json:"folder,omitempty"`
	AIGenerated bool       `json:"ai_generated,omitempty"`
}

// Item returns the action as configured, before any AI-supplied values.
func (a *Action) Item() ActionItem {
	return ActionItem{
		ActionID: a.ID,
		Type:     a.Type,
		Label:    a.Label,
		Subject:  a.Subject,
		Content:  a.Content,
		To:       a.To,
		Cc:       a.Cc,
		Bcc:      a.Bcc,
		URL:      a.URL,
		Folder:   a.Folder,
	}
}

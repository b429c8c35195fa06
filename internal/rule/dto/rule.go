package dto

import ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

type ActionRequest struct {
	Type    ruledomain.ActionType `json:"type" binding:"required"`
	Label   string                `json:"label"`
	Subject string                `json:"subject"`
	Content string                `json:"content"`
	To      string                `json:"to"`
	Cc      string                `json:"cc"`
	Bcc     string                `json:"bcc"`
	URL     string                `json:"url" binding:"omitempty,url"`
	Folder  string                `json:"folder"`
}

type RuleRequest struct {
	Name         string          `json:"name" binding:"required,max=100"`
	Instructions string          `json:"instructions" binding:"max=2000"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Subject      string          `json:"subject"`
	Body         string          `json:"body"`
	Enabled      *bool           `json:"enabled"`
	Automate     bool            `json:"automate"`
	IncludeSent  bool            `json:"include_sent"`
	Priority     int             `json:"priority"`
	Actions      []ActionRequest `json:"actions" binding:"required,min=1,dive"`
}

type AutomateRequest struct {
	Automate bool `json:"automate"`
}

type PatternItemRequest struct {
	Type  ruledomain.GroupItemType `json:"type" binding:"required,oneof=FROM SUBJECT"`
	Value string                   `json:"value" binding:"required,max=200"`
}

type BootstrapRequest struct {
	Categories []ruledomain.SystemType `json:"categories"`
}

type RulesResponse struct {
	Rules []ruledomain.Rule `json:"rules"`
}

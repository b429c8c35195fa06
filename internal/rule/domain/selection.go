package domain

// MatchSource records which path selected a rule.
type MatchSource string

const (
	MatchPattern MatchSource = "pattern"
	MatchStatic  MatchSource = "static"
	MatchAI      MatchSource = "ai"
	MatchNone    MatchSource = "none"
)

// Selection is the rule selector's answer for one message. Rule is nil
// when nothing applies; Reason is always set.
type Selection struct {
	Rule        *Rule
	ActionItems []ActionItem
	Reason      string
	MatchedBy   MatchSource
	Automated   bool
	// PatternItemID is set when a learned pattern decided.
	PatternItemID string
}

func (s *Selection) Matched() bool { return s != nil && s.Rule != nil }

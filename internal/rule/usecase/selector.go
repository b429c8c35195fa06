package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	"github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/ai"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// Example is a past decision shown to the classifier as a hint.
type Example struct {
	From     string
	Subject  string
	RuleName string
}

// ExampleProvider looks up how similar emails were classified before.
type ExampleProvider interface {
	Examples(ctx context.Context, accountID string, email *emaildomain.Email) []Example
}

type aiAction struct {
	Type    string `json:"type"`
	Label   string `json:"label"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	To      string `json:"to"`
	Folder  string `json:"folder"`
}

type aiSelection struct {
	NoMatch       bool       `json:"no_match"`
	NeedsMoreInfo bool       `json:"needs_more_info"`
	RuleIDs       []string   `json:"rule_ids"`
	Reason        string     `json:"reason" validate:"required"`
	Actions       []aiAction `json:"actions"`
}

// Selector picks at most one rule for a message.
type Selector struct {
	rules     repository.RuleRepository
	completer ai.Completer
	examples  ExampleProvider
	timeout   time.Duration
}

// NewSelector builds a selector. completer and examples may be nil; without
// a completer only learned patterns and static rules can match.
func NewSelector(rules repository.RuleRepository, completer ai.Completer, examples ExampleProvider, timeout time.Duration) *Selector {
	return &Selector{rules: rules, completer: completer, examples: examples, timeout: timeout}
}

// Select runs the pattern check, then static-only rules, then the
// classifier. The returned error is only ever a storage failure; every
// classifier outcome other than a clean pick is a no-match selection.
func (s *Selector) Select(ctx context.Context, accountID string, email *emaildomain.Email) (*ruledomain.Selection, error) {
	rules, err := s.rules.ListEnabled(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rules = applicable(rules, email)
	if len(rules) == 0 {
		return noMatch("No enabled rules apply"), nil
	}

	if sel := patternMatch(rules, email); sel != nil {
		return sel, nil
	}

	var staticHits, candidates []ruledomain.Rule
	for _, r := range rules {
		if !r.MatchesStatic(email) {
			continue
		}
		if r.StaticOnly() {
			staticHits = append(staticHits, r)
		} else if strings.TrimSpace(r.Instructions) != "" {
			candidates = append(candidates, r)
		}
	}
	if len(staticHits) > 0 {
		rule := mostSpecific(staticHits)
		return &ruledomain.Selection{
			Rule:        &rule,
			ActionItems: configuredItems(&rule),
			Reason:      "Matched the rule's filters",
			MatchedBy:   ruledomain.MatchStatic,
			Automated:   rule.Automate,
		}, nil
	}
	if len(candidates) == 0 {
		return noMatch("No rule conditions match this email"), nil
	}

	return s.classify(ctx, accountID, email, candidates), nil
}

func (s *Selector) classify(ctx context.Context, accountID string, email *emaildomain.Email, candidates []ruledomain.Rule) *ruledomain.Selection {
	var examples []Example
	if s.examples != nil {
		examples = s.examples.Examples(ctx, accountID, email)
	}

	res := ai.GenerateObject[aiSelection](ctx, s.completer, ai.Request{
		System:      selectorSystem,
		Prompt:      buildSelectionPrompt(candidates, email, examples),
		Schema:      selectionShape,
		Timeout:     s.timeout,
		Temperature: 0,
		MaxTokens:   800,
	})

	log := logger.Logger.With().Str("account_id", accountID).Str("message_id", email.ID).Logger()
	switch res.Kind {
	case ai.KindSchemaInvalid:
		log.Warn().Err(res.Err).Msg("[RuleSelector] Classifier returned invalid output")
		return noMatch("The classifier returned an unusable answer")
	case ai.KindUpstreamError:
		log.Warn().Err(res.Err).Msg("[RuleSelector] Classifier unavailable")
		return noMatch("The classifier was unavailable")
	}

	out := res.Value
	if out.NoMatch || out.NeedsMoreInfo || len(out.RuleIDs) == 0 {
		reason := strings.TrimSpace(out.Reason)
		if out.NeedsMoreInfo {
			reason = "Needs more information: " + reason
		}
		return noMatch(reason)
	}

	var picked []ruledomain.Rule
	// A model can paraphrase a name, so picks are matched by id.
	for _, id := range out.RuleIDs {
		for _, r := range candidates {
			if strings.TrimSpace(id) == r.ID && !containsRule(picked, r.ID) {
				picked = append(picked, r)
			}
		}
	}
	if len(picked) == 0 {
		log.Warn().Strs("rule_ids", out.RuleIDs).Msg("[RuleSelector] Classifier named unknown rules")
		return noMatch("The classifier picked a rule that does not exist")
	}
	if len(picked) > 1 {
		log.Warn().Strs("rule_ids", out.RuleIDs).Msg("[RuleSelector] Classifier returned multiple rules, using the most specific")
	}
	rule := mostSpecific(picked)

	return &ruledomain.Selection{
		Rule:        &rule,
		ActionItems: mergeAIActions(&rule, out.Actions),
		Reason:      strings.TrimSpace(out.Reason),
		MatchedBy:   ruledomain.MatchAI,
		Automated:   rule.Automate,
	}
}

// applicable drops rules that never consider this message.
func applicable(rules []ruledomain.Rule, email *emaildomain.Email) []ruledomain.Rule {
	if !email.IsSent {
		return rules
	}
	out := rules[:0]
	for _, r := range rules {
		if r.IncludeSent {
			out = append(out, r)
		}
	}
	return out
}

func patternMatch(rules []ruledomain.Rule, email *emaildomain.Email) *ruledomain.Selection {
	for i := range rules {
		r := rules[i]
		if r.Group == nil {
			continue
		}
		if item := r.Group.Match(email); item != nil {
			return &ruledomain.Selection{
				Rule:          &r,
				ActionItems:   configuredItems(&r),
				Reason:        fmt.Sprintf("Learned pattern %s %s", strings.ToLower(string(item.Type)), item.Value),
				MatchedBy:     ruledomain.MatchPattern,
				Automated:     true,
				PatternItemID: item.ID,
			}
		}
	}
	return nil
}

// mostSpecific prefers the longest condition text and falls back to the
// order rules were given in, which is priority order.
func mostSpecific(rules []ruledomain.Rule) ruledomain.Rule {
	sorted := make([]ruledomain.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].ConditionText()) > len(sorted[j].ConditionText())
	})
	return sorted[0]
}

func configuredItems(rule *ruledomain.Rule) []ruledomain.ActionItem {
	items := make([]ruledomain.ActionItem, 0, len(rule.Actions))
	for i := range rule.Actions {
		items = append(items, rule.Actions[i].Item())
	}
	return items
}

// mergeAIActions fills fields the rule leaves blank with the classifier's
// values. Configured values always win.
func mergeAIActions(rule *ruledomain.Rule, suggested []aiAction) []ruledomain.ActionItem {
	items := configuredItems(rule)
	used := make([]bool, len(suggested))
	for i := range items {
		for j, sug := range suggested {
			if used[j] || !strings.EqualFold(sug.Type, string(items[i].Type)) {
				continue
			}
			used[j] = true
			it := &items[i]
			filled := fill(&it.Label, sug.Label)
			filled = fill(&it.Subject, sug.Subject) || filled
			filled = fill(&it.Content, sug.Content) || filled
			filled = fill(&it.To, sug.To) || filled
			filled = fill(&it.Folder, sug.Folder) || filled
			it.AIGenerated = filled
			break
		}
	}
	return items
}

func fill(dst *string, v string) bool {
	if *dst != "" || strings.TrimSpace(v) == "" {
		return false
	}
	*dst = strings.TrimSpace(v)
	return true
}

func containsRule(rules []ruledomain.Rule, id string) bool {
	for _, r := range rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

func noMatch(reason string) *ruledomain.Selection {
	if reason == "" {
		reason = "No rule applies"
	}
	return &ruledomain.Selection{Reason: reason, MatchedBy: ruledomain.MatchNone}
}

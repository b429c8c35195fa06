package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	"github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"
	"github.com/elie222/inbox-zero-sub019/pkg/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	reply   string
	err     error
	calls   int
	prompts []ai.Prompt
}

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(_ context.Context, p ai.Prompt) (string, error) {
	c.calls++
	c.prompts = append(c.prompts, p)
	return c.reply, c.err
}

type fixture struct {
	rules    repository.RuleRepository
	groups   repository.GroupRepository
	service  *RuleService
	selector *Selector
	ai       *scriptedCompleter
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t, &ruledomain.Rule{}, &ruledomain.Action{}, &ruledomain.Group{}, &ruledomain.GroupItem{})
	f := &fixture{
		rules:  repository.NewRuleRepository(db),
		groups: repository.NewGroupRepository(db),
		ai:     &scriptedCompleter{},
	}
	f.service = NewRuleService(f.rules, f.groups)
	f.selector = NewSelector(f.rules, f.ai, nil, 0)
	return f
}

func (f *fixture) rule(t *testing.T, r *ruledomain.Rule) *ruledomain.Rule {
	r.AccountID = "acct"
	r.Enabled = true
	require.NoError(t, f.rules.Create(context.Background(), r))
	return r
}

func newsletterRule() *ruledomain.Rule {
	return &ruledomain.Rule{
		Name:         "Newsletters",
		Instructions: "newsletters",
		Automate:     true,
		Actions: []ruledomain.Action{
			{Type: ruledomain.ActionLabel, Label: "Newsletter"},
			{Type: ruledomain.ActionArchive},
		},
	}
}

func TestSelector_PatternHitSkipsClassifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.rule(t, newsletterRule())
	rule.Automate = false
	require.NoError(t, f.rules.Update(ctx, rule))

	email := &emaildomain.Email{ID: "m1", From: "newsletter@company.com", Subject: "This week"}
	_, err := f.service.LearnPattern(ctx, rule, email)
	require.NoError(t, err)

	f.ai.reply = `{"no_match": true, "reason": "nope"}`
	sel, err := f.selector.Select(ctx, "acct", email)
	require.NoError(t, err)

	assert.Equal(t, 0, f.ai.calls)
	require.True(t, sel.Matched())
	assert.Equal(t, rule.ID, sel.Rule.ID)
	assert.Equal(t, ruledomain.MatchPattern, sel.MatchedBy)
	assert.True(t, sel.Automated)
	assert.NotEmpty(t, sel.PatternItemID)
	require.Len(t, sel.ActionItems, 2)
}

func TestSelector_AIPicksRuleAndFillsActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, newsletterRule())
	reply := f.rule(t, &ruledomain.Rule{
		Name:         "Questions",
		Instructions: "someone asks me a question",
		Actions:      []ruledomain.Action{{Type: ruledomain.ActionDraftEmail}},
	})

	f.ai.reply = "```json\n" + fmt.Sprintf(`{"rule_ids": [%q], "reason": "Asks about pricing",
		"actions": [{"type": "DRAFT_EMAIL", "content": "Hi, pricing starts at $10."}]}`, reply.ID) + "\n```"

	sel, err := f.selector.Select(ctx, "acct", &emaildomain.Email{ID: "m2", From: "bob@example.com", Subject: "Pricing?"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ai.calls)
	require.True(t, sel.Matched())
	assert.Equal(t, reply.ID, sel.Rule.ID)
	assert.Equal(t, ruledomain.MatchAI, sel.MatchedBy)
	assert.False(t, sel.Automated)
	assert.Equal(t, "Asks about pricing", sel.Reason)
	require.Len(t, sel.ActionItems, 1)
	assert.Equal(t, "Hi, pricing starts at $10.", sel.ActionItems[0].Content)
	assert.True(t, sel.ActionItems[0].AIGenerated)

	require.Len(t, f.ai.prompts, 1)
	assert.True(t, f.ai.prompts[0].JSON)
	assert.Contains(t, f.ai.prompts[0].User, "<name>Newsletters</name>")
	assert.Contains(t, f.ai.prompts[0].User, "<id>"+reply.ID+"</id>")
}

func TestSelector_PicksAreMatchedByIDNotName(t *testing.T) {
	f := newFixture(t)
	f.rule(t, &ruledomain.Rule{Name: "Updates", Instructions: "product updates", Priority: 1,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionArchive}}})
	shipping := f.rule(t, &ruledomain.Rule{Name: "Shipping updates", Instructions: "shipping updates", Priority: 2,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionLabel, Label: "Shipping"}}})
	f.ai.reply = fmt.Sprintf(`{"rule_ids": [%q], "reason": "Parcel tracking"}`, shipping.ID)

	sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "a@b.com"})
	require.NoError(t, err)
	require.True(t, sel.Matched())
	assert.Equal(t, shipping.ID, sel.Rule.ID)

	// A bare name is not enough to pick a rule.
	f.ai.reply = `{"rule_ids": ["Updates"], "reason": "Parcel tracking"}`
	sel, err = f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m2", From: "a@b.com"})
	require.NoError(t, err)
	assert.False(t, sel.Matched())
}

func TestSelector_NonOKResultsBecomeNoMatch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"upstream error", "", errors.New("connection refused")},
		{"malformed json", "I think it's the newsletter rule", nil},
		{"missing reason", `{"rule_ids": ["%s"]}`, nil},
		{"explicit no match", `{"no_match": true, "reason": "Personal email"}`, nil},
		{"needs more info", `{"needs_more_info": true, "reason": "Unclear"}`, nil},
		{"unknown rule", `{"rule_ids": ["rule-that-does-not-exist"], "reason": "x"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rule := f.rule(t, newsletterRule())
			f.ai.reply, f.ai.err = strings.ReplaceAll(tt.reply, "%s", rule.ID), tt.err

			sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "a@b.com"})
			require.NoError(t, err)
			assert.False(t, sel.Matched())
			assert.Equal(t, ruledomain.MatchNone, sel.MatchedBy)
			assert.NotEmpty(t, sel.Reason)
			assert.NotContains(t, sel.Reason, "connection refused")
		})
	}
}

func TestSelector_TieBreakPrefersLongestCondition(t *testing.T) {
	f := newFixture(t)
	short := f.rule(t, &ruledomain.Rule{Name: "Short", Instructions: "updates", Priority: 1,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionArchive}}})
	long := f.rule(t, &ruledomain.Rule{Name: "Long", Instructions: "product updates from software vendors", Priority: 2,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionArchive}}})
	f.ai.reply = fmt.Sprintf(`{"rule_ids": [%q, %q], "reason": "Both fit"}`, short.ID, long.ID)

	sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "a@b.com"})
	require.NoError(t, err)
	require.True(t, sel.Matched())
	assert.Equal(t, long.ID, sel.Rule.ID)
}

func TestSelector_TieBreakFallsBackToPriority(t *testing.T) {
	f := newFixture(t)
	first := f.rule(t, &ruledomain.Rule{Name: "A", Instructions: "aaaa", Priority: 1,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionArchive}}})
	second := f.rule(t, &ruledomain.Rule{Name: "B", Instructions: "bbbb", Priority: 2,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionArchive}}})
	f.ai.reply = fmt.Sprintf(`{"rule_ids": [%q, %q], "reason": "Both fit"}`, second.ID, first.ID)

	sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, sel.Rule.ID)
}

func TestSelector_StaticRuleNeedsNoClassifier(t *testing.T) {
	f := newFixture(t)
	rule := f.rule(t, &ruledomain.Rule{Name: "Shop receipts", From: "@shop.com", Automate: true,
		Actions: []ruledomain.Action{{Type: ruledomain.ActionLabel, Label: "Receipts"}}})

	sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "orders@shop.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.ai.calls)
	require.True(t, sel.Matched())
	assert.Equal(t, rule.ID, sel.Rule.ID)
	assert.Equal(t, ruledomain.MatchStatic, sel.MatchedBy)
}

func TestSelector_SentMailOnlyConsidersIncludeSentRules(t *testing.T) {
	f := newFixture(t)
	f.rule(t, newsletterRule())

	sel, err := f.selector.Select(context.Background(), "acct", &emaildomain.Email{ID: "m", From: "me@x.com", IsSent: true})
	require.NoError(t, err)
	assert.False(t, sel.Matched())
	assert.Equal(t, 0, f.ai.calls)
}

func TestNormalizeBody(t *testing.T) {
	email := &emaildomain.Email{
		IsHTML: true,
		Body:   "<p>Hello <b>there</b></p><p>On Mon, 1 Jan 2024, Bob wrote:</p><blockquote>old</blockquote>",
	}
	body := NormalizeBody(email)
	assert.Contains(t, body, "Hello **there**")
	assert.NotContains(t, body, "old")

	plain := &emaildomain.Email{Body: "Thanks!\n> quoted line\nBye"}
	assert.Equal(t, "Thanks!\nBye", NormalizeBody(plain))

	long := &emaildomain.Email{Body: string(make([]rune, 5000))}
	assert.LessOrEqual(t, len([]rune(NormalizeBody(long))), maxBodyRunes+3)
}

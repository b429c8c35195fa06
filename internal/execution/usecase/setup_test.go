package usecase

import (
	"context"
	"testing"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	digestdomain "github.com/elie222/inbox-zero-sub019/internal/digest/domain"
	digestrepo "github.com/elie222/inbox-zero-sub019/internal/digest/repository"
	digestusecase "github.com/elie222/inbox-zero-sub019/internal/digest/usecase"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	queuerepo "github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	rulerepo "github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	ruleusecase "github.com/elie222/inbox-zero-sub019/internal/rule/usecase"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"
	"github.com/elie222/inbox-zero-sub019/pkg/ai"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type scriptedCompleter struct {
	reply string
	err   error
	calls int
}

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(context.Context, ai.Prompt) (string, error) {
	c.calls++
	return c.reply, c.err
}

type fixedDrafter struct {
	text  string
	calls int
}

func (d *fixedDrafter) Draft(context.Context, string, string, string, string) (string, error) {
	d.calls++
	return d.text, nil
}

type staticFactory struct{ provider emaildomain.MailProvider }

func (f staticFactory) ForAccount(context.Context, *authdomain.Account) (emaildomain.MailProvider, error) {
	return f.provider, nil
}

type harness struct {
	db        *gorm.DB
	account   *authdomain.Account
	mailbox   *testutil.Mailbox
	ai        *scriptedCompleter
	drafter   *fixedDrafter
	rules     rulerepo.RuleRepository
	groups    rulerepo.GroupRepository
	ledger    repository.LedgerRepository
	locks     queuerepo.LockRepository
	accounts  authrepo.AccountRepository
	digests   digestrepo.DigestRepository
	executor  *Executor
	processor *MessageProcessor
}

func newHarness(t *testing.T, messages ...*emaildomain.Email) *harness {
	db := testutil.NewDB(t,
		&authdomain.Account{},
		&ruledomain.Rule{}, &ruledomain.Action{}, &ruledomain.Group{}, &ruledomain.GroupItem{},
		&domain.ExecutedRule{}, &domain.ExecutedAction{}, &domain.TrackedThread{},
		&queuedomain.Lock{},
		&digestdomain.Item{}, &digestdomain.Digest{},
	)
	h := &harness{
		db:       db,
		mailbox:  testutil.NewMailbox(messages...),
		ai:       &scriptedCompleter{},
		drafter:  &fixedDrafter{text: "Thanks, I'll get back to you."},
		rules:    rulerepo.NewRuleRepository(db),
		groups:   rulerepo.NewGroupRepository(db),
		ledger:   repository.NewLedgerRepository(db),
		locks:    queuerepo.NewLockRepository(db),
		accounts: authrepo.NewAccountRepository(db),
		digests:  digestrepo.NewDigestRepository(db),
	}
	h.account = &authdomain.Account{Email: "me@example.com", Provider: authdomain.ProviderIMAP}
	require.NoError(t, h.accounts.Create(h.account))

	ruleService := ruleusecase.NewRuleService(h.rules, h.groups)
	selector := ruleusecase.NewSelector(h.rules, h.ai, nil, time.Second)
	h.executor = NewExecutor(h.ledger, digestusecase.NewDigestService(h.digests, nil), h.drafter)
	h.processor = NewMessageProcessor(h.accounts, staticFactory{h.mailbox}, h.rules, selector, ruleService,
		h.ledger, h.executor, h.locks, nil, time.Minute)
	return h
}

func (h *harness) rule(t *testing.T, r *ruledomain.Rule) *ruledomain.Rule {
	r.AccountID = h.account.ID
	r.Enabled = true
	require.NoError(t, h.rules.Create(context.Background(), r))
	return r
}

// record creates a ledger entry to execute against.
func (h *harness) record(t *testing.T, e *emaildomain.Email, rule *ruledomain.Rule) *domain.ExecutedRule {
	ruleID := rule.ID
	rec := &domain.ExecutedRule{
		AccountID: h.account.ID,
		ThreadID:  e.ThreadID,
		MessageID: e.ID,
		RuleID:    &ruleID,
		RuleName:  rule.Name,
		Status:    domain.StatusApplying,
		Automated: true,
		MatchedBy: ruledomain.MatchAI,
	}
	require.NoError(t, h.ledger.Upsert(context.Background(), rec))
	return rec
}

func (h *harness) reload(t *testing.T, rec *domain.ExecutedRule) *domain.ExecutedRule {
	got, err := h.ledger.FindByID(context.Background(), h.account.ID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func items(rule *ruledomain.Rule) []ruledomain.ActionItem {
	out := make([]ruledomain.ActionItem, len(rule.Actions))
	for i := range rule.Actions {
		out[i] = rule.Actions[i].Item()
	}
	return out
}

func newsletterEmail(id string) *emaildomain.Email {
	return &emaildomain.Email{
		ID:         id,
		ThreadID:   "t-" + id,
		From:       "newsletter@company.com",
		FromName:   "Company News",
		To:         []string{"me@example.com"},
		Subject:    "This week at Company",
		Snippet:    "All the news",
		Body:       "All the news that fits.",
		ReceivedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"time"

	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	"github.com/elie222/inbox-zero-sub019/internal/digest/domain"
	"github.com/elie222/inbox-zero-sub019/internal/digest/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	emailusecase "github.com/elie222/inbox-zero-sub019/internal/email/usecase"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/fcm"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

const maxItemsPerDigest = 200

// Notifier pushes a notification to an account's devices.
type Notifier interface {
	Notify(ctx context.Context, accountID string, n fcm.Notification)
}

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif">
<h2>Your email digest</h2>
<p>{{.Count}} emails since your last digest.</p>
{{range .Groups}}
<h3>{{.Rule}}</h3>
<ul>
{{range .Items}}<li><strong>{{.From}}</strong>: {{.Subject}}<br><span style="color:#555">{{.Summary}}</span></li>
{{end}}</ul>
{{end}}
</body></html>`))

type digestGroup struct {
	Rule  string
	Items []domain.Item
}

// Compiler builds and sends a digest for one account.
type Compiler struct {
	repo      repository.DigestRepository
	accounts  authrepo.AccountRepository
	providers emailusecase.ProviderFactory
	notifier  Notifier
}

func NewCompiler(repo repository.DigestRepository, accounts authrepo.AccountRepository, providers emailusecase.ProviderFactory, notifier Notifier) *Compiler {
	return &Compiler{repo: repo, accounts: accounts, providers: providers, notifier: notifier}
}

// Handle is the queue handler for URLDigestCompile.
func (c *Compiler) Handle(ctx context.Context, task *queuedomain.Task) error {
	var req domain.CompileRequest
	if err := json.Unmarshal(task.Body, &req); err != nil {
		logger.Logger.Error().Err(err).Str("job_id", task.JobID).Msg("[DigestCompiler] Dropping malformed task")
		return nil
	}
	_, err := c.Compile(ctx, req.AccountID)
	return err
}

// Compile sends every pending item in one email and then marks them all
// consumed together. A failed send leaves every item pending for the
// next run. It returns nil when there was nothing to send.
func (c *Compiler) Compile(ctx context.Context, accountID string) (*domain.Digest, error) {
	account, err := c.accounts.FindByID(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		logger.Logger.Warn().Str("account_id", accountID).Msg("[DigestCompiler] Account not found")
		return nil, nil
	}

	items, err := c.repo.PendingItems(ctx, accountID, maxItemsPerDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to load digest items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	html, err := renderDigest(items)
	if err != nil {
		return nil, err
	}

	provider, err := c.providers.ForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	sentID, err := provider.SendMessage(ctx, &emaildomain.OutgoingMessage{
		From:    account.Email,
		To:      []string{account.Email},
		Subject: fmt.Sprintf("Your email digest (%d)", len(items)),
		Body:    html,
		IsHTML:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send digest: %w", err)
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	digest := &domain.Digest{AccountID: accountID, Status: domain.DigestSent, SentMessageID: sentID}
	if err := c.repo.CompleteDigest(ctx, digest, ids); err != nil {
		return nil, fmt.Errorf("failed to record digest: %w", err)
	}
	logger.Logger.Info().Str("account_id", accountID).Int("items", len(items)).Msg("[DigestCompiler] Digest sent")

	if c.notifier != nil {
		c.notifier.Notify(ctx, accountID, fcm.Notification{
			Title: "Your email digest is ready",
			Body:  fmt.Sprintf("%d emails summarized", len(items)),
			Data: map[string]string{
				"type":      "digest",
				"digest_id": digest.ID,
				"sent_at":   time.Now().UTC().Format(time.RFC3339),
			},
			Link: "/digests",
		})
	}
	return digest, nil
}

func renderDigest(items []domain.Item) (string, error) {
	byRule := map[string][]domain.Item{}
	for _, it := range items {
		name := it.RuleName
		if name == "" {
			name = "Other"
		}
		byRule[name] = append(byRule[name], it)
	}
	groups := make([]digestGroup, 0, len(byRule))
	for name, its := range byRule {
		groups = append(groups, digestGroup{Rule: name, Items: its})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Rule < groups[j].Rule })

	var buf bytes.Buffer
	err := digestTemplate.Execute(&buf, struct {
		Count  int
		Groups []digestGroup
	}{Count: len(items), Groups: groups})
	if err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}

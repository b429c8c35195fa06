package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	emailusecase "github.com/elie222/inbox-zero-sub019/internal/email/usecase"
	executionusecase "github.com/elie222/inbox-zero-sub019/internal/execution/usecase"
	"github.com/elie222/inbox-zero-sub019/internal/history/domain"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	rulerepo "github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// Reconciler turns "something changed" notifications into one
// process-message task per new message.
type Reconciler struct {
	accounts     authrepo.AccountRepository
	providers    emailusecase.ProviderFactory
	rules        rulerepo.RuleRepository
	publisher    queuedomain.Publisher
	resyncWindow time.Duration
	resyncLimit  int
	now          func() time.Time
}

func NewReconciler(
	accounts authrepo.AccountRepository,
	providers emailusecase.ProviderFactory,
	rules rulerepo.RuleRepository,
	publisher queuedomain.Publisher,
	resyncWindow time.Duration,
	resyncLimit int,
) *Reconciler {
	if resyncWindow <= 0 {
		resyncWindow = 24 * time.Hour
	}
	if resyncLimit <= 0 {
		resyncLimit = 50
	}
	return &Reconciler{
		accounts:     accounts,
		providers:    providers,
		rules:        rules,
		publisher:    publisher,
		resyncWindow: resyncWindow,
		resyncLimit:  resyncLimit,
		now:          time.Now,
	}
}

// Enqueue queues a notification on the mailbox's history queue so that
// notifications for one address are reconciled one at a time.
func (r *Reconciler) Enqueue(ctx context.Context, n domain.Notification) error {
	address := n.Address()
	if address == "" {
		return fmt.Errorf("notification has no email address")
	}
	n.EmailAddress = address
	var opts []queuedomain.PublishOption
	if n.Cursor != "" {
		opts = append(opts, queuedomain.WithDedupeKey(fmt.Sprintf("history:%s:%s", address, n.Cursor)))
	}
	return r.publisher.Publish(ctx, queuedomain.HistoryQueue(address), 1, queuedomain.URLReconcile, n, opts...)
}

// Handle is the queue handler for URLReconcile.
func (r *Reconciler) Handle(ctx context.Context, task *queuedomain.Task) error {
	var n domain.Notification
	if err := json.Unmarshal(task.Body, &n); err != nil || n.Address() == "" {
		logger.Logger.Error().Str("job_id", task.JobID).Msg("[Reconciler] Dropping malformed task")
		return nil
	}
	_, err := r.HandleNotification(ctx, n)
	return err
}

// HandleNotification reads everything that changed since the stored
// cursor, publishes a task per message and only then moves the cursor
// forward. A failure before the cursor is saved means the next attempt
// sees the same changes again; the queue's dedupe keys absorb the repeats.
func (r *Reconciler) HandleNotification(ctx context.Context, n domain.Notification) (*domain.Result, error) {
	log := logger.Logger.With().Str("address", n.Address()).Logger()

	account, err := r.accounts.FindByEmail(n.Address())
	if err != nil {
		return nil, err
	}
	if account == nil {
		log.Info().Msg("[Reconciler] No account for address, ignoring")
		return &domain.Result{}, nil
	}

	provider, err := r.providers.ForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("unable to open mailbox: %w", err)
	}

	res := &domain.Result{}
	var set *emaildomain.ChangeSet
	if account.HistoryCursor != "" {
		set, err = provider.ListChangesSince(ctx, account.HistoryCursor)
		if errors.Is(err, emaildomain.ErrCursorExpired) {
			log.Warn().Str("cursor", account.HistoryCursor).Msg("[Reconciler] Cursor expired, resyncing recent mail")
			set, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if set == nil {
		res.Resynced = true
		set, err = provider.ListRecent(ctx, r.now().Add(-r.resyncWindow), r.resyncLimit)
		if err != nil {
			return nil, err
		}
	}

	includeSent, err := r.wantsSent(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(set.Changes))
	for _, c := range set.Changes {
		if c.MessageID == "" || seen[c.MessageID] {
			continue
		}
		seen[c.MessageID] = true
		if c.IsSent && !includeSent {
			continue
		}
		err := r.publisher.Publish(ctx, queuedomain.AccountQueue(account.ID), 1, queuedomain.URLProcessMessage,
			executionusecase.ProcessMessageRequest{AccountID: account.ID, MessageID: c.MessageID, ThreadID: c.ThreadID},
			queuedomain.WithDedupeKey(fmt.Sprintf("process:%s:%s", account.ID, c.MessageID)))
		if err != nil {
			return nil, fmt.Errorf("failed to publish message %s: %w", c.MessageID, err)
		}
		res.Published++
	}

	res.Cursor = account.HistoryCursor
	if set.NewCursor != "" && set.NewCursor != account.HistoryCursor {
		if err := r.accounts.UpdateCursor(account.ID, set.NewCursor); err != nil {
			return nil, fmt.Errorf("failed to save cursor: %w", err)
		}
		res.Cursor = set.NewCursor
	}

	log.Info().Int("published", res.Published).Bool("resynced", res.Resynced).Str("cursor", res.Cursor).Msg("[Reconciler] Reconciled mailbox")
	return res, nil
}

func (r *Reconciler) wantsSent(ctx context.Context, accountID string) (bool, error) {
	rules, err := r.rules.ListEnabled(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, rule := range rules {
		if rule.IncludeSent {
			return true, nil
		}
	}
	return false, nil
}

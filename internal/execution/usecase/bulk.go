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
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

type BulkOperation string

const (
	BulkProcess  BulkOperation = "process"
	BulkArchive  BulkOperation = "archive"
	BulkMarkRead BulkOperation = "mark_read"
)

var ErrInvalidBulk = errors.New("invalid bulk request")

// BulkRequest is the queue payload for URLBulk. Process runs the rules
// over recent inbox mail; archive and mark_read act on MessageIDs.
type BulkRequest struct {
	AccountID  string        `json:"account_id"`
	Operation  BulkOperation `json:"operation"`
	Days       int           `json:"days,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	MessageIDs []string      `json:"message_ids,omitempty"`
}

func (r BulkRequest) Validate() error {
	switch r.Operation {
	case BulkProcess:
		return nil
	case BulkArchive, BulkMarkRead:
		if len(r.MessageIDs) == 0 {
			return fmt.Errorf("%w: no messages given", ErrInvalidBulk)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidBulk, r.Operation)
	}
}

type BulkRunner struct {
	accounts  authrepo.AccountRepository
	providers emailusecase.ProviderFactory
	publisher queuedomain.Publisher
}

func NewBulkRunner(accounts authrepo.AccountRepository, providers emailusecase.ProviderFactory, publisher queuedomain.Publisher) *BulkRunner {
	return &BulkRunner{accounts: accounts, providers: providers, publisher: publisher}
}

// Submit validates req and queues it on the account's bulk queue.
func (b *BulkRunner) Submit(ctx context.Context, req BulkRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return b.publisher.Publish(ctx, queuedomain.BulkQueue(req.AccountID), 3, queuedomain.URLBulk, req)
}

// Handle is the queue handler for URLBulk. Every operation is safe to
// repeat, so a retry after a transient failure simply starts over.
func (b *BulkRunner) Handle(ctx context.Context, task *queuedomain.Task) error {
	var req BulkRequest
	if err := json.Unmarshal(task.Body, &req); err != nil || req.Validate() != nil {
		logger.Logger.Error().Str("job_id", task.JobID).Msg("[Bulk] Dropping malformed task")
		return nil
	}
	account, err := b.accounts.FindByID(req.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}
	provider, err := b.providers.ForAccount(ctx, account)
	if err != nil {
		return err
	}

	switch req.Operation {
	case BulkProcess:
		return b.process(ctx, provider, req)
	case BulkArchive:
		return b.each(ctx, req, provider.Archive)
	default:
		return b.each(ctx, req, provider.MarkRead)
	}
}

func (b *BulkRunner) process(ctx context.Context, provider emaildomain.MailProvider, req BulkRequest) error {
	days, limit := req.Days, req.Limit
	if days <= 0 || days > 30 {
		days = 7
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	set, err := provider.ListRecent(ctx, time.Now().AddDate(0, 0, -days), limit)
	if err != nil {
		return err
	}
	for _, c := range set.Changes {
		if c.IsSent {
			continue
		}
		err := b.publisher.Publish(ctx, queuedomain.AccountQueue(req.AccountID), 1, queuedomain.URLProcessMessage,
			ProcessMessageRequest{AccountID: req.AccountID, MessageID: c.MessageID, ThreadID: c.ThreadID},
			queuedomain.WithDedupeKey(fmt.Sprintf("process:%s:%s", req.AccountID, c.MessageID)))
		if err != nil {
			return err
		}
	}
	logger.Logger.Info().Str("account_id", req.AccountID).Int("messages", len(set.Changes)).Msg("[Bulk] Queued messages for processing")
	return nil
}

func (b *BulkRunner) each(ctx context.Context, req BulkRequest, op func(context.Context, string) error) error {
	failed := 0
	for _, id := range req.MessageIDs {
		err := op(ctx, id)
		switch {
		case err == nil, errors.Is(err, emaildomain.ErrNotFound):
		case errors.Is(err, emaildomain.ErrTransient):
			return err
		default:
			failed++
			logger.Logger.Warn().Err(err).Str("message_id", id).Str("operation", string(req.Operation)).Msg("[Bulk] Operation failed")
		}
	}
	logger.Logger.Info().Str("account_id", req.AccountID).Int("messages", len(req.MessageIDs)).Int("failed", failed).
		Str("operation", string(req.Operation)).Msg("[Bulk] Done")
	return nil
}

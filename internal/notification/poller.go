package notification

import (
	"context"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	historydomain "github.com/elie222/inbox-zero-sub019/internal/history/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// IMAPPoller stands in for push notifications on IMAP mailboxes: every
// interval each IMAP account gets a notification, and the reconciler
// works out from the stored UID cursor whether anything arrived.
type IMAPPoller struct {
	accounts authrepo.AccountRepository
	enqueuer Enqueuer
	interval time.Duration
	stopChan chan struct{}
}

func NewIMAPPoller(accounts authrepo.AccountRepository, enqueuer Enqueuer, interval time.Duration) *IMAPPoller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &IMAPPoller{
		accounts: accounts,
		enqueuer: enqueuer,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (p *IMAPPoller) Start(ctx context.Context) {
	logger.Logger.Info().Dur("interval", p.interval).Msg("[IMAPPoller] Starting")
	go func() {
		p.Poll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Poll(ctx)
			case <-p.stopChan:
				logger.Logger.Info().Msg("[IMAPPoller] Stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *IMAPPoller) Stop() {
	close(p.stopChan)
}

// Poll queues one notification per IMAP account and returns how many
// were queued.
func (p *IMAPPoller) Poll(ctx context.Context) int {
	accounts, err := p.accounts.ListByProvider(authdomain.ProviderIMAP)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("[IMAPPoller] Failed to list accounts")
		return 0
	}
	queued := 0
	for _, account := range accounts {
		if err := p.enqueuer.Enqueue(ctx, historydomain.Notification{EmailAddress: account.Email}); err != nil {
			logger.Logger.Warn().Err(err).Str("account_id", account.ID).Msg("[IMAPPoller] Failed to queue poll")
			continue
		}
		queued++
	}
	return queued
}

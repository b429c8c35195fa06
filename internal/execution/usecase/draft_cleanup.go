package usecase

import (
	"context"
	"errors"
	"time"

	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	emailusecase "github.com/elie222/inbox-zero-sub019/internal/email/usecase"
	"github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/fuzzy"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

const cleanupBatch = 200

// CleanupResult counts what one cleanup pass did.
type CleanupResult struct {
	Deleted int
	Kept    int
	Missing int
}

// DraftCleaner deletes AI drafts nobody touched. A draft whose text still
// matches what was generated exactly is removed once it is older than
// staleAfter; any edit keeps it.
type DraftCleaner struct {
	ledger     repository.LedgerRepository
	accounts   authrepo.AccountRepository
	providers  emailusecase.ProviderFactory
	staleAfter time.Duration
	interval   time.Duration
	stopChan   chan struct{}
}

func NewDraftCleaner(ledger repository.LedgerRepository, accounts authrepo.AccountRepository, providers emailusecase.ProviderFactory, staleAfter, interval time.Duration) *DraftCleaner {
	if staleAfter <= 0 {
		staleAfter = 72 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &DraftCleaner{
		ledger:     ledger,
		accounts:   accounts,
		providers:  providers,
		staleAfter: staleAfter,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

func (c *DraftCleaner) Start(ctx context.Context) {
	logger.Logger.Info().Dur("interval", c.interval).Dur("stale_after", c.staleAfter).Msg("[DraftCleanup] Starting")
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.Run(ctx, time.Now()); err != nil {
					logger.Logger.Error().Err(err).Msg("[DraftCleanup] Pass failed")
				}
			case <-ctx.Done():
				return
			case <-c.stopChan:
				logger.Logger.Info().Msg("[DraftCleanup] Stopped")
				return
			}
		}
	}()
}

func (c *DraftCleaner) Stop() {
	close(c.stopChan)
}

// Run does one pass over drafts created before now minus staleAfter.
func (c *DraftCleaner) Run(ctx context.Context, now time.Time) (CleanupResult, error) {
	var res CleanupResult
	stale, err := c.ledger.StaleDrafts(ctx, now.Add(-c.staleAfter), cleanupBatch)
	if err != nil {
		return res, err
	}

	providers := map[string]emaildomain.MailProvider{}
	for _, action := range stale {
		log := logger.Logger.With().Str("account_id", action.AccountID).Str("draft_id", action.DraftID).Logger()

		provider, ok := providers[action.AccountID]
		if !ok {
			provider, err = c.providerFor(ctx, action.AccountID)
			if err != nil {
				log.Warn().Err(err).Msg("[DraftCleanup] Provider unavailable")
				continue
			}
			providers[action.AccountID] = provider
		}
		if provider == nil {
			// Account is gone; nothing left to clean.
			if err := c.ledger.MarkConsumed(ctx, action.ID, now); err != nil {
				return res, err
			}
			res.Missing++
			continue
		}

		draft, err := provider.GetDraft(ctx, action.DraftID)
		if errors.Is(err, emaildomain.ErrNotFound) {
			// Sent or deleted by the user.
			if err := c.ledger.MarkConsumed(ctx, action.ID, now); err != nil {
				return res, err
			}
			res.Missing++
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("[DraftCleanup] Failed to read draft")
			continue
		}

		if fuzzy.Similarity(draft.Body, action.Content) < 1.0 {
			if err := c.ledger.MarkChecked(ctx, action.ID, now); err != nil {
				return res, err
			}
			res.Kept++
			continue
		}
		if err := provider.DeleteDraft(ctx, action.DraftID); err != nil && !errors.Is(err, emaildomain.ErrNotFound) {
			log.Warn().Err(err).Msg("[DraftCleanup] Failed to delete draft")
			continue
		}
		if err := c.ledger.MarkConsumed(ctx, action.ID, now); err != nil {
			return res, err
		}
		res.Deleted++
	}

	if len(stale) > 0 {
		logger.Logger.Info().Int("deleted", res.Deleted).Int("kept", res.Kept).Int("missing", res.Missing).Msg("[DraftCleanup] Pass complete")
	}
	return res, nil
}

func (c *DraftCleaner) providerFor(ctx context.Context, accountID string) (emaildomain.MailProvider, error) {
	account, err := c.accounts.FindByID(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	return c.providers.ForAccount(ctx, account)
}

package notification

import (
	"context"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/gmail"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"golang.org/x/oauth2"
)

// Watcher starts a Gmail push watch; *gmail.Service implements it.
type Watcher interface {
	Watch(ctx context.Context, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh emaildomain.TokenUpdateFunc) (*gmail.WatchResult, error)
}

// WatchRenewer keeps Gmail watches alive. Gmail expires a watch after
// seven days; anything expiring within renewAhead is renewed.
type WatchRenewer struct {
	accounts   authrepo.AccountRepository
	watcher    Watcher
	interval   time.Duration
	renewAhead time.Duration
	stopChan   chan struct{}
}

func NewWatchRenewer(accounts authrepo.AccountRepository, watcher Watcher, interval time.Duration) *WatchRenewer {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &WatchRenewer{
		accounts:   accounts,
		watcher:    watcher,
		interval:   interval,
		renewAhead: 24 * time.Hour,
		stopChan:   make(chan struct{}),
	}
}

func (w *WatchRenewer) Start(ctx context.Context) {
	logger.Logger.Info().Dur("interval", w.interval).Msg("[WatchRenewer] Starting")
	go func() {
		w.Renew(ctx, time.Now())

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				w.Renew(ctx, now)
			case <-w.stopChan:
				logger.Logger.Info().Msg("[WatchRenewer] Stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *WatchRenewer) Stop() {
	close(w.stopChan)
}

// Renew re-watches every Gmail account whose watch is missing or about to
// expire and returns the number renewed.
func (w *WatchRenewer) Renew(ctx context.Context, now time.Time) int {
	accounts, err := w.accounts.ListWatchesExpiringBefore(now.Add(w.renewAhead))
	if err != nil {
		logger.Logger.Error().Err(err).Msg("[WatchRenewer] Failed to list accounts")
		return 0
	}
	renewed := 0
	for i := range accounts {
		if err := w.RenewAccount(ctx, &accounts[i]); err != nil {
			logger.Logger.Warn().Err(err).Str("account_id", accounts[i].ID).Msg("[WatchRenewer] Failed to renew watch")
			continue
		}
		renewed++
	}
	if renewed > 0 {
		logger.Logger.Info().Int("renewed", renewed).Msg("[WatchRenewer] Watches renewed")
	}
	return renewed
}

// RenewAccount starts a watch for one account. A first watch also seeds
// the history cursor so the first notification has a starting point.
func (w *WatchRenewer) RenewAccount(ctx context.Context, account *authdomain.Account) error {
	onRefresh := func(token *oauth2.Token) error {
		expiry := token.Expiry.UTC()
		return w.accounts.UpdateTokens(account.ID, token.AccessToken, token.RefreshToken, &expiry)
	}
	res, err := w.watcher.Watch(ctx, account.AccessToken, account.RefreshToken, account.TokenExpiry, onRefresh)
	if err != nil {
		return err
	}
	if err := w.accounts.UpdateWatchExpiry(account.ID, res.ExpiresAt); err != nil {
		return err
	}
	if account.HistoryCursor == "" && res.HistoryID != "" {
		return w.accounts.UpdateCursor(account.ID, res.HistoryID)
	}
	return nil
}

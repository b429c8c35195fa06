package notification

import (
	"context"

	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/fcm"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// DeviceSender delivers to FCM tokens; *fcm.Client implements it.
type DeviceSender interface {
	SendToDevices(ctx context.Context, tokens []string, n fcm.Notification) ([]string, error)
}

// Pusher sends push notifications to every registered device of an
// account and forgets tokens FCM rejects.
type Pusher struct {
	tokens authrepo.FCMTokenRepository
	sender DeviceSender
}

func NewPusher(tokens authrepo.FCMTokenRepository, sender DeviceSender) *Pusher {
	return &Pusher{tokens: tokens, sender: sender}
}

func (p *Pusher) Notify(ctx context.Context, accountID string, n fcm.Notification) {
	if p == nil || p.sender == nil {
		return
	}
	tokens, err := p.tokens.GetTokensByAccountID(accountID)
	if err != nil {
		logger.Logger.Warn().Err(err).Str("account_id", accountID).Msg("[FCM] Failed to load tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}
	values := make([]string, 0, len(tokens))
	for _, t := range tokens {
		values = append(values, t.Token)
	}

	failed, err := p.sender.SendToDevices(ctx, values, n)
	if err != nil {
		logger.Logger.Warn().Err(err).Str("account_id", accountID).Msg("[FCM] Failed to send notification")
		return
	}
	for _, token := range failed {
		if err := p.tokens.DeleteToken(token); err != nil {
			logger.Logger.Warn().Err(err).Msg("[FCM] Failed to delete rejected token")
		}
	}
	logger.Logger.Debug().Str("account_id", accountID).Int("devices", len(values)-len(failed)).Msg("[FCM] Notification sent")
}

package delivery

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/elie222/inbox-zero-sub019/internal/history/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, n domain.Notification) error
}

// WebhookHandler receives Gmail watch notifications pushed by Pub/Sub.
type WebhookHandler struct {
	reconciler Enqueuer
	token      string
}

func NewWebhookHandler(reconciler Enqueuer, token string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, token: token}
}

type pushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (h *WebhookHandler) Register(r gin.IRouter) {
	r.POST("/webhooks/google", h.HandleGoogle)
}

// HandleGoogle answers 200 for pushes it cannot use so Pub/Sub does not
// redeliver them. Only a failure to queue returns an error status.
func (h *WebhookHandler) HandleGoogle(c *gin.Context) {
	if h.token != "" {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			logger.Logger.Warn().Str("ip", c.ClientIP()).Msg("[Webhook] Rejected push with bad token")
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			return
		}
	}

	var env pushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		logger.Logger.Warn().Err(err).Msg("[Webhook] Malformed push envelope")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
	}
	if err != nil {
		logger.Logger.Warn().Err(err).Str("pubsub_id", env.Message.MessageID).Msg("[Webhook] Undecodable push data")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	n, err := domain.ParseGmailPayload(data)
	if err != nil {
		logger.Logger.Warn().Err(err).Str("pubsub_id", env.Message.MessageID).Msg("[Webhook] Ignoring push")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.reconciler.Enqueue(c.Request.Context(), n); err != nil {
		logger.Logger.Error().Err(err).Str("address", n.Address()).Msg("[Webhook] Failed to queue notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue notification"})
		return
	}
	logger.Logger.Debug().Str("address", n.Address()).Str("history_id", n.Cursor).Msg("[Webhook] Queued notification")
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

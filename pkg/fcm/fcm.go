package fcm

import (
	"context"
	"fmt"

	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client wraps Firebase Cloud Messaging.
type Client struct {
	messagingClient *messaging.Client
}

// NewClient creates an FCM client. An empty credentials path falls back to
// application default credentials.
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.Logger.Info().Msg("[FCM] Client initialized")
	return &Client{messagingClient: messagingClient}, nil
}

// Notification is the visible part plus a data payload.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
	Link  string // opened when the web notification is clicked
}

// SendToDevices multicasts n and returns the tokens that were rejected so
// the caller can forget them.
func (c *Client) SendToDevices(ctx context.Context, tokens []string, n Notification) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	webpush := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: n.Title,
			Body:  n.Body,
			Icon:  "/icon-192.svg",
		},
	}
	if n.Link != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: n.Link}
	}

	response, err := c.messagingClient.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
		Webpush:      webpush,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	logger.Logger.Debug().
		Int("success", response.SuccessCount).
		Int("failure", response.FailureCount).
		Msg("[FCM] Multicast sent")

	var failed []string
	for i, resp := range response.Responses {
		if !resp.Success {
			failed = append(failed, tokens[i])
		}
	}
	return failed, nil
}

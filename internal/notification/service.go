package notification

import (
	"context"
	"fmt"
	"time"

	historydomain "github.com/elie222/inbox-zero-sub019/internal/history/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Enqueuer hands a mailbox notification to the reconciler's queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, n historydomain.Notification) error
}

// Service pulls Gmail watch notifications from a Pub/Sub subscription.
// It is the alternative to the push webhook for deployments without a
// public endpoint; both end in the same reconcile queue.
type Service struct {
	pubsubClient *pubsub.Client
	enqueuer     Enqueuer
	topicName    string
	subName      string
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, enqueuer Enqueuer) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient: client,
		enqueuer:     enqueuer,
		topicName:    topicName,
		subName:      topicName + "-sub",
	}, nil
}

// Start blocks receiving messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	logger.Logger.Info().Str("subscription", s.subName).Msg("[PubSub] Listening for mailbox notifications")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handleMessage(ctx, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive stopped: %w", err)
	}
	return nil
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 20 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	logger.Logger.Info().Str("subscription", s.subName).Msg("[PubSub] Created subscription")
	return sub, nil
}

// handleMessage reports whether the message can be acked. Payloads that
// will never parse are acked so they are not redelivered forever.
func (s *Service) handleMessage(ctx context.Context, data []byte) bool {
	n, err := historydomain.ParseGmailPayload(data)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("[PubSub] Dropping unusable message")
		return true
	}
	if err := s.enqueuer.Enqueue(ctx, n); err != nil {
		logger.Logger.Error().Err(err).Str("address", n.Address()).Msg("[PubSub] Failed to queue notification")
		return false
	}
	logger.Logger.Debug().Str("address", n.Address()).Str("history_id", n.Cursor).Msg("[PubSub] Queued notification")
	return true
}

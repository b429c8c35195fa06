package gmail

import (
	"context"
	"fmt"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

type Service struct {
	clientID     string
	clientSecret string
	topicName    string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			logger.Logger.Error().Err(err).Msg("[Gmail] Failed to persist refreshed token")
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret, topicName string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		topicName:    topicName,
	}
}

// GetGmailService creates Gmail service with the account's tokens. A
// refresh is forced when the stored expiry is unknown or past.
func (s *Service) GetGmailService(ctx context.Context, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if expiry != nil {
		token.Expiry = *expiry
	} else if refreshToken != "" {
		token.Expiry = time.Now()
	}

	wrappedSource := &notifyTokenSource{
		src:      s.oauthConfig("").TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return srv, nil
}

func (s *Service) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailSettingsBasicScope},
	}
}

// AuthCodeURL is where the user grants mailbox access.
func (s *Service) AuthCodeURL(state, redirectURL string) string {
	return s.oauthConfig(redirectURL).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and returns them with
// the address of the mailbox they grant access to.
func (s *Service) Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, string, error) {
	token, err := s.oauthConfig(redirectURL).Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("unable to exchange authorization code: %w", err)
	}
	expiry := token.Expiry
	srv, err := s.GetGmailService(ctx, token.AccessToken, token.RefreshToken, &expiry, nil)
	if err != nil {
		return nil, "", err
	}
	profile, err := srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return nil, "", classify(fmt.Errorf("unable to get profile: %w", err))
	}
	return token, profile.EmailAddress, nil
}

// NewProvider returns the MailProvider for one Gmail account.
func (s *Service) NewProvider(ctx context.Context, email, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh TokenUpdateFunc) (*Provider, error) {
	srv, err := s.GetGmailService(ctx, accessToken, refreshToken, expiry, onTokenRefresh)
	if err != nil {
		return nil, err
	}
	return newProvider(srv, email), nil
}

// WatchResult carries what Users.Watch returned.
type WatchResult struct {
	HistoryID string
	ExpiresAt time.Time
}

// Watch sets up push notifications for the account's inbox on the
// configured Pub/Sub topic.
func (s *Service) Watch(ctx context.Context, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh TokenUpdateFunc) (*WatchResult, error) {
	srv, err := s.GetGmailService(ctx, accessToken, refreshToken, expiry, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	// Only one push client is allowed per user; a stale watch must go first.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName:         s.topicName,
		LabelIds:          []string{"INBOX", "SENT"},
		LabelFilterAction: "include",
	}

	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to watch mailbox: %w", err))
	}
	logger.Logger.Info().Int64("expiration", resp.Expiration).Uint64("history_id", resp.HistoryId).Msg("[Gmail] Watch started")

	return &WatchResult{
		HistoryID: fmt.Sprintf("%d", resp.HistoryId),
		ExpiresAt: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// Stop stops push notifications for the account's mailbox
func (s *Service) Stop(ctx context.Context, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.GetGmailService(ctx, accessToken, refreshToken, expiry, onTokenRefresh)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %w", err)
	}
	return nil
}

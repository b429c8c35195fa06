package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authdto "github.com/elie222/inbox-zero-sub019/internal/auth/dto"
	"github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/crypto"
	"github.com/elie222/inbox-zero-sub019/pkg/imap"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrAccountMissing = errors.New("account not found")
	ErrNotConfigured  = errors.New("provider is not configured")
)

// GoogleExchanger completes the OAuth flow for a Gmail mailbox;
// *gmail.Service implements it.
type GoogleExchanger interface {
	Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, string, error)
}

// ConnectHook runs after an account is connected or reconnected, e.g. to
// start a Gmail watch or seed default rules. Failures are logged only.
type ConnectHook func(ctx context.Context, account *authdomain.Account) error

type AuthUsecase struct {
	accounts    repository.AccountRepository
	fcmTokens   repository.FCMTokenRepository
	google      GoogleExchanger
	box         *crypto.Box
	verifyIMAP  func(imap.Config) error
	hooks       []ConnectHook
	jwtSecret   []byte
	jwtExpiry   time.Duration
	redirectURL string
	now         func() time.Time
}

func NewAuthUsecase(
	accounts repository.AccountRepository,
	fcmTokens repository.FCMTokenRepository,
	google GoogleExchanger,
	box *crypto.Box,
	jwtSecret string,
	jwtExpiry time.Duration,
	redirectURL string,
) *AuthUsecase {
	if jwtExpiry <= 0 {
		jwtExpiry = 7 * 24 * time.Hour
	}
	return &AuthUsecase{
		accounts:    accounts,
		fcmTokens:   fcmTokens,
		google:      google,
		box:         box,
		verifyIMAP:  imap.Verify,
		jwtSecret:   []byte(jwtSecret),
		jwtExpiry:   jwtExpiry,
		redirectURL: redirectURL,
		now:         time.Now,
	}
}

// OnConnect registers a hook run after every successful connect.
func (u *AuthUsecase) OnConnect(hook ConnectHook) {
	u.hooks = append(u.hooks, hook)
}

func (u *AuthUsecase) ConnectGoogle(ctx context.Context, req *authdto.GoogleConnectRequest) (*authdto.TokenResponse, error) {
	if u.google == nil {
		return nil, fmt.Errorf("%w: google", ErrNotConfigured)
	}
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = u.redirectURL
	}
	token, address, err := u.google.Exchange(ctx, req.Code, redirect)
	if err != nil {
		return nil, err
	}
	expiry := token.Expiry.UTC()
	account := &authdomain.Account{
		Email:        strings.ToLower(address),
		Provider:     authdomain.ProviderGoogle,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  &expiry,
	}
	return u.connect(ctx, account)
}

func (u *AuthUsecase) ConnectIMAP(ctx context.Context, req *authdto.IMAPConnectRequest) (*authdto.TokenResponse, error) {
	if u.box == nil {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not set", ErrNotConfigured)
	}
	cfg := imap.Config{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Name:     req.Name,
		Host:     req.IMAPServer,
		Port:     req.IMAPPort,
		Username: req.Username,
		Password: req.Password,
		SMTPHost: req.SMTPServer,
		SMTPPort: req.SMTPPort,
	}
	if err := u.verifyIMAP(cfg); err != nil {
		return nil, fmt.Errorf("unable to log in to %s: %w", req.IMAPServer, err)
	}
	sealed, err := u.box.Encrypt(req.Password)
	if err != nil {
		return nil, err
	}
	account := &authdomain.Account{
		Email:        cfg.Email,
		Name:         req.Name,
		Provider:     authdomain.ProviderIMAP,
		IMAPServer:   req.IMAPServer,
		IMAPPort:     req.IMAPPort,
		IMAPUsername: req.Username,
		IMAPPassword: sealed,
		SMTPServer:   req.SMTPServer,
		SMTPPort:     req.SMTPPort,
	}
	return u.connect(ctx, account)
}

func (u *AuthUsecase) connect(ctx context.Context, account *authdomain.Account) (*authdto.TokenResponse, error) {
	if err := u.accounts.Upsert(account); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	stored, err := u.accounts.FindByEmail(account.Email)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrAccountMissing
	}
	for _, hook := range u.hooks {
		if err := hook(ctx, stored); err != nil {
			logger.Logger.Warn().Err(err).Str("account_id", stored.ID).Msg("[Auth] Connect hook failed")
		}
	}
	logger.Logger.Info().Str("account_id", stored.ID).Str("provider", stored.Provider).Msg("[Auth] Account connected")
	return u.issue(stored)
}

func (u *AuthUsecase) issue(account *authdomain.Account) (*authdto.TokenResponse, error) {
	expiresAt := u.now().Add(u.jwtExpiry).UTC()
	claims := jwt.RegisteredClaims{
		Subject:   account.ID,
		IssuedAt:  jwt.NewNumericDate(u.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &authdto.TokenResponse{AccessToken: signed, ExpiresAt: expiresAt, Account: account}, nil
}

// ValidateToken returns the account id a bearer token was issued for.
func (u *AuthUsecase) ValidateToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return u.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(u.now))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	account, err := u.accounts.FindByID(claims.Subject)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", ErrInvalidToken
	}
	return account.ID, nil
}

func (u *AuthUsecase) Me(accountID string) (*authdomain.Account, error) {
	account, err := u.accounts.FindByID(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountMissing
	}
	return account, nil
}

func (u *AuthUsecase) RegisterFCMToken(accountID string, req *authdto.FCMTokenRequest) error {
	return u.fcmTokens.SaveToken(accountID, req.Token, req.DeviceInfo)
}

func (u *AuthUsecase) UnregisterFCMToken(token string) error {
	return u.fcmTokens.DeleteToken(token)
}

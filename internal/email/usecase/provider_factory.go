package usecase

import (
	"context"
	"fmt"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/crypto"
	"github.com/elie222/inbox-zero-sub019/pkg/gmail"
	"github.com/elie222/inbox-zero-sub019/pkg/imap"

	"golang.org/x/oauth2"
)

// ProviderFactory builds the MailProvider for an account. Callers above
// this point never branch on the provider kind.
type ProviderFactory interface {
	ForAccount(ctx context.Context, account *authdomain.Account) (emaildomain.MailProvider, error)
}

type providerFactory struct {
	gmailService *gmail.Service
	box          *crypto.Box
	accountRepo  authrepo.AccountRepository
}

func NewProviderFactory(gmailService *gmail.Service, box *crypto.Box, accountRepo authrepo.AccountRepository) ProviderFactory {
	return &providerFactory{
		gmailService: gmailService,
		box:          box,
		accountRepo:  accountRepo,
	}
}

func (f *providerFactory) ForAccount(ctx context.Context, account *authdomain.Account) (emaildomain.MailProvider, error) {
	switch account.Provider {
	case authdomain.ProviderGoogle:
		if f.gmailService == nil {
			return nil, fmt.Errorf("gmail is not configured")
		}
		return f.gmailService.NewProvider(ctx, account.Email, account.AccessToken, account.RefreshToken,
			account.TokenExpiry, f.makeTokenUpdateCallback(account.ID))

	case authdomain.ProviderIMAP:
		if f.box == nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY is not configured")
		}
		password, err := f.box.Decrypt(account.IMAPPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password: %w", err)
		}
		return imap.NewProvider(imap.Config{
			Email:    account.Email,
			Name:     account.Name,
			Host:     account.IMAPServer,
			Port:     account.IMAPPort,
			Username: account.IMAPUsername,
			Password: password,
			SMTPHost: account.SMTPServer,
			SMTPPort: account.SMTPPort,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", account.Provider)
	}
}

func (f *providerFactory) makeTokenUpdateCallback(accountID string) emaildomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		expiry := token.Expiry.UTC()
		return f.accountRepo.UpdateTokens(accountID, token.AccessToken, token.RefreshToken, &expiry)
	}
}

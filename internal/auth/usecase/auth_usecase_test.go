package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authdto "github.com/elie222/inbox-zero-sub019/internal/auth/dto"
	"github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"
	"github.com/elie222/inbox-zero-sub019/pkg/crypto"
	"github.com/elie222/inbox-zero-sub019/pkg/imap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	address string
}

func (f fakeExchanger) Exchange(context.Context, string, string) (*oauth2.Token, string, error) {
	return &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}, f.address, nil
}

func newAuth(t *testing.T) (*AuthUsecase, repository.AccountRepository) {
	db := testutil.NewDB(t, &authdomain.Account{}, &authdomain.FCMToken{})
	accounts := repository.NewAccountRepository(db)
	box, err := crypto.NewBox("passphrase")
	require.NoError(t, err)
	u := NewAuthUsecase(accounts, repository.NewFCMTokenRepository(db), fakeExchanger{address: "Me@Gmail.com"}, box, "secret", time.Hour, "")
	u.verifyIMAP = func(imap.Config) error { return nil }
	return u, accounts
}

func TestConnectGoogle_IssuesValidToken(t *testing.T) {
	u, accounts := newAuth(t)
	var hooked []string
	u.OnConnect(func(_ context.Context, a *authdomain.Account) error {
		hooked = append(hooked, a.ID)
		return errors.New("watch failed")
	})

	resp, err := u.ConnectGoogle(context.Background(), &authdto.GoogleConnectRequest{Code: "code"})
	require.NoError(t, err)
	assert.Equal(t, "me@gmail.com", resp.Account.Email)
	assert.Equal(t, []string{resp.Account.ID}, hooked)

	accountID, err := u.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.Account.ID, accountID)

	stored, err := accounts.FindByID(accountID)
	require.NoError(t, err)
	assert.Equal(t, "refresh", stored.RefreshToken)
}

func TestConnectIMAP_SealsPassword(t *testing.T) {
	u, accounts := newAuth(t)
	resp, err := u.ConnectIMAP(context.Background(), &authdto.IMAPConnectRequest{
		Email: "me@fastmail.test", Password: "hunter2", IMAPServer: "imap.fastmail.test", IMAPPort: 993,
	})
	require.NoError(t, err)

	stored, err := accounts.FindByID(resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, authdomain.ProviderIMAP, stored.Provider)
	assert.NotEqual(t, "hunter2", stored.IMAPPassword)

	plain, err := u.box.Decrypt(stored.IMAPPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestConnectIMAP_LoginFailure(t *testing.T) {
	u, _ := newAuth(t)
	u.verifyIMAP = func(imap.Config) error { return errors.New("authentication failed") }
	_, err := u.ConnectIMAP(context.Background(), &authdto.IMAPConnectRequest{
		Email: "me@fastmail.test", Password: "wrong", IMAPServer: "imap.fastmail.test",
	})
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	u, _ := newAuth(t)
	resp, err := u.ConnectGoogle(context.Background(), &authdto.GoogleConnectRequest{Code: "code"})
	require.NoError(t, err)

	_, err = u.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	u.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = u.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthUsecase(nil, nil, nil, nil, "different", time.Hour, "")
	_, err = other.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFCMTokens_RegisterMovesTokenAndUnregisterRemovesIt(t *testing.T) {
	u, _ := newAuth(t)

	require.NoError(t, u.RegisterFCMToken("acct-a", &authdto.FCMTokenRequest{Token: "device-1", DeviceInfo: "phone"}))
	require.NoError(t, u.RegisterFCMToken("acct-a", &authdto.FCMTokenRequest{Token: "device-2"}))
	// The same device signing in to another account takes the token with it.
	require.NoError(t, u.RegisterFCMToken("acct-b", &authdto.FCMTokenRequest{Token: "device-1", DeviceInfo: "phone"}))

	a, err := u.fcmTokens.GetTokensByAccountID("acct-a")
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "device-2", a[0].Token)

	b, err := u.fcmTokens.GetTokensByAccountID("acct-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "phone", b[0].DeviceInfo)

	require.NoError(t, u.UnregisterFCMToken("device-1"))
	b, err = u.fcmTokens.GetTokensByAccountID("acct-b")
	require.NoError(t, err)
	assert.Empty(t, b)
}

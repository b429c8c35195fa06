package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	historydomain "github.com/elie222/inbox-zero-sub019/internal/history/domain"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"
	"github.com/elie222/inbox-zero-sub019/pkg/fcm"
	"github.com/elie222/inbox-zero-sub019/pkg/gmail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	got []historydomain.Notification
	err error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, n historydomain.Notification) error {
	if e.err != nil {
		return e.err
	}
	e.got = append(e.got, n)
	return nil
}

func newAccounts(t *testing.T) (authrepo.AccountRepository, authrepo.FCMTokenRepository) {
	db := testutil.NewDB(t, &authdomain.Account{}, &authdomain.FCMToken{})
	return authrepo.NewAccountRepository(db), authrepo.NewFCMTokenRepository(db)
}

func TestService_HandleMessage(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := &Service{enqueuer: enq}

	assert.True(t, s.handleMessage(context.Background(), []byte(`{"emailAddress":"me@example.com","historyId":42}`)))
	require.Len(t, enq.got, 1)
	assert.Equal(t, "42", enq.got[0].Cursor)

	assert.True(t, s.handleMessage(context.Background(), []byte(`garbage`)))
	assert.Len(t, enq.got, 1)

	enq.err = errors.New("queue down")
	assert.False(t, s.handleMessage(context.Background(), []byte(`{"emailAddress":"me@example.com","historyId":43}`)))
}

func TestIMAPPoller_QueuesOnlyIMAPAccounts(t *testing.T) {
	accounts, _ := newAccounts(t)
	require.NoError(t, accounts.Create(&authdomain.Account{Email: "a@imap.test", Provider: authdomain.ProviderIMAP}))
	require.NoError(t, accounts.Create(&authdomain.Account{Email: "b@imap.test", Provider: authdomain.ProviderIMAP}))
	require.NoError(t, accounts.Create(&authdomain.Account{Email: "c@gmail.com", Provider: authdomain.ProviderGoogle}))

	enq := &recordingEnqueuer{}
	p := NewIMAPPoller(accounts, enq, time.Minute)
	assert.Equal(t, 2, p.Poll(context.Background()))

	var addresses []string
	for _, n := range enq.got {
		addresses = append(addresses, n.EmailAddress)
	}
	assert.ElementsMatch(t, []string{"a@imap.test", "b@imap.test"}, addresses)
}

type fakeWatcher struct {
	calls int
	res   *gmail.WatchResult
	err   error
}

func (w *fakeWatcher) Watch(context.Context, string, string, *time.Time, emaildomain.TokenUpdateFunc) (*gmail.WatchResult, error) {
	w.calls++
	return w.res, w.err
}

func TestWatchRenewer_RenewsExpiringWatches(t *testing.T) {
	accounts, _ := newAccounts(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(5 * 24 * time.Hour)
	expiring := now.Add(2 * time.Hour)

	newAcct := &authdomain.Account{Email: "new@gmail.com", Provider: authdomain.ProviderGoogle}
	soon := &authdomain.Account{Email: "soon@gmail.com", Provider: authdomain.ProviderGoogle, HistoryCursor: "500", WatchExpiresAt: &expiring}
	ok := &authdomain.Account{Email: "ok@gmail.com", Provider: authdomain.ProviderGoogle, WatchExpiresAt: &fresh}
	for _, a := range []*authdomain.Account{newAcct, soon, ok} {
		require.NoError(t, accounts.Create(a))
	}

	w := &fakeWatcher{res: &gmail.WatchResult{HistoryID: "900", ExpiresAt: now.Add(7 * 24 * time.Hour)}}
	r := NewWatchRenewer(accounts, w, time.Hour)
	assert.Equal(t, 2, r.Renew(context.Background(), now))
	assert.Equal(t, 2, w.calls)

	got, err := accounts.FindByID(newAcct.ID)
	require.NoError(t, err)
	assert.Equal(t, "900", got.HistoryCursor)
	require.NotNil(t, got.WatchExpiresAt)
	assert.True(t, got.WatchExpiresAt.Equal(now.Add(7*24*time.Hour)))

	got, err = accounts.FindByID(soon.ID)
	require.NoError(t, err)
	assert.Equal(t, "500", got.HistoryCursor)
}

func TestWatchRenewer_FailureIsCounted(t *testing.T) {
	accounts, _ := newAccounts(t)
	require.NoError(t, accounts.Create(&authdomain.Account{Email: "x@gmail.com", Provider: authdomain.ProviderGoogle}))

	r := NewWatchRenewer(accounts, &fakeWatcher{err: emaildomain.ErrTransient}, time.Hour)
	assert.Equal(t, 0, r.Renew(context.Background(), time.Now()))
}

type fakeSender struct {
	tokens []string
	failed []string
	sent   fcm.Notification
}

func (s *fakeSender) SendToDevices(_ context.Context, tokens []string, n fcm.Notification) ([]string, error) {
	s.tokens = tokens
	s.sent = n
	return s.failed, nil
}

func TestPusher_SendsAndForgetsRejectedTokens(t *testing.T) {
	_, tokens := newAccounts(t)
	require.NoError(t, tokens.SaveToken("acct", "tok-1", "chrome"))
	require.NoError(t, tokens.SaveToken("acct", "tok-2", "firefox"))
	require.NoError(t, tokens.SaveToken("other", "tok-3", "safari"))

	sender := &fakeSender{failed: []string{"tok-2"}}
	NewPusher(tokens, sender).Notify(context.Background(), "acct", fcm.Notification{Title: "Your digest is ready"})

	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, sender.tokens)
	assert.Equal(t, "Your digest is ready", sender.sent.Title)

	left, err := tokens.GetTokensByAccountID("acct")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "tok-1", left[0].Token)
}

func TestPusher_NoSenderIsNoop(t *testing.T) {
	_, tokens := newAccounts(t)
	var p *Pusher
	p.Notify(context.Background(), "acct", fcm.Notification{})
	NewPusher(tokens, nil).Notify(context.Background(), "acct", fcm.Notification{})
}

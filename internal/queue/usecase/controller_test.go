package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, cfg Config) (*Controller, repository.JobRepository) {
	jobs := repository.NewJobRepository(testutil.NewDB(t, &domain.Job{}))
	return NewController(jobs, cfg), jobs
}

func TestBackoff(t *testing.T) {
	base, max := 5*time.Second, 10*time.Minute
	assert.Equal(t, 5*time.Second, Backoff(0, base, max))
	assert.Equal(t, 5*time.Second, Backoff(1, base, max))
	assert.Equal(t, 10*time.Second, Backoff(2, base, max))
	assert.Equal(t, 40*time.Second, Backoff(4, base, max))
	assert.Equal(t, max, Backoff(20, base, max))
}

func TestPublishAndDrain(t *testing.T) {
	c, _ := newController(t, Config{Workers: 2})

	type payload struct {
		MessageID string `json:"message_id"`
	}
	var got []string
	c.Handle("/api/queue/test", func(ctx context.Context, task *domain.Task) error {
		var p payload
		require.NoError(t, json.Unmarshal(task.Body, &p))
		got = append(got, p.MessageID)
		return nil
	}, 0)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, "account:a", 1, "/api/queue/test", payload{MessageID: "m1"}))
	require.NoError(t, c.Publish(ctx, "account:a", 1, "/api/queue/test", payload{MessageID: "m2"}))

	ran, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)
	assert.ElementsMatch(t, []string{"m1", "m2"}, got)
}

func TestPublish_DedupeKey(t *testing.T) {
	c, _ := newController(t, Config{})
	calls := 0
	c.Handle("/t", func(ctx context.Context, task *domain.Task) error { calls++; return nil }, 0)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, "digest:a", 1, "/t", nil, domain.WithDedupeKey("k")))
	require.NoError(t, c.Publish(ctx, "digest:a", 1, "/t", nil, domain.WithDedupeKey("k")))

	_, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestFailure_RetriesThenParks(t *testing.T) {
	c, jobs := newController(t, Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	c.Handle("/fail", func(ctx context.Context, task *domain.Task) error {
		return errors.New("provider unavailable")
	}, 0)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, "account:a", 1, "/fail", nil))

	_, err := c.Drain(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.Drain(ctx)
	require.NoError(t, err)

	parked, total, err := jobs.ListParked(10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, 2, parked[0].Attempts)
	assert.Contains(t, parked[0].LastError, "provider unavailable")
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("é", 5)
	assert.Equal(t, "ééé", truncate(msg, 3))
	assert.True(t, utf8.ValidString(truncate(msg, 3)))
	assert.Equal(t, msg, truncate(msg, 5))
	assert.Equal(t, "", truncate(msg, 0))
}

func TestFailure_LongErrorStaysValidUTF8(t *testing.T) {
	c, jobs := newController(t, Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	c.Handle("/fail", func(ctx context.Context, task *domain.Task) error {
		return errors.New("x" + strings.Repeat("ü", 1200))
	}, 0)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, "account:a", 1, "/fail", nil))
	_, err := c.Drain(ctx)
	require.NoError(t, err)

	parked, _, err := jobs.ListParked(10, 0)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.True(t, utf8.ValidString(parked[0].LastError))
	assert.Equal(t, 1000, utf8.RuneCountInString(parked[0].LastError))
}

func TestDispatch_TimeoutAndPanic(t *testing.T) {
	c, _ := newController(t, Config{})
	c.Handle("/slow", func(ctx context.Context, task *domain.Task) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond)
	c.Handle("/panic", func(ctx context.Context, task *domain.Task) error {
		panic("bad input")
	}, 0)

	err := c.Dispatch(context.Background(), &domain.Task{URL: "/slow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")

	err = c.Dispatch(context.Background(), &domain.Task{URL: "/panic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	err = c.Dispatch(context.Background(), &domain.Task{URL: "/unknown"})
	assert.Error(t, err)
}

func TestDispatch_AbsoluteURL(t *testing.T) {
	var gotSecret, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newController(t, Config{Secret: "s3cret"})
	err := c.Dispatch(context.Background(), &domain.Task{URL: srv.URL + "/remote", Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, `{"a":1}`, gotBody)

	// A registered path wins over the network even for absolute URLs.
	local := false
	c.Handle("/remote", func(ctx context.Context, task *domain.Task) error { local = true; return nil }, 0)
	require.NoError(t, c.Dispatch(context.Background(), &domain.Task{URL: srv.URL + "/remote"}))
	assert.True(t, local)
}

func TestStartStop(t *testing.T) {
	c, _ := newController(t, Config{Workers: 2, PollInterval: 10 * time.Millisecond})
	done := make(chan string, 1)
	c.Handle("/t", func(ctx context.Context, task *domain.Task) error {
		done <- task.Queue
		return nil
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	require.NoError(t, c.Publish(ctx, "account:z", 1, "/t", nil))

	select {
	case q := <-done:
		assert.Equal(t, "account:z", q)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not processed")
	}
	c.Stop()
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockRepo(t *testing.T) LockRepository {
	return NewLockRepository(testutil.NewDB(t, &domain.Lock{}))
}

func TestAcquireLock_Success(t *testing.T) {
	repo := newLockRepo(t)
	ctx := context.Background()

	lock, err := repo.AcquireLock(ctx, "message:a:t:m", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.NotEmpty(t, lock.LockID)
	assert.Equal(t, "message:a:t:m", lock.Key)
	assert.Equal(t, lock.LockID, lock.Holder)
	assert.True(t, lock.ExpiresAt.After(time.Now()))
}

func TestAcquireLock_DefaultTimeout(t *testing.T) {
	repo := newLockRepo(t)

	lock, err := repo.AcquireLock(context.Background(), "k", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), lock.ExpiresAt, 2*time.Second)
}

func TestAcquireLock_AlreadyHeld(t *testing.T) {
	repo := newLockRepo(t)
	ctx := context.Background()

	_, err := repo.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = repo.AcquireLock(ctx, "k", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Contains(t, err.Error(), "already held")
}

func TestAcquireLock_ExpiredLock(t *testing.T) {
	repo := newLockRepo(t)
	ctx := context.Background()

	first, err := repo.AcquireLock(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	second, err := repo.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.LockID, second.LockID)

	// The stale holder releasing must not free the new lock.
	require.NoError(t, repo.ReleaseLock(ctx, first.LockID))
	_, err = repo.AcquireLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestReleaseLock(t *testing.T) {
	repo := newLockRepo(t)
	ctx := context.Background()

	lock, err := repo.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.ReleaseLock(ctx, lock.LockID))

	_, err = repo.AcquireLock(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestAcquireLock_ContextCancellation(t *testing.T) {
	repo := newLockRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.AcquireLock(ctx, "k", time.Minute)
	assert.Equal(t, context.Canceled, err)
}

func TestAcquireLock_EmptyKey(t *testing.T) {
	repo := newLockRepo(t)
	_, err := repo.AcquireLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
}

package repository

import (
	"testing"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobRepo(t *testing.T) JobRepository {
	return NewJobRepository(testutil.NewDB(t, &domain.Job{}))
}

func job(queue string, parallelism int) *domain.Job {
	return &domain.Job{Queue: queue, Parallelism: parallelism, URL: "/x", Body: []byte(`{}`), MaxAttempts: 5}
}

func TestEnqueue_Dedupe(t *testing.T) {
	repo := newJobRepo(t)
	key := "digest:acc:2026-01-01T09:00"

	first := job("digest:acc", 1)
	first.DedupeKey = &key
	created, err := repo.Enqueue(first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := job("digest:acc", 1)
	k2 := key
	dup.DedupeKey = &k2
	created, err = repo.Enqueue(dup)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLease_RespectsParallelism(t *testing.T) {
	repo := newJobRepo(t)
	for i := 0; i < 3; i++ {
		_, err := repo.Enqueue(job("account:a", 1))
		require.NoError(t, err)
		_, err = repo.Enqueue(job("bulk:a", 2))
		require.NoError(t, err)
	}

	now := time.Now().UTC().Add(time.Second)
	leased, err := repo.Lease("w1", now, time.Minute, 10)
	require.NoError(t, err)

	perQueue := map[string]int{}
	for _, j := range leased {
		perQueue[j.Queue]++
		assert.Equal(t, domain.JobRunning, j.Status)
		assert.Equal(t, 1, j.Attempts)
	}
	assert.Equal(t, 1, perQueue["account:a"])
	assert.Equal(t, 2, perQueue["bulk:a"])

	// Nothing else is runnable until something finishes.
	more, err := repo.Lease("w2", now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, more)

	for _, j := range leased {
		if j.Queue == "account:a" {
			require.NoError(t, repo.Complete(j.ID))
		}
	}
	more, err = repo.Lease("w2", now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, "account:a", more[0].Queue)
}

func TestLease_BacklogDoesNotStarveOtherQueues(t *testing.T) {
	repo := newJobRepo(t)
	for i := 0; i < candidateBatch+50; i++ {
		_, err := repo.Enqueue(job("account:a", 1))
		require.NoError(t, err)
	}
	_, err := repo.Enqueue(job("account:b", 1))
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)
	leased, err := repo.Lease("w1", now, time.Minute, 8)
	require.NoError(t, err)

	perQueue := map[string]int{}
	for _, j := range leased {
		perQueue[j.Queue]++
	}
	assert.Equal(t, 1, perQueue["account:a"])
	assert.Equal(t, 1, perQueue["account:b"])

	more, err := repo.Lease("w2", now, time.Minute, 8)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestFail_RetryAndPark(t *testing.T) {
	repo := newJobRepo(t)
	_, err := repo.Enqueue(job("account:a", 1))
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)
	leased, err := repo.Lease("w1", now, time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	id := leased[0].ID

	require.NoError(t, repo.Fail(id, "boom", now.Add(time.Hour), false))
	stored, err := repo.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, stored.Status)
	assert.Equal(t, "boom", stored.LastError)

	// Not due yet.
	none, err := repo.Lease("w1", now, time.Minute, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.Fail(id, "boom again", now, true))
	parked, total, err := repo.ListParked(10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, id, parked[0].ID)

	require.NoError(t, repo.Requeue(id, now))
	again, err := repo.Lease("w1", now.Add(time.Second), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].Attempts)
}

func TestReapExpired(t *testing.T) {
	repo := newJobRepo(t)
	_, err := repo.Enqueue(job("account:a", 1))
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)
	leased, err := repo.Lease("w1", now, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	n, err := repo.ReapExpired(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := repo.FindByID(leased[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, stored.Status)
}

func TestFindByID_NotFound(t *testing.T) {
	repo := newJobRepo(t)
	j, err := repo.FindByID("missing")
	require.NoError(t, err)
	assert.Nil(t, j)
}

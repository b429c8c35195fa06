package repository

import (
	"context"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
)

// JobRepository defines the durable job store behind the queue.
type JobRepository interface {
	// Enqueue inserts the job. With a dedupe key already present it
	// returns false and no error.
	Enqueue(job *domain.Job) (bool, error)
	// Lease claims up to limit runnable jobs for owner, honouring every
	// queue's parallelism.
	Lease(owner string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.Job, error)
	Complete(id string) error
	// Fail records an attempt failure and either reschedules the job at
	// retryAt or parks it.
	Fail(id, lastError string, retryAt time.Time, park bool) error
	// ReapExpired returns running jobs with an expired lease to the queue.
	ReapExpired(now time.Time) (int64, error)
	FindByID(id string) (*domain.Job, error)
	ListParked(limit, offset int) ([]*domain.Job, int64, error)
	Requeue(id string, now time.Time) error
	PurgeSucceeded(before time.Time) (int64, error)
}

// LockRepository hands out expiring locks keyed by string.
type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*domain.Lock, error)
	ReleaseLock(ctx context.Context, lockID string) error
}

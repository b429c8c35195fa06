package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobParked    JobStatus = "parked"
)

// Job is one durable task. Jobs on the same Queue never run more than
// Parallelism at a time.
type Job struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	Queue          string         `json:"queue" gorm:"index;not null"`
	Parallelism    int            `json:"parallelism" gorm:"not null;default:1"`
	URL            string         `json:"url" gorm:"not null"`
	Body           datatypes.JSON `json:"body"`
	Status         JobStatus      `json:"status" gorm:"index;not null"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	RunAt          time.Time      `json:"run_at" gorm:"index"`
	LeaseOwner     string         `json:"-"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	DedupeKey      *string        `json:"dedupe_key,omitempty" gorm:"uniqueIndex"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Lock is a lease on a key; it is free again once ExpiresAt passes.
type Lock struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	LockID    string    `json:"lock_id" gorm:"uniqueIndex;not null"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrLockHeld is returned when another holder owns an unexpired lock.
var ErrLockHeld = errors.New("lock already held")

// Task is what a handler receives for one attempt of a job.
type Task struct {
	JobID   string
	Queue   string
	URL     string
	Body    []byte
	Attempt int
}

// Handler processes a task. Returning an error schedules a retry; a nil
// return acknowledges the job.
type Handler func(ctx context.Context, task *Task) error

// Publisher is the producer side of the queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, parallelism int, url string, body interface{}, opts ...PublishOption) error
}

// PublishOptions tune one Publish call.
type PublishOptions struct {
	DedupeKey   string
	Delay       time.Duration
	MaxAttempts int
}

type PublishOption func(*PublishOptions)

// WithDedupeKey makes Publish a no-op when a job with the same key exists.
func WithDedupeKey(key string) PublishOption {
	return func(o *PublishOptions) { o.DedupeKey = key }
}

func WithDelay(d time.Duration) PublishOption {
	return func(o *PublishOptions) { o.Delay = d }
}

func WithMaxAttempts(n int) PublishOption {
	return func(o *PublishOptions) { o.MaxAttempts = n }
}

// Queue names. One per account for message processing and digests, one
// per mailbox address for reconciliation.
func AccountQueue(accountID string) string { return "account:" + accountID }
func DigestQueue(accountID string) string  { return "digest:" + accountID }
func BulkQueue(accountID string) string    { return "bulk:" + accountID }
func HistoryQueue(address string) string   { return "history:" + address }

// Task URLs served by the in-process router and /api/queue.
const (
	URLReconcile      = "/api/queue/reconcile"
	URLProcessMessage = "/api/queue/process-message"
	URLDigestCompile  = "/api/queue/digest-compile"
	URLBulk           = "/api/queue/bulk"
)

// MessageLockKey identifies one message evaluation.
func MessageLockKey(accountID, threadID, messageID string) string {
	return "message:" + accountID + ":" + threadID + ":" + messageID
}

package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/google/uuid"
)

// SecretHeader authenticates task deliveries over HTTP.
const SecretHeader = "X-Queue-Secret"

type Config struct {
	Workers       int
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	ReapInterval  time.Duration
	RetainSuccess time.Duration
	Secret        string
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if c.RetainSuccess <= 0 {
		c.RetainSuccess = 7 * 24 * time.Hour
	}
}

type route struct {
	handler domain.Handler
	timeout time.Duration
}

// Controller is the durable task queue: producers Publish, a pool of
// workers leases jobs and runs the handler registered for the job URL.
type Controller struct {
	jobs  repository.JobRepository
	cfg   Config
	owner string

	mu     sync.RWMutex
	routes map[string]route
	maxTTL time.Duration

	httpClient *http.Client

	jobQueue chan *domain.Job
	wake     chan struct{}
	stopChan chan struct{}
	workerWg sync.WaitGroup
	inFlight int64
	started  bool
	startMu  sync.Mutex
}

var _ domain.Publisher = (*Controller)(nil)

func NewController(jobs repository.JobRepository, cfg Config) *Controller {
	cfg.setDefaults()
	host, _ := os.Hostname()
	return &Controller{
		jobs:       jobs,
		cfg:        cfg,
		owner:      fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		routes:     make(map[string]route),
		maxTTL:     cfg.TaskTimeout,
		httpClient: &http.Client{Timeout: cfg.TaskTimeout},
		jobQueue:   make(chan *domain.Job, cfg.Workers),
		wake:       make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
}

// Handle registers h for the task URL path. A zero timeout uses the
// default task budget.
func (c *Controller) Handle(path string, h domain.Handler, timeout time.Duration) {
	if timeout <= 0 {
		timeout = c.cfg.TaskTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[path] = route{handler: h, timeout: timeout}
	if timeout > c.maxTTL {
		c.maxTTL = timeout
	}
}

// Publish durably enqueues one task. body is JSON-encoded unless it is
// already a []byte.
func (c *Controller) Publish(ctx context.Context, queueName string, parallelism int, taskURL string, body interface{}, opts ...domain.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var o domain.PublishOptions
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	switch b := body.(type) {
	case nil:
		payload = []byte("{}")
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode task body: %w", err)
		}
	}

	if parallelism < 1 {
		parallelism = 1
	}
	maxAttempts := o.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	job := &domain.Job{
		Queue:       queueName,
		Parallelism: parallelism,
		URL:         taskURL,
		Body:        payload,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC().Add(o.Delay),
	}
	if o.DedupeKey != "" {
		key := o.DedupeKey
		job.DedupeKey = &key
	}

	created, err := c.jobs.Enqueue(job)
	if err != nil {
		return fmt.Errorf("unable to enqueue task on %s: %w", queueName, err)
	}
	if !created {
		logger.Logger.Debug().Str("queue", queueName).Str("dedupe_key", o.DedupeKey).Msg("[Queue] Duplicate task ignored")
		return nil
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the dispatcher, the workers and the lease reaper.
func (c *Controller) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	for i := 0; i < c.cfg.Workers; i++ {
		c.workerWg.Add(1)
		go c.worker(ctx, i)
	}
	go c.dispatchLoop(ctx)
	go c.reapLoop()

	logger.Logger.Info().Int("workers", c.cfg.Workers).Str("owner", c.owner).Msg("[Queue] Started")
}

// Stop stops leasing and waits for running tasks to finish.
func (c *Controller) Stop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if !c.started {
		return
	}
	close(c.stopChan)
	c.workerWg.Wait()
	c.started = false
	logger.Logger.Info().Msg("[Queue] All workers stopped")
}

func (c *Controller) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	defer close(c.jobQueue)

	for {
		c.leaseAndDispatch()
		select {
		case <-ticker.C:
		case <-c.wake:
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		}
	}
}

func (c *Controller) leaseAndDispatch() {
	free := c.cfg.Workers - int(atomic.LoadInt64(&c.inFlight))
	if free <= 0 {
		return
	}
	jobs, err := c.jobs.Lease(c.owner, time.Now().UTC(), c.leaseDuration(), free)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("[Queue] Lease failed")
	}
	for _, job := range jobs {
		atomic.AddInt64(&c.inFlight, 1)
		c.jobQueue <- job
	}
}

func (c *Controller) worker(ctx context.Context, id int) {
	defer c.workerWg.Done()
	for job := range c.jobQueue {
		c.runJob(ctx, job)
		atomic.AddInt64(&c.inFlight, -1)
	}
	logger.Logger.Debug().Int("worker", id).Msg("[Queue] Worker stopped")
}

func (c *Controller) reapLoop() {
	ticker := time.NewTicker(c.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := c.jobs.ReapExpired(now); err != nil {
				logger.Logger.Error().Err(err).Msg("[Queue] Reaping expired leases failed")
			} else if n > 0 {
				logger.Logger.Warn().Int64("jobs", n).Msg("[Queue] Requeued jobs with expired leases")
			}
			if _, err := c.jobs.PurgeSucceeded(now.Add(-c.cfg.RetainSuccess)); err != nil {
				logger.Logger.Error().Err(err).Msg("[Queue] Purging finished jobs failed")
			}
		case <-c.stopChan:
			return
		}
	}
}

// Drain leases and runs due jobs on the calling goroutine until none are
// left. It returns how many attempts ran.
func (c *Controller) Drain(ctx context.Context) (int, error) {
	ran := 0
	for i := 0; i < 1000; i++ {
		jobs, err := c.jobs.Lease(c.owner, time.Now().UTC(), c.leaseDuration(), c.cfg.Workers)
		if err != nil {
			return ran, err
		}
		if len(jobs) == 0 {
			return ran, nil
		}
		for _, job := range jobs {
			c.runJob(ctx, job)
			ran++
		}
	}
	return ran, nil
}

func (c *Controller) leaseDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxTTL + 30*time.Second
}

func (c *Controller) runJob(ctx context.Context, job *domain.Job) {
	task := &domain.Task{
		JobID:   job.ID,
		Queue:   job.Queue,
		URL:     job.URL,
		Body:    job.Body,
		Attempt: job.Attempts,
	}
	err := c.Dispatch(ctx, task)
	if err == nil {
		if err := c.jobs.Complete(job.ID); err != nil {
			logger.Logger.Error().Err(err).Str("job", job.ID).Msg("[Queue] Unable to mark job complete")
		}
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	park := job.Attempts >= maxAttempts
	retryAt := time.Now().UTC().Add(Backoff(job.Attempts, c.cfg.BaseBackoff, c.cfg.MaxBackoff))

	ev := logger.Logger.Warn()
	if park {
		ev = logger.Logger.Error()
	}
	ev.Err(err).
		Str("job", job.ID).
		Str("queue", job.Queue).
		Str("url", job.URL).
		Int("attempt", job.Attempts).
		Bool("parked", park).
		Msg("[Queue] Task failed")

	if err := c.jobs.Fail(job.ID, truncate(err.Error(), 1000), retryAt, park); err != nil {
		logger.Logger.Error().Err(err).Str("job", job.ID).Msg("[Queue] Unable to record failure")
	}
}

// Dispatch runs one task: in process when a handler is registered for
// the URL path, otherwise as an HTTP POST to an absolute URL.
func (c *Controller) Dispatch(ctx context.Context, task *domain.Task) (err error) {
	path := task.URL
	absolute := false
	if u, perr := url.Parse(task.URL); perr == nil && u.IsAbs() {
		path = u.Path
		absolute = true
	}

	c.mu.RLock()
	r, ok := c.routes[path]
	c.mu.RUnlock()
	if !ok {
		if absolute {
			return c.post(ctx, task)
		}
		return fmt.Errorf("no handler registered for %s", task.URL)
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Logger.Error().Str("url", task.URL).Str("stack", string(debug.Stack())).Msg("[Queue] Handler panicked")
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	if err := r.handler(taskCtx, task); err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("task exceeded its %s budget: %w", r.timeout, err)
		}
		return err
	}
	return nil
}

func (c *Controller) post(ctx context.Context, task *domain.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.URL, bytes.NewReader(task.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set(SecretHeader, c.cfg.Secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("task delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("task endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Backoff is the delay before retry number attempt: base doubling per
// attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

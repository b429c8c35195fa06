package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/digest/domain"
	"github.com/elie222/inbox-zero-sub019/internal/digest/repository"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

const dueBatch = 100

// Scheduler fires due digest schedules by publishing compile tasks.
type Scheduler struct {
	repo      repository.DigestRepository
	publisher queuedomain.Publisher
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
}

func NewScheduler(repo repository.DigestRepository, publisher queuedomain.Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start(ctx context.Context) {
	logger.Logger.Info().Dur("interval", s.interval).Msg("[DigestScheduler] Starting")

	go func() {
		s.runTick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runTick(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				logger.Logger.Info().Msg("[DigestScheduler] Stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runTick(ctx context.Context) {
	n, err := s.Tick(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("[DigestScheduler] Tick failed")
		return
	}
	if n > 0 {
		logger.Logger.Info().Int("enqueued", n).Msg("[DigestScheduler] Enqueued digest compiles")
	}
}

// Tick publishes one compile task per due schedule and returns how many
// were published. Each schedule is advanced with a compare-and-swap before
// publishing, so a concurrent tick cannot fire the same occurrence.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.DueSchedules(ctx, now, dueBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to load due schedules: %w", err)
	}

	published := 0
	for i := range due {
		sched := due[i]
		prev := sched
		dueAt := sched.NextOccurrenceAt.UTC()

		sched.Advance(now)
		won, err := s.repo.CompareAndSwapSchedule(ctx, &sched, dueAt)
		if err != nil {
			logger.Logger.Error().Err(err).Str("account_id", sched.AccountID).Msg("[DigestScheduler] Failed to advance schedule")
			continue
		}
		if !won {
			continue
		}

		err = s.publisher.Publish(ctx, queuedomain.DigestQueue(sched.AccountID), 1, queuedomain.URLDigestCompile,
			domain.CompileRequest{AccountID: sched.AccountID, DueAt: dueAt},
			queuedomain.WithDedupeKey(fmt.Sprintf("digest:%s:%d", sched.AccountID, dueAt.Unix())))
		if err != nil {
			logger.Logger.Error().Err(err).Str("account_id", sched.AccountID).Msg("[DigestScheduler] Failed to publish compile, reverting schedule")
			if _, rerr := s.repo.CompareAndSwapSchedule(ctx, &prev, *sched.NextOccurrenceAt); rerr != nil {
				logger.Logger.Error().Err(rerr).Str("account_id", sched.AccountID).Msg("[DigestScheduler] Failed to revert schedule")
			}
			continue
		}
		published++
	}
	return published, nil
}

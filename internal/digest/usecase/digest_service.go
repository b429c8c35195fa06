package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/digest/domain"
	"github.com/elie222/inbox-zero-sub019/internal/digest/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/ai"
)

var ErrInvalidSchedule = errors.New("invalid digest schedule")

// ItemInput is what a DIGEST action hands over.
type ItemInput struct {
	AccountID string
	MessageID string
	ActionID  string
	ThreadID  string
	RuleName  string
	From      string
	Subject   string
	Body      string
}

// DigestService queues digest items and manages schedules.
type DigestService struct {
	repo       repository.DigestRepository
	summarizer *ai.Summarizer
}

func NewDigestService(repo repository.DigestRepository, summarizer *ai.Summarizer) *DigestService {
	return &DigestService{repo: repo, summarizer: summarizer}
}

// Enqueue summarizes the email and stores it for the next digest. The
// summary falls back to the subject, so only storage can fail.
func (s *DigestService) Enqueue(ctx context.Context, in ItemInput) error {
	summary := s.summarizer.Summarize(ctx, in.From, in.Subject, in.Body)
	return s.repo.AddItem(ctx, &domain.Item{
		AccountID: in.AccountID,
		MessageID: in.MessageID,
		ActionID:  in.ActionID,
		ThreadID:  in.ThreadID,
		RuleName:  in.RuleName,
		From:      in.From,
		Subject:   in.Subject,
		Summary:   summary,
	})
}

func (s *DigestService) GetSchedule(ctx context.Context, accountID string) (*domain.Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return &domain.Schedule{AccountID: accountID}, nil
	}
	return sched, nil
}

// SetSchedule stores a new cadence and computes its first occurrence
// from now.
func (s *DigestService) SetSchedule(ctx context.Context, accountID string, intervalDays, daysOfWeek, timeOfDay int, enabled bool, now time.Time) (*domain.Schedule, error) {
	if intervalDays < 0 || daysOfWeek < 0 || daysOfWeek > 0x7f || timeOfDay < 0 || timeOfDay >= 24*60 {
		return nil, ErrInvalidSchedule
	}
	sched, err := s.repo.GetSchedule(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		sched = &domain.Schedule{AccountID: accountID, CreatedAt: now.UTC()}
	}
	sched.IntervalDays = intervalDays
	sched.DaysOfWeek = daysOfWeek
	sched.TimeOfDay = timeOfDay
	sched.Enabled = enabled
	sched.NextOccurrenceAt = nil
	if enabled {
		// Interval schedules count from today rather than from an old send.
		sched.LastOccurrenceAt = nil
		sched.CreatedAt = now.UTC()
		next := sched.NextAfter(now)
		sched.NextOccurrenceAt = &next
	}
	if err := s.repo.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to save digest schedule: %w", err)
	}
	return s.repo.GetSchedule(ctx, accountID)
}

func (s *DigestService) PendingItems(ctx context.Context, accountID string) ([]domain.Item, error) {
	return s.repo.PendingItems(ctx, accountID, maxItemsPerDigest)
}

func (s *DigestService) ListDigests(ctx context.Context, accountID string, limit, offset int) ([]domain.Digest, int64, error) {
	return s.repo.ListDigests(ctx, accountID, limit, offset)
}

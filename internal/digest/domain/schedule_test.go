package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSchedule_LateTickDoesNotDrift(t *testing.T) {
	due := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	s := &Schedule{IntervalDays: 1, TimeOfDay: 8 * 60, Enabled: true, NextOccurrenceAt: ptr(due)}

	now := due.Add(5 * time.Minute)
	assert.True(t, s.IsDue(now))
	s.Advance(now)

	assert.Equal(t, due.Add(24*time.Hour), *s.NextOccurrenceAt)
	assert.Equal(t, due, *s.LastOccurrenceAt)
	assert.Equal(t, 1, s.Occurrences)
	assert.False(t, s.IsDue(now))
}

func TestSchedule_SkipsMissedSlots(t *testing.T) {
	due := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	s := &Schedule{IntervalDays: 1, TimeOfDay: 8 * 60, Enabled: true, NextOccurrenceAt: ptr(due)}

	now := due.Add(3*24*time.Hour + time.Hour)
	s.Advance(now)
	assert.Equal(t, due.Add(4*24*time.Hour), *s.NextOccurrenceAt)
}

func TestSchedule_DaysOfWeek(t *testing.T) {
	// 2024-03-11 is a Monday. Mondays and Thursdays at 09:30.
	monday := time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
	s := &Schedule{DaysOfWeek: 1<<1 | 1<<4, TimeOfDay: 9*60 + 30, Enabled: true, NextOccurrenceAt: ptr(monday)}

	s.Advance(monday.Add(2 * time.Minute))
	assert.Equal(t, time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC), *s.NextOccurrenceAt)

	s.Advance(s.NextOccurrenceAt.Add(time.Minute))
	assert.Equal(t, time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC), *s.NextOccurrenceAt)
}

func TestSchedule_NextAfterSameDay(t *testing.T) {
	s := &Schedule{TimeOfDay: 18 * 60}
	from := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC), s.NextAfter(from))
	assert.Equal(t, time.Date(2024, 3, 12, 18, 0, 0, 0, time.UTC), s.NextAfter(from.Add(6*time.Hour)))
}

func TestSchedule_DisabledIsNeverDue(t *testing.T) {
	s := &Schedule{IntervalDays: 1, NextOccurrenceAt: ptr(time.Unix(0, 0))}
	assert.False(t, s.IsDue(time.Now()))
}

func TestProperty_ScheduleNoDrift(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("next occurrence stays on the scheduled grid regardless of tick delay", prop.ForAll(
		func(interval, minuteOfDay, dayOffset, delayMinutes int) bool {
			due := base.AddDate(0, 0, dayOffset).Add(time.Duration(minuteOfDay) * time.Minute)
			s := &Schedule{IntervalDays: interval, TimeOfDay: minuteOfDay, Enabled: true, NextOccurrenceAt: ptr(due)}
			now := due.Add(time.Duration(delayMinutes) * time.Minute)

			s.Advance(now)
			next := *s.NextOccurrenceAt

			step := time.Duration(interval) * 24 * time.Hour
			onGrid := next.Sub(due)%step == 0
			return next.After(now) && onGrid && next.Sub(now) <= step && s.LastOccurrenceAt.Equal(due)
		},
		gen.IntRange(1, 14),
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 365),
		gen.IntRange(0, 60*24*30),
	))

	properties.Property("weekly schedules always land on an allowed day at the configured time", prop.ForAll(
		func(mask, minuteOfDay, delayMinutes int) bool {
			s := &Schedule{DaysOfWeek: mask, TimeOfDay: minuteOfDay, Enabled: true}
			first := s.NextAfter(base)
			s.NextOccurrenceAt = &first
			now := first.Add(time.Duration(delayMinutes) * time.Minute)

			s.Advance(now)
			next := *s.NextOccurrenceAt
			minutes := next.Hour()*60 + next.Minute()
			return next.After(now) && minutes == minuteOfDay && mask&(1<<uint(next.Weekday())) != 0
		},
		gen.IntRange(1, 0x7f),
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 60*24*20),
	))

	properties.TestingRun(t)
}

package domain

import "time"

const allDays = 0x7f

// IsDue reports whether the schedule should fire at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextOccurrenceAt != nil && !s.NextOccurrenceAt.After(now)
}

// NextAfter returns the first occurrence strictly after from. It is
// computed from the schedule alone and never from when a job happened to
// run, so late ticks do not shift later occurrences.
func (s *Schedule) NextAfter(from time.Time) time.Time {
	from = from.UTC()
	minutes := s.TimeOfDay
	if minutes < 0 || minutes >= 24*60 {
		minutes = 0
	}
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	at := func(d time.Time) time.Time { return d.Add(time.Duration(minutes) * time.Minute) }

	if s.IntervalDays > 0 {
		anchor := s.CreatedAt.UTC()
		if s.LastOccurrenceAt != nil {
			anchor = s.LastOccurrenceAt.UTC()
		}
		base := at(time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC))
		if base.After(from) {
			return base
		}
		step := time.Duration(s.IntervalDays) * 24 * time.Hour
		n := from.Sub(base)/step + 1
		return base.Add(n * step)
	}

	mask := s.DaysOfWeek & allDays
	if mask == 0 {
		mask = allDays
	}
	for i := 0; i <= 7; i++ {
		d := day.AddDate(0, 0, i)
		if mask&(1<<uint(d.Weekday())) == 0 {
			continue
		}
		if t := at(d); t.After(from) {
			return t
		}
	}
	// Unreachable with a non-empty mask.
	return at(day.AddDate(0, 0, 7))
}

// Advance moves the schedule past a fired occurrence. The new
// NextOccurrenceAt follows the previous scheduled time and is pushed
// forward until it lies after now, so missed slots are skipped rather
// than replayed.
func (s *Schedule) Advance(now time.Time) {
	fired := now.UTC()
	if s.NextOccurrenceAt != nil {
		fired = s.NextOccurrenceAt.UTC()
	}
	s.LastOccurrenceAt = &fired
	s.Occurrences++

	next := s.NextAfter(fired)
	for !next.After(now) {
		next = s.NextAfter(next)
	}
	s.NextOccurrenceAt = &next
}

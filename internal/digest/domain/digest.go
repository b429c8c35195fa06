package domain

import (
	"time"
)

// Schedule says when an account's digest is sent. DaysOfWeek is a bit
// mask with bit 0 for Sunday; TimeOfDay is minutes after midnight UTC.
// Every IntervalDays > 0 overrides the weekly mask.
type Schedule struct {
	ID               string     `json:"id" gorm:"primaryKey"`
	AccountID        string     `json:"account_id" gorm:"uniqueIndex;not null"`
	IntervalDays     int        `json:"interval_days"`
	DaysOfWeek       int        `json:"days_of_week"`
	TimeOfDay        int        `json:"time_of_day"`
	Occurrences      int        `json:"occurrences"`
	Enabled          bool       `json:"enabled"`
	LastOccurrenceAt *time.Time `json:"last_occurrence_at,omitempty"`
	NextOccurrenceAt *time.Time `json:"next_occurrence_at,omitempty" gorm:"index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type DigestStatus string

const (
	DigestPending DigestStatus = "PENDING"
	DigestSent    DigestStatus = "SENT"
	DigestFailed  DigestStatus = "FAILED"
)

// Item is one email queued for the next digest.
type Item struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	AccountID  string     `json:"account_id" gorm:"not null;uniqueIndex:idx_digest_item"`
	MessageID  string     `json:"message_id" gorm:"not null;uniqueIndex:idx_digest_item"`
	ActionID   string     `json:"action_id" gorm:"not null;default:'';uniqueIndex:idx_digest_item"` // rule action that queued it
	ThreadID   string     `json:"thread_id"`
	RuleName   string     `json:"rule_name"`
	From       string     `json:"from"`
	Subject    string     `json:"subject"`
	Summary    string     `json:"summary"`
	DigestID   *string    `json:"digest_id,omitempty" gorm:"index"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty" gorm:"index"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Digest is one compiled and sent digest.
type Digest struct {
	ID            string       `json:"id" gorm:"primaryKey"`
	AccountID     string       `json:"account_id" gorm:"index;not null"`
	Status        DigestStatus `json:"status"`
	ItemCount     int          `json:"item_count"`
	SentMessageID string       `json:"sent_message_id,omitempty"`
	Items         []Item       `json:"items,omitempty" gorm:"foreignKey:DigestID"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CompileRequest is the queue payload for digest compilation.
type CompileRequest struct {
	AccountID string    `json:"account_id"`
	DueAt     time.Time `json:"due_at"`
}

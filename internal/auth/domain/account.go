package domain

import "time"

const (
	ProviderGoogle = "google"
	ProviderIMAP   = "imap"
)

// Account is a connected mailbox. Tokens and passwords never leave the
// server in JSON.
type Account struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Name     string `json:"name"`
	Provider string `json:"provider" gorm:"not null"` // "google" or "imap"

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`

	IMAPServer   string `json:"imap_server,omitempty"`
	IMAPPort     int    `json:"imap_port,omitempty"`
	IMAPUsername string `json:"imap_username,omitempty"`
	IMAPPassword string `json:"-"` // sealed with pkg/crypto
	SMTPServer   string `json:"smtp_server,omitempty"`
	SMTPPort     int    `json:"smtp_port,omitempty"`

	// HistoryCursor is the last provider cursor whose changes were enqueued.
	HistoryCursor  string     `json:"-"`
	WatchExpiresAt *time.Time `json:"watch_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) IsGoogle() bool {
	return a.Provider == ProviderGoogle
}

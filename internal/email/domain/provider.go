package domain

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrCursorExpired means the stored sync cursor can no longer be used
	// and the caller must fall back to a bounded resync.
	ErrCursorExpired = errors.New("sync cursor expired")
	// ErrNotFound is returned when a message, draft or label is gone.
	ErrNotFound = errors.New("not found on provider")
	// ErrTransient wraps rate limits, 5xx and network failures that are
	// worth retrying.
	ErrTransient = errors.New("transient provider error")
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc func(*oauth2.Token) error

// MailProvider is the uniform contract over the supported mailbox backends.
type MailProvider interface {
	Name() string

	GetMessage(ctx context.Context, messageID string) (*Email, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	ListChangesSince(ctx context.Context, cursor string) (*ChangeSet, error)
	ListRecent(ctx context.Context, since time.Time, limit int) (*ChangeSet, error)

	ApplyLabel(ctx context.Context, messageID, label string) error
	Archive(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, messageID string) error
	MarkSpam(ctx context.Context, messageID string) error
	MoveToFolder(ctx context.Context, messageID, folder string) error

	CreateDraft(ctx context.Context, msg *OutgoingMessage) (string, error)
	GetDraft(ctx context.Context, draftID string) (*Draft, error)
	DeleteDraft(ctx context.Context, draftID string) error
	SendMessage(ctx context.Context, msg *OutgoingMessage) (string, error)
	ForwardMessage(ctx context.Context, messageID string, to []string, note string) error
}

package domain

import (
	"strings"
	"time"
)

// Email is a provider-neutral view of one message.
type Email struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	MessageID  string    `json:"message_id,omitempty"` // RFC 5322 Message-ID header
	Subject    string    `json:"subject"`
	From       string    `json:"from"` // bare address
	FromName   string    `json:"from_name"`
	To         []string  `json:"to"`
	Cc         []string  `json:"cc,omitempty"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body"`
	IsHTML     bool      `json:"is_html"`
	ReceivedAt time.Time `json:"received_at"`
	LabelIDs   []string  `json:"label_ids,omitempty"`
	IsSent     bool      `json:"is_sent"`
	IsRead     bool      `json:"is_read"`
	References string    `json:"references,omitempty"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
}

// SenderDomain returns the "@example.com" part of the sender address.
func (e *Email) SenderDomain() string {
	if idx := strings.LastIndex(e.From, "@"); idx >= 0 {
		return strings.ToLower(e.From[idx:])
	}
	return ""
}

type Thread struct {
	ID       string   `json:"id"`
	Messages []*Email `json:"messages"`
}

// Latest returns the most recent message in the thread, or nil.
func (t *Thread) Latest() *Email {
	var latest *Email
	for _, m := range t.Messages {
		if latest == nil || m.ReceivedAt.After(latest.ReceivedAt) {
			latest = m
		}
	}
	return latest
}

type Draft struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// OutgoingMessage is the input for CreateDraft and SendMessage. When
// ReplyTo is set the message is threaded onto that email.
type OutgoingMessage struct {
	FromName string
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	Body     string
	IsHTML   bool
	ReplyTo  *Email
}

// Change is one new or changed message reported by ListChangesSince.
type Change struct {
	MessageID string
	ThreadID  string
	IsSent    bool
}

type ChangeSet struct {
	Changes   []Change
	NewCursor string
}

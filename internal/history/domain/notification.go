package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Notification says that a mailbox changed. Cursor is the provider's
// position at the time of the change (a Gmail historyId or an IMAP UID)
// and is informational; reconciliation always starts from the stored
// cursor.
type Notification struct {
	EmailAddress string `json:"email_address"`
	Cursor       string `json:"cursor,omitempty"`
}

// Address is the normalized mailbox address used for lookups and queue
// names.
func (n Notification) Address() string {
	return strings.ToLower(strings.TrimSpace(n.EmailAddress))
}

// Result summarizes one reconciliation.
type Result struct {
	Published int
	Resynced  bool
	Cursor    string
}

// GmailPayload is the data Gmail publishes to the watch topic.
type GmailPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// ParseGmailPayload decodes a Pub/Sub message body from a Gmail watch.
func ParseGmailPayload(data []byte) (Notification, error) {
	var p GmailPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Notification{}, fmt.Errorf("invalid gmail notification: %w", err)
	}
	n := Notification{EmailAddress: p.EmailAddress, Cursor: p.HistoryID.String()}
	if n.Address() == "" {
		return Notification{}, fmt.Errorf("invalid gmail notification: no email address")
	}
	return n, nil
}

package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
)

// Mailbox is an in-memory MailProvider. Fail makes the named method
// return the given error; Calls counts invocations per method.
type Mailbox struct {
	mu       sync.Mutex
	Messages map[string]*emaildomain.Email
	Labels   map[string][]string
	Drafts   map[string]*emaildomain.Draft
	Sent     []*emaildomain.OutgoingMessage
	Forwards map[string][]string
	Archived map[string]bool
	Folders  map[string]string

	Changes   []emaildomain.Change
	Cursor    string
	CursorErr error

	Fail  map[string]error
	Calls map[string]int
	seq   int
}

var _ emaildomain.MailProvider = (*Mailbox)(nil)

func NewMailbox(messages ...*emaildomain.Email) *Mailbox {
	m := &Mailbox{
		Messages: map[string]*emaildomain.Email{},
		Labels:   map[string][]string{},
		Drafts:   map[string]*emaildomain.Draft{},
		Forwards: map[string][]string{},
		Archived: map[string]bool{},
		Folders:  map[string]string{},
		Fail:     map[string]error{},
		Calls:    map[string]int{},
	}
	for _, e := range messages {
		m.Messages[e.ID] = e
	}
	return m
}

func (m *Mailbox) call(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	return m.Fail[name]
}

func (m *Mailbox) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *Mailbox) Name() string { return "memory" }

func (m *Mailbox) GetMessage(_ context.Context, id string) (*emaildomain.Email, error) {
	if err := m.call("GetMessage"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Messages[id]
	if !ok {
		return nil, emaildomain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Mailbox) GetThread(_ context.Context, id string) (*emaildomain.Thread, error) {
	if err := m.call("GetThread"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &emaildomain.Thread{ID: id}
	for _, e := range m.Messages {
		if e.ThreadID == id {
			t.Messages = append(t.Messages, e)
		}
	}
	return t, nil
}

func (m *Mailbox) ListChangesSince(_ context.Context, cursor string) (*emaildomain.ChangeSet, error) {
	if err := m.call("ListChangesSince"); err != nil {
		return nil, err
	}
	if m.CursorErr != nil {
		return nil, m.CursorErr
	}
	return &emaildomain.ChangeSet{Changes: m.Changes, NewCursor: m.Cursor}, nil
}

func (m *Mailbox) ListRecent(_ context.Context, _ time.Time, limit int) (*emaildomain.ChangeSet, error) {
	if err := m.call("ListRecent"); err != nil {
		return nil, err
	}
	changes := m.Changes
	if len(changes) > limit {
		changes = changes[:limit]
	}
	return &emaildomain.ChangeSet{Changes: changes, NewCursor: m.Cursor}, nil
}

func (m *Mailbox) ApplyLabel(_ context.Context, id, label string) error {
	if err := m.call("ApplyLabel"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Labels[id] = append(m.Labels[id], label)
	return nil
}

func (m *Mailbox) Archive(_ context.Context, id string) error {
	if err := m.call("Archive"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived[id] = true
	return nil
}

func (m *Mailbox) MarkRead(_ context.Context, id string) error {
	if err := m.call("MarkRead"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Messages[id]; ok {
		e.IsRead = true
	}
	return nil
}

func (m *Mailbox) MarkSpam(_ context.Context, id string) error {
	if err := m.call("MarkSpam"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Folders[id] = "Spam"
	return nil
}

func (m *Mailbox) MoveToFolder(_ context.Context, id, folder string) error {
	if err := m.call("MoveToFolder"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Folders[id] = folder
	return nil
}

func (m *Mailbox) CreateDraft(_ context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	if err := m.call("CreateDraft"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("draft-%d", m.seq)
	d := &emaildomain.Draft{ID: id, Subject: msg.Subject, Body: msg.Body}
	if len(msg.To) > 0 {
		d.To = msg.To[0]
	}
	if msg.ReplyTo != nil {
		d.ThreadID = msg.ReplyTo.ThreadID
	}
	m.Drafts[id] = d
	return id, nil
}

func (m *Mailbox) GetDraft(_ context.Context, id string) (*emaildomain.Draft, error) {
	if err := m.call("GetDraft"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Drafts[id]
	if !ok {
		return nil, emaildomain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Mailbox) DeleteDraft(_ context.Context, id string) error {
	if err := m.call("DeleteDraft"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Drafts[id]; !ok {
		return emaildomain.ErrNotFound
	}
	delete(m.Drafts, id)
	return nil
}

func (m *Mailbox) SendMessage(_ context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	if err := m.call("SendMessage"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.Sent = append(m.Sent, msg)
	return fmt.Sprintf("sent-%d", m.seq), nil
}

func (m *Mailbox) ForwardMessage(_ context.Context, id string, to []string, _ string) error {
	if err := m.call("ForwardMessage"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Forwards[id] = append(m.Forwards[id], to...)
	return nil
}

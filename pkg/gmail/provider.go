package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/mailmime"

	"google.golang.org/api/gmail/v1"
)

const user = "me"

// Provider implements emaildomain.MailProvider on the Gmail API.
type Provider struct {
	srv   *gmail.Service
	email string

	mu     sync.Mutex
	labels map[string]string // lower-cased name -> label id
}

var _ emaildomain.MailProvider = (*Provider)(nil)

func newProvider(srv *gmail.Service, email string) *Provider {
	return &Provider{srv: srv, email: email}
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) GetMessage(ctx context.Context, messageID string) (*emaildomain.Email, error) {
	msg, err := p.srv.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to retrieve message: %w", err))
	}
	return convertGmailMessageToEmail(msg), nil
}

func (p *Provider) GetThread(ctx context.Context, threadID string) (*emaildomain.Thread, error) {
	thread, err := p.srv.Users.Threads.Get(user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to retrieve thread: %w", err))
	}
	out := &emaildomain.Thread{ID: thread.Id}
	for _, m := range thread.Messages {
		out.Messages = append(out.Messages, convertGmailMessageToEmail(m))
	}
	return out, nil
}

// ListChangesSince walks the history API from cursor. A 404 means the
// history id is older than Gmail retains.
func (p *Provider) ListChangesSince(ctx context.Context, cursor string) (*emaildomain.ChangeSet, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil || startID == 0 {
		return nil, emaildomain.ErrCursorExpired
	}

	set := &emaildomain.ChangeSet{NewCursor: cursor}
	pageToken := ""
	for {
		call := p.srv.Users.History.List(user).
			StartHistoryId(startID).
			HistoryTypes("messageAdded", "labelAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if isNotFound(err) {
				return nil, emaildomain.ErrCursorExpired
			}
			return nil, classify(fmt.Errorf("unable to list history: %w", err))
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if c, ok := changeFromMessage(added.Message); ok {
					set.Changes = append(set.Changes, c)
				}
			}
			for _, labelled := range h.LabelsAdded {
				if !hasLabel(labelled.LabelIds, "INBOX") {
					continue
				}
				if c, ok := changeFromMessage(labelled.Message); ok {
					set.Changes = append(set.Changes, c)
				}
			}
		}
		if resp.HistoryId > 0 {
			set.NewCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return set, nil
}

// ListRecent is the bounded resync used when the history cursor is gone.
func (p *Provider) ListRecent(ctx context.Context, since time.Time, limit int) (*emaildomain.ChangeSet, error) {
	profile, err := p.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to get profile: %w", err))
	}

	q := fmt.Sprintf("in:inbox after:%d", since.Unix())
	resp, err := p.srv.Users.Messages.List(user).Q(q).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to list recent messages: %w", err))
	}

	set := &emaildomain.ChangeSet{NewCursor: strconv.FormatUint(profile.HistoryId, 10)}
	for _, m := range resp.Messages {
		set.Changes = append(set.Changes, emaildomain.Change{MessageID: m.Id, ThreadID: m.ThreadId})
	}
	return set, nil
}

func (p *Provider) ApplyLabel(ctx context.Context, messageID, label string) error {
	labelID, err := p.ensureLabel(ctx, label)
	if err != nil {
		return err
	}
	return p.modify(ctx, messageID, []string{labelID}, nil)
}

func (p *Provider) Archive(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, nil, []string{"INBOX"})
}

func (p *Provider) MarkRead(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, nil, []string{"UNREAD"})
}

func (p *Provider) MarkSpam(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, []string{"SPAM"}, []string{"INBOX"})
}

// MoveToFolder has no native meaning in Gmail; the folder becomes a label
// and the message leaves the inbox.
func (p *Provider) MoveToFolder(ctx context.Context, messageID, folder string) error {
	labelID, err := p.ensureLabel(ctx, folder)
	if err != nil {
		return err
	}
	return p.modify(ctx, messageID, []string{labelID}, []string{"INBOX"})
}

func (p *Provider) CreateDraft(ctx context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	raw, threadID, err := p.encode(msg)
	if err != nil {
		return "", err
	}
	draft, err := p.srv.Users.Drafts.Create(user, &gmail.Draft{
		Message: &gmail.Message{Raw: raw, ThreadId: threadID},
	}).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("unable to create draft: %w", err))
	}
	return draft.Id, nil
}

func (p *Provider) GetDraft(ctx context.Context, draftID string) (*emaildomain.Draft, error) {
	draft, err := p.srv.Users.Drafts.Get(user, draftID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to get draft: %w", err))
	}
	out := &emaildomain.Draft{ID: draft.Id}
	if draft.Message != nil && draft.Message.Payload != nil {
		out.ThreadID = draft.Message.ThreadId
		out.To = getHeader(draft.Message.Payload.Headers, "To")
		out.Subject = getHeader(draft.Message.Payload.Headers, "Subject")
		out.Body, _ = getEmailBody(draft.Message.Payload)
	}
	return out, nil
}

func (p *Provider) DeleteDraft(ctx context.Context, draftID string) error {
	if err := p.srv.Users.Drafts.Delete(user, draftID).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("unable to delete draft: %w", err))
	}
	return nil
}

func (p *Provider) SendMessage(ctx context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	raw, threadID, err := p.encode(msg)
	if err != nil {
		return "", err
	}
	sent, err := p.srv.Users.Messages.Send(user, &gmail.Message{Raw: raw, ThreadId: threadID}).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("unable to send message: %w", err))
	}
	return sent.Id, nil
}

func (p *Provider) ForwardMessage(ctx context.Context, messageID string, to []string, note string) error {
	original, err := p.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	_, err = p.SendMessage(ctx, mailmime.Forward(p.email, original, to, note))
	return err
}

func (p *Provider) modify(ctx context.Context, messageID string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	if _, err := p.srv.Users.Messages.Modify(user, messageID, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("unable to modify message labels: %w", err))
	}
	return nil
}

// ensureLabel resolves a label name to its id, creating it when missing.
func (p *Provider) ensureLabel(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("label name is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.labels == nil {
		resp, err := p.srv.Users.Labels.List(user).Context(ctx).Do()
		if err != nil {
			return "", classify(fmt.Errorf("unable to retrieve labels: %w", err))
		}
		p.labels = make(map[string]string, len(resp.Labels))
		for _, l := range resp.Labels {
			p.labels[strings.ToLower(l.Name)] = l.Id
		}
	}
	if id, ok := p.labels[key]; ok {
		return id, nil
	}

	created, err := p.srv.Users.Labels.Create(user, &gmail.Label{
		Name:                  strings.TrimSpace(name),
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("unable to create label %q: %w", name, err))
	}
	p.labels[key] = created.Id
	return created.Id, nil
}

func (p *Provider) encode(msg *emaildomain.OutgoingMessage) (string, string, error) {
	if msg.From == "" {
		msg.From = p.email
	}
	raw, _, err := mailmime.Compose(msg)
	if err != nil {
		return "", "", err
	}
	threadID := ""
	if msg.ReplyTo != nil {
		threadID = msg.ReplyTo.ThreadID
	}
	return base64.URLEncoding.EncodeToString(raw), threadID, nil
}

func changeFromMessage(m *gmail.Message) (emaildomain.Change, bool) {
	if m == nil || m.Id == "" {
		return emaildomain.Change{}, false
	}
	// Drafts the executor creates show up as added messages too.
	if hasLabel(m.LabelIds, "DRAFT") {
		return emaildomain.Change{}, false
	}
	return emaildomain.Change{
		MessageID: m.Id,
		ThreadID:  m.ThreadId,
		IsSent:    hasLabel(m.LabelIds, "SENT"),
	}, true
}

package imap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
	"github.com/elie222/inbox-zero-sub019/pkg/mailmime"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/textproto"
)

const (
	inbox         = "INBOX"
	archiveFolder = "Archive"
	junkFolder    = "Junk"
	draftsFolder  = "Drafts"
	sentFolder    = "Sent"
)

var threadHeaders = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"Message-Id", "In-Reply-To", "References"},
	},
	Peek: true,
}

// Provider implements emaildomain.MailProvider over IMAP (reads, flags,
// folders, drafts) and SMTP (sending). Message ids are INBOX UIDs; a
// message moved out of the inbox by this provider is found again through
// its Message-Id header.
type Provider struct {
	cfg Config

	mu        sync.Mutex
	moved     map[string]string // message id -> mailbox it was moved to
	headerIDs map[string]string // message id -> Message-Id header
}

var _ emaildomain.MailProvider = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	return &Provider{
		cfg:       cfg,
		moved:     make(map[string]string),
		headerIDs: make(map[string]string),
	}
}

func (p *Provider) Name() string { return "imap" }

func (p *Provider) withClient(ctx context.Context, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := connect(p.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			logger.Logger.Debug().Err(err).Str("account", p.cfg.Email).Msg("[IMAP] logout failed")
		}
	}()
	return fn(c)
}

func (p *Provider) GetMessage(ctx context.Context, messageID string) (*emaildomain.Email, error) {
	var email *emaildomain.Email
	err := p.withClient(ctx, func(c *client.Client) error {
		mailbox, uid, err := p.locate(c, messageID)
		if err != nil {
			return err
		}
		email, err = fetchFull(c, mailbox, uid)
		return err
	})
	if err != nil {
		return nil, err
	}
	email.ID = messageID
	p.remember(messageID, email.MessageID)
	return email, nil
}

// GetThread collects the inbox messages that share the thread key.
func (p *Provider) GetThread(ctx context.Context, threadID string) (*emaildomain.Thread, error) {
	thread := &emaildomain.Thread{ID: threadID}
	err := p.withClient(ctx, func(c *client.Client) error {
		if _, err := c.Select(inbox, true); err != nil {
			return fmt.Errorf("%w: unable to select inbox: %v", emaildomain.ErrTransient, err)
		}
		byID := imap.NewSearchCriteria()
		byID.Header.Add("Message-Id", threadID)
		byRef := imap.NewSearchCriteria()
		byRef.Header.Add("References", threadID)
		criteria := imap.NewSearchCriteria()
		criteria.Or = [][2]*imap.SearchCriteria{{byID, byRef}}

		uids, err := c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("unable to search thread: %w", err)
		}
		for _, uid := range uids {
			email, err := fetchFull(c, inbox, uid)
			if err != nil {
				return err
			}
			email.ID = strconv.FormatUint(uint64(uid), 10)
			thread.Messages = append(thread.Messages, email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(thread.Messages) == 0 {
		return nil, fmt.Errorf("%w: thread %s", emaildomain.ErrNotFound, threadID)
	}
	return thread, nil
}

// ListChangesSince reports inbox messages with a UID above the cursor. A
// changed UIDVALIDITY invalidates every stored UID.
func (p *Provider) ListChangesSince(ctx context.Context, raw string) (*emaildomain.ChangeSet, error) {
	cur, err := parseCursor(raw)
	if err != nil {
		return nil, err
	}

	var set *emaildomain.ChangeSet
	err = p.withClient(ctx, func(c *client.Client) error {
		status, err := c.Select(inbox, true)
		if err != nil {
			return fmt.Errorf("%w: unable to select inbox: %v", emaildomain.ErrTransient, err)
		}
		if status.UidValidity != cur.validity {
			return emaildomain.ErrCursorExpired
		}

		criteria := imap.NewSearchCriteria()
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(cur.lastUID+1, 0)
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("unable to search new messages: %w", err)
		}
		// "n:*" always matches the highest UID even when it is below n.
		fresh := uids[:0]
		for _, uid := range uids {
			if uid > cur.lastUID {
				fresh = append(fresh, uid)
			}
		}

		set, err = p.changes(c, status.UidValidity, cur.lastUID, fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ListRecent reports up to limit inbox messages received since the given
// time, newest last, and a fresh cursor.
func (p *Provider) ListRecent(ctx context.Context, since time.Time, limit int) (*emaildomain.ChangeSet, error) {
	var set *emaildomain.ChangeSet
	err := p.withClient(ctx, func(c *client.Client) error {
		status, err := c.Select(inbox, true)
		if err != nil {
			return fmt.Errorf("%w: unable to select inbox: %v", emaildomain.ErrTransient, err)
		}
		criteria := imap.NewSearchCriteria()
		criteria.Since = since
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("unable to search recent messages: %w", err)
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		last := uint32(0)
		if status.UidNext > 0 {
			last = status.UidNext - 1
		}
		set, err = p.changes(c, status.UidValidity, last, uids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (p *Provider) changes(c *client.Client, validity, last uint32, uids []uint32) (*emaildomain.ChangeSet, error) {
	set := &emaildomain.ChangeSet{NewCursor: cursor{validity: validity, lastUID: last}.String()}
	if len(uids) == 0 {
		return set, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, threadHeaders.FetchItem()}
	msgs, err := fetch(c, seq, items)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch envelopes: %w", err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Uid < msgs[j].Uid })

	for _, m := range msgs {
		if m.Uid > last {
			last = m.Uid
		}
		var messageID, inReplyTo, references string
		isSent := false
		if m.Envelope != nil {
			messageID = m.Envelope.MessageId
			inReplyTo = m.Envelope.InReplyTo
			for _, from := range m.Envelope.From {
				if strings.EqualFold(from.Address(), p.cfg.Email) {
					isSent = true
				}
			}
		}
		if body := m.GetBody(threadHeaders); body != nil {
			if h, err := textproto.ReadHeader(bufio.NewReader(body)); err == nil {
				references = h.Get("References")
				if messageID == "" {
					messageID = h.Get("Message-Id")
				}
			}
		}
		set.Changes = append(set.Changes, emaildomain.Change{
			MessageID: strconv.FormatUint(uint64(m.Uid), 10),
			ThreadID:  mailmime.ThreadKey(messageID, inReplyTo, references),
			IsSent:    isSent,
		})
	}
	set.NewCursor = cursor{validity: validity, lastUID: last}.String()
	return set, nil
}

// ApplyLabel sets the label as an IMAP keyword.
func (p *Provider) ApplyLabel(ctx context.Context, messageID, label string) error {
	kw := keyword(label)
	if kw == "" {
		return fmt.Errorf("label name is empty")
	}
	return p.store(ctx, messageID, imap.AddFlags, kw)
}

func (p *Provider) Archive(ctx context.Context, messageID string) error {
	return p.move(ctx, messageID, archiveFolder)
}

func (p *Provider) MarkRead(ctx context.Context, messageID string) error {
	return p.store(ctx, messageID, imap.AddFlags, imap.SeenFlag)
}

func (p *Provider) MarkSpam(ctx context.Context, messageID string) error {
	return p.move(ctx, messageID, junkFolder)
}

func (p *Provider) MoveToFolder(ctx context.Context, messageID, folder string) error {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return fmt.Errorf("folder name is empty")
	}
	return p.move(ctx, messageID, folder)
}

// CreateDraft appends the draft to the Drafts mailbox. The returned id is
// the draft's Message-Id header, which survives server-side renumbering.
func (p *Provider) CreateDraft(ctx context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	p.fillSender(msg)
	raw, messageID, err := mailmime.Compose(msg)
	if err != nil {
		return "", err
	}
	err = p.withClient(ctx, func(c *client.Client) error {
		ensureMailbox(c, draftsFolder)
		if err := c.Append(draftsFolder, []string{imap.DraftFlag, imap.SeenFlag}, time.Now(), bytes.NewBuffer(raw)); err != nil {
			return fmt.Errorf("unable to append draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (p *Provider) GetDraft(ctx context.Context, draftID string) (*emaildomain.Draft, error) {
	var draft *emaildomain.Draft
	err := p.withClient(ctx, func(c *client.Client) error {
		uid, err := findByHeader(c, draftsFolder, draftID, true)
		if err != nil {
			return err
		}
		email, err := fetchFull(c, draftsFolder, uid)
		if err != nil {
			return err
		}
		draft = &emaildomain.Draft{
			ID:       draftID,
			ThreadID: email.ThreadID,
			To:       strings.Join(email.To, ", "),
			Subject:  email.Subject,
			Body:     email.Body,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func (p *Provider) DeleteDraft(ctx context.Context, draftID string) error {
	return p.withClient(ctx, func(c *client.Client) error {
		uid, err := findByHeader(c, draftsFolder, draftID, false)
		if err != nil {
			return err
		}
		seq := new(imap.SeqSet)
		seq.AddNum(uid)
		flags := []interface{}{imap.DeletedFlag}
		if err := c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return fmt.Errorf("unable to flag draft deleted: %w", err)
		}
		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("unable to expunge drafts: %w", err)
		}
		return nil
	})
}

// SendMessage submits over SMTP and files a copy in Sent. Failing to
// file the copy does not fail the send.
func (p *Provider) SendMessage(ctx context.Context, msg *emaildomain.OutgoingMessage) (string, error) {
	p.fillSender(msg)
	raw, messageID, err := mailmime.Compose(msg)
	if err != nil {
		return "", err
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)
	if len(recipients) == 0 {
		return "", fmt.Errorf("message has no recipients")
	}
	if err := sendSMTP(ctx, p.cfg, msg.From, recipients, raw); err != nil {
		return "", err
	}

	err = p.withClient(ctx, func(c *client.Client) error {
		ensureMailbox(c, sentFolder)
		return c.Append(sentFolder, []string{imap.SeenFlag}, time.Now(), bytes.NewBuffer(raw))
	})
	if err != nil {
		logger.Logger.Warn().Err(err).Str("account", p.cfg.Email).Msg("[IMAP] Failed to file sent copy")
	}
	return messageID, nil
}

func (p *Provider) ForwardMessage(ctx context.Context, messageID string, to []string, note string) error {
	original, err := p.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	_, err = p.SendMessage(ctx, mailmime.Forward(p.cfg.Email, original, to, note))
	return err
}

func (p *Provider) fillSender(msg *emaildomain.OutgoingMessage) {
	if msg.From == "" {
		msg.From = p.cfg.Email
		msg.FromName = p.cfg.Name
	}
}

func (p *Provider) store(ctx context.Context, messageID string, op imap.FlagsOp, flag string) error {
	return p.withClient(ctx, func(c *client.Client) error {
		mailbox, uid, err := p.locate(c, messageID)
		if err != nil {
			return err
		}
		if _, err := c.Select(mailbox, false); err != nil {
			return fmt.Errorf("%w: unable to select %s: %v", emaildomain.ErrTransient, mailbox, err)
		}
		seq := new(imap.SeqSet)
		seq.AddNum(uid)
		if err := c.UidStore(seq, imap.FormatFlagsOp(op, true), []interface{}{flag}, nil); err != nil {
			return fmt.Errorf("unable to store flag %s: %w", flag, err)
		}
		return nil
	})
}

func (p *Provider) move(ctx context.Context, messageID, dest string) error {
	err := p.withClient(ctx, func(c *client.Client) error {
		mailbox, uid, err := p.locate(c, messageID)
		if err != nil {
			return err
		}
		if mailbox == dest {
			return nil
		}
		if _, err := c.Select(mailbox, false); err != nil {
			return fmt.Errorf("%w: unable to select %s: %v", emaildomain.ErrTransient, mailbox, err)
		}
		// The header id must be known before the UID stops being valid.
		if p.headerID(messageID) == "" {
			email, err := fetchFull(c, mailbox, uid)
			if err != nil {
				return err
			}
			p.remember(messageID, email.MessageID)
		}
		ensureMailbox(c, dest)
		seq := new(imap.SeqSet)
		seq.AddNum(uid)
		if err := c.UidMove(seq, dest); err != nil {
			return fmt.Errorf("unable to move message to %s: %w", dest, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.moved[messageID] = dest
	p.mu.Unlock()
	return nil
}

// locate resolves a message id to its current mailbox and UID, leaving
// that mailbox selected.
func (p *Provider) locate(c *client.Client, messageID string) (string, uint32, error) {
	p.mu.Lock()
	mailbox, moved := p.moved[messageID]
	p.mu.Unlock()

	if moved {
		header := p.headerID(messageID)
		if header == "" {
			return "", 0, fmt.Errorf("%w: message %s left the inbox", emaildomain.ErrNotFound, messageID)
		}
		uid, err := findByHeader(c, mailbox, header, true)
		return mailbox, uid, err
	}

	uid, err := parseUID(messageID)
	if err != nil {
		return "", 0, err
	}
	if _, err := c.Select(inbox, true); err != nil {
		return "", 0, fmt.Errorf("%w: unable to select inbox: %v", emaildomain.ErrTransient, err)
	}
	return inbox, uid, nil
}

func (p *Provider) remember(messageID, header string) {
	if header == "" {
		return
	}
	p.mu.Lock()
	p.headerIDs[messageID] = header
	p.mu.Unlock()
}

func (p *Provider) headerID(messageID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headerIDs[messageID]
}

func findByHeader(c *client.Client, mailbox, headerID string, readOnly bool) (uint32, error) {
	if _, err := c.Select(mailbox, readOnly); err != nil {
		return 0, fmt.Errorf("%w: mailbox %s: %v", emaildomain.ErrNotFound, mailbox, err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", headerID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("unable to search %s: %w", mailbox, err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("%w: %s in %s", emaildomain.ErrNotFound, headerID, mailbox)
	}
	return uids[len(uids)-1], nil
}

func fetchFull(c *client.Client, mailbox string, uid uint32) (*emaildomain.Email, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	msgs, err := fetch(c, seq, items)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch message %d from %s: %w", uid, mailbox, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: uid %d in %s", emaildomain.ErrNotFound, uid, mailbox)
	}
	m := msgs[0]
	body := m.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("%w: empty body for uid %d", emaildomain.ErrNotFound, uid)
	}

	email, err := mailmime.Parse(body)
	if err != nil {
		return nil, err
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = m.InternalDate
	}
	email.ThreadID = mailmime.ThreadKey(email.MessageID, email.InReplyTo, email.References)
	email.LabelIDs = m.Flags
	for _, f := range m.Flags {
		if f == imap.SeenFlag {
			email.IsRead = true
		}
	}
	return email, nil
}

func fetch(c *client.Client, seq *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seq, items, ch)
	}()
	var msgs []*imap.Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	return msgs, <-done
}

// ensureMailbox creates a mailbox if it is missing; "already exists"
// errors are expected and ignored.
func ensureMailbox(c *client.Client, name string) {
	if err := c.Create(name); err != nil && !isAlreadyExists(err) {
		logger.Logger.Debug().Err(err).Str("mailbox", name).Msg("[IMAP] create mailbox")
	}
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "exist")
}

// Package mailmime composes and parses RFC 5322 messages for the
// adapters that talk raw MIME (Gmail raw upload, IMAP append, SMTP).
package mailmime

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose renders msg as a single-part message. It returns the bytes and
// the generated Message-ID (with angle brackets).
func Compose(msg *emaildomain.OutgoingMessage) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	if msg.From != "" {
		h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.From}})
	}
	h.SetAddressList("To", addresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", addresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		h.SetAddressList("Bcc", addresses(msg.Bcc))
	}
	h.SetSubject(msg.Subject)

	domain := "localhost"
	if idx := strings.LastIndex(msg.From, "@"); idx >= 0 {
		domain = msg.From[idx+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
	h.Set("Message-Id", messageID)

	if msg.ReplyTo != nil && msg.ReplyTo.MessageID != "" {
		h.Set("In-Reply-To", msg.ReplyTo.MessageID)
		h.Set("References", strings.TrimSpace(msg.ReplyTo.References+" "+msg.ReplyTo.MessageID))
	}

	contentType := "text/plain"
	if msg.IsHTML {
		contentType = "text/html"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, "", fmt.Errorf("unable to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("unable to close message writer: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

// Parse reads a full RFC 5322 message. HTML bodies win over plain text.
func Parse(r io.Reader) (*emaildomain.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("unable to read message: %w", err)
	}
	defer mr.Close()

	email := &emaildomain.Email{}
	email.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = strings.ToLower(from[0].Address)
		email.FromName = from[0].Name
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			email.To = append(email.To, a.Address)
		}
	}
	if cc, err := mr.Header.AddressList("Cc"); err == nil {
		for _, a := range cc {
			email.Cc = append(email.Cc, a.Address)
		}
	}
	if replyTo, err := mr.Header.AddressList("Reply-To"); err == nil && len(replyTo) > 0 {
		email.ReplyTo = replyTo[0].Address
	}
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		email.MessageID = "<" + id + ">"
	}
	email.References = mr.Header.Get("References")
	email.InReplyTo = mr.Header.Get("In-Reply-To")
	if date, err := mr.Header.Date(); err == nil {
		email.ReceivedAt = date
	}

	var htmlBody, plainBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("unable to read message part: %w", err)
		}

		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(data)
			}
		case "text/plain", "":
			if plainBody == "" {
				plainBody = string(data)
			}
		}
	}

	if htmlBody != "" {
		email.Body = htmlBody
		email.IsHTML = true
	} else {
		email.Body = plainBody
	}
	email.Snippet = Snippet(email.Body, email.IsHTML)
	return email, nil
}

// ThreadKey derives a stable thread id for backends without native
// threading: the first id in References, else In-Reply-To, else the
// message's own Message-ID.
func ThreadKey(messageID, inReplyTo, references string) string {
	if refs := strings.Fields(references); len(refs) > 0 {
		return refs[0]
	}
	if inReplyTo != "" {
		return inReplyTo
	}
	return messageID
}

func addresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if parsed, err := mail.ParseAddress(a); err == nil {
			out = append(out, parsed)
			continue
		}
		out = append(out, &mail.Address{Address: a})
	}
	return out
}

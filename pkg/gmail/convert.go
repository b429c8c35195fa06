package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/mailmime"

	"google.golang.org/api/gmail/v1"
)

func convertGmailMessageToEmail(msg *gmail.Message) *emaildomain.Email {
	email := &emaildomain.Email{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
		LabelIDs:   msg.LabelIds,
		IsSent:     hasLabel(msg.LabelIds, "SENT"),
		IsRead:     !hasLabel(msg.LabelIds, "UNREAD"),
	}
	if msg.Payload == nil {
		email.Snippet = msg.Snippet
		return email
	}

	headers := msg.Payload.Headers
	email.Subject = getHeader(headers, "Subject")
	email.MessageID = getHeader(headers, "Message-ID")
	email.References = getHeader(headers, "References")
	email.ReplyTo = parseAddress(getHeader(headers, "Reply-To"))

	from := getHeader(headers, "From")
	if addr, err := mail.ParseAddress(from); err == nil {
		email.From = strings.ToLower(addr.Address)
		email.FromName = addr.Name
	} else {
		email.From = strings.ToLower(strings.Trim(from, "<> "))
	}
	email.To = parseAddressList(getHeader(headers, "To"))
	email.Cc = parseAddressList(getHeader(headers, "Cc"))

	email.Body, email.IsHTML = getEmailBody(msg.Payload)
	email.Snippet = mailmime.Snippet(email.Body, email.IsHTML)
	if email.Snippet == "" {
		email.Snippet = msg.Snippet
	}
	return email
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody, plainBody string
	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
				data, err := decodeBody(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						if htmlBody == "" {
							htmlBody = string(data)
						}
					case "text/plain":
						if plainBody == "" {
							plainBody = string(data)
						}
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}

// decodeBody accepts both padded and unpadded base64url, Gmail uses either.
func decodeBody(data string) ([]byte, error) {
	if out, err := base64.URLEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

func parseAddress(value string) string {
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		return strings.ToLower(addr.Address)
	}
	return value
}

func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	list, err := mail.ParseAddressList(value)
	if err != nil {
		return []string{value}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}

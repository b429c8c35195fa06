package usecase

import (
	"strings"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
)

// expand fills the supported {{tokens}} in an action's text fields with
// values from the triggering email.
func expand(item ruledomain.ActionItem, e *emaildomain.Email) ruledomain.ActionItem {
	name := e.FromName
	if name == "" {
		name = e.From
	}
	r := strings.NewReplacer(
		"{{sender_name}}", name,
		"{{sender_email}}", e.From,
		"{{subject}}", e.Subject,
		"{{date}}", e.ReceivedAt.UTC().Format("Jan 2, 2006"),
		"{{quoted}}", quote(e),
	)
	item.Label = r.Replace(item.Label)
	item.Subject = r.Replace(item.Subject)
	item.Content = r.Replace(item.Content)
	item.Folder = r.Replace(item.Folder)
	return item
}

func quote(e *emaildomain.Email) string {
	body := strings.TrimSpace(strings.ReplaceAll(e.Body, "\r\n", "\n"))
	if e.IsHTML || body == "" {
		body = e.Snippet
	}
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

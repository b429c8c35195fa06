package mailmime

import (
	"fmt"
	"html"
	"strings"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
)

// Forward builds the outgoing message that forwards original to the given
// recipients with an optional leading note.
func Forward(from string, original *emaildomain.Email, to []string, note string) *emaildomain.OutgoingMessage {
	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}

	sender := original.From
	if original.FromName != "" {
		sender = fmt.Sprintf("%s <%s>", original.FromName, original.From)
	}

	var b strings.Builder
	if note != "" {
		b.WriteString("<p>" + html.EscapeString(note) + "</p>")
	}
	b.WriteString("<p>---------- Forwarded message ---------<br>")
	b.WriteString("From: " + html.EscapeString(sender) + "<br>")
	b.WriteString("Date: " + original.ReceivedAt.Format("Mon, Jan 2, 2006 at 3:04 PM") + "<br>")
	b.WriteString("Subject: " + html.EscapeString(original.Subject) + "<br>")
	b.WriteString("To: " + html.EscapeString(strings.Join(original.To, ", ")) + "</p>")
	if original.IsHTML {
		b.WriteString(original.Body)
	} else {
		b.WriteString("<pre>" + html.EscapeString(original.Body) + "</pre>")
	}

	return &emaildomain.OutgoingMessage{
		From:    from,
		To:      to,
		Subject: subject,
		Body:    b.String(),
		IsHTML:  true,
	}
}

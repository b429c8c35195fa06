package usecase

import (
	"fmt"
	"regexp"
	"strings"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const maxBodyRunes = 2000

var (
	// "On Mon, 1 Jan 2024 at 10:00, Someone <a@b.c> wrote:"
	replyHeaderRe  = regexp.MustCompile(`(?m)^On .{0,200}wrote:\s*$`)
	forwardHeadRe  = regexp.MustCompile(`(?m)^-{2,}\s*(Original Message|Forwarded message)\s*-{2,}`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	selectionShape = `{
  "no_match": boolean,
  "needs_more_info": boolean,
  "rule_ids": [string],
  "reason": string,
  "actions": [{"type": string, "label": string, "subject": string, "content": string, "to": string, "folder": string}]
}`
)

const selectorSystem = `You are an assistant that sorts incoming email into the user's rules.
Read the rules and the email, then pick the ONE rule whose condition fits the email best.
Answer with the rule's <id> in "rule_ids". If no rule fits, set "no_match" to true. If you cannot decide without more context, set "needs_more_info" to true.
Prefer the rule with the most specific condition when several could apply.
For the chosen rule, fill in action values the rule leaves open, such as reply text or a label name.
Keep "reason" to one short sentence.`

// NormalizeBody turns an email body into bounded plain text for a prompt:
// HTML is converted to markdown, quoted replies are dropped and the result
// is truncated.
func NormalizeBody(e *emaildomain.Email) string {
	body := e.Body
	if e.IsHTML {
		if md, err := htmltomarkdown.ConvertString(body); err == nil {
			body = md
		}
	}
	body = stripQuoted(body)
	if r := []rune(body); len(r) > maxBodyRunes {
		body = string(r[:maxBodyRunes]) + "..."
	}
	return strings.TrimSpace(body)
}

func stripQuoted(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if loc := replyHeaderRe.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	if loc := forwardHeadRe.FindStringIndex(body); loc != nil && loc[0] > 0 {
		body = body[:loc[0]]
	}
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return blankRunRe.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
}

func buildSelectionPrompt(rules []ruledomain.Rule, e *emaildomain.Email, examples []Example) string {
	var b strings.Builder
	b.WriteString("<rules>\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "<rule>\n<id>%s</id>\n<name>%s</name>\n<condition>%s</condition>\n", r.ID, r.Name, strings.TrimSpace(r.Instructions))
		if len(r.Actions) > 0 {
			types := make([]string, 0, len(r.Actions))
			for _, a := range r.Actions {
				types = append(types, string(a.Type))
			}
			fmt.Fprintf(&b, "<actions>%s</actions>\n", strings.Join(types, ", "))
		}
		b.WriteString("</rule>\n")
	}
	b.WriteString("</rules>\n\n")

	if len(examples) > 0 {
		b.WriteString("<past_decisions>\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- From %s, subject %q: %s\n", ex.From, ex.Subject, ex.RuleName)
		}
		b.WriteString("</past_decisions>\n\n")
	}

	b.WriteString("<email>\n")
	from := e.From
	if e.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.FromName, e.From)
	}
	fmt.Fprintf(&b, "<from>%s</from>\n", from)
	if len(e.To) > 0 {
		fmt.Fprintf(&b, "<to>%s</to>\n", strings.Join(e.To, ", "))
	}
	fmt.Fprintf(&b, "<subject>%s</subject>\n", e.Subject)
	if e.Snippet != "" {
		fmt.Fprintf(&b, "<snippet>%s</snippet>\n", e.Snippet)
	}
	fmt.Fprintf(&b, "<body>\n%s\n</body>\n", NormalizeBody(e))
	b.WriteString("</email>")
	return b.String()
}

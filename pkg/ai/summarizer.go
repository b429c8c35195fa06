package ai

import (
	"context"
	"fmt"
	"strings"
)

type digestSummary struct {
	Summary string `json:"summary" validate:"required,max=600"`
}

// Summarizer produces the one-line digest summary of an email.
type Summarizer struct {
	completer Completer
}

func NewSummarizer(c Completer) *Summarizer {
	return &Summarizer{completer: c}
}

// Summarize returns a short summary, or the subject when the model is
// unavailable or returns something unusable. It never fails.
func (s *Summarizer) Summarize(ctx context.Context, from, subject, body string) string {
	if s == nil || s.completer == nil {
		return subject
	}
	if r := []rune(body); len(r) > 4000 {
		body = string(r[:4000])
	}

	res := GenerateObject[digestSummary](ctx, s.completer, Request{
		System: "You summarize emails for a daily digest. Write one or two plain sentences, " +
			"no greeting, in the language of the email.",
		Prompt:    fmt.Sprintf("From: %s\nSubject: %s\n\n%s", from, subject, body),
		Schema:    `{"summary": string}`,
		MaxTokens: 200,
	})
	if !res.OK() {
		return subject
	}
	summary := strings.TrimSpace(res.Value.Summary)
	if summary == "" {
		return subject
	}
	return summary
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type draftReply struct {
	Body string `json:"body" validate:"required"`
}

// Drafter writes reply bodies for DRAFT_EMAIL and REPLY actions that were
// configured without fixed content.
type Drafter struct {
	completer Completer
}

func NewDrafter(c Completer) *Drafter {
	return &Drafter{completer: c}
}

// Draft returns plain-text reply content. instructions is the rule's
// condition text and tells the model what kind of reply is wanted.
func (d *Drafter) Draft(ctx context.Context, instructions, from, subject, body string) (string, error) {
	if d == nil || d.completer == nil {
		return "", errors.New("no AI provider configured")
	}
	if r := []rune(body); len(r) > 3000 {
		body = string(r[:3000])
	}

	res := GenerateObject[draftReply](ctx, d.completer, Request{
		System: "You write short, polite email replies on behalf of the user. " +
			"Answer in the language of the email. No subject line, no signature placeholder.",
		Prompt:      fmt.Sprintf("Context for the reply: %s\n\nFrom: %s\nSubject: %s\n\n%s", instructions, from, subject, body),
		Schema:      `{"body": string}`,
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if !res.OK() {
		return "", fmt.Errorf("draft generation failed (%s): %w", res.Kind, res.Err)
	}
	return strings.TrimSpace(res.Value.Body), nil
}

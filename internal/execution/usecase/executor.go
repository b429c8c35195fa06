package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	digestusecase "github.com/elie222/inbox-zero-sub019/internal/digest/usecase"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// DigestEnqueuer takes DIGEST actions.
type DigestEnqueuer interface {
	Enqueue(ctx context.Context, in digestusecase.ItemInput) error
}

// ReplyDrafter writes reply text when an action has none configured.
type ReplyDrafter interface {
	Draft(ctx context.Context, instructions, from, subject, body string) (string, error)
}

// ExecuteInput is everything one run of a rule's actions needs.
type ExecuteInput struct {
	Provider     emaildomain.MailProvider
	Email        *emaildomain.Email
	Record       *domain.ExecutedRule
	Instructions string
	Items        []ruledomain.ActionItem
}

// Executor runs action items against a provider and records each outcome.
type Executor struct {
	ledger     repository.LedgerRepository
	digests    DigestEnqueuer
	drafter    ReplyDrafter
	httpClient *http.Client
}

func NewExecutor(ledger repository.LedgerRepository, digests DigestEnqueuer, drafter ReplyDrafter) *Executor {
	return &Executor{
		ledger:     ledger,
		digests:    digests,
		drafter:    drafter,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type outcome struct {
	draftID string
	sentID  string
}

// Execute runs items in order. Actions that already succeeded on an
// earlier attempt are not repeated. A failed action does not stop the
// others, except that a failed LABEL skips the actions that would move the
// message out of sight. A transient provider error aborts the run and is
// returned so the whole task is retried; any other failure is recorded and
// reflected in the returned status.
func (x *Executor) Execute(ctx context.Context, in ExecuteInput) (domain.ExecutedRuleStatus, error) {
	log := logger.Logger.With().Str("account_id", in.Record.AccountID).Str("message_id", in.Record.MessageID).Logger()

	var succeeded, failed int
	labelFailed := false
	for i, planned := range in.Items {
		actionID := itemActionID(i, planned)
		if prev := in.Record.ActionResult(actionID); prev != nil && prev.Status == domain.ActionSucceeded {
			succeeded++
			continue
		}

		item := expand(planned, in.Email)
		result := &domain.ExecutedAction{
			ExecutedRuleID: in.Record.ID,
			ActionID:       actionID,
			AccountID:      in.Record.AccountID,
			Type:           item.Type,
			Position:       i,
			Label:          item.Label,
			Subject:        item.Subject,
			Content:        item.Content,
			To:             item.To,
			Cc:             item.Cc,
			Bcc:            item.Bcc,
			URL:            item.URL,
			Folder:         item.Folder,
			AIGenerated:    item.AIGenerated,
		}

		if labelFailed && hidesMessage(item.Type) {
			result.Status = domain.ActionSkipped
			result.Error = "skipped because labelling failed"
			if err := x.ledger.RecordAction(ctx, result); err != nil {
				return domain.StatusApplying, fmt.Errorf("failed to record action: %w", err)
			}
			failed++
			continue
		}

		out, err := x.run(ctx, in, &item, result)
		if err != nil && errors.Is(err, emaildomain.ErrNotFound) && idempotentOnProvider(item.Type) {
			// The message already left the inbox or carries the state.
			log.Debug().Err(err).Str("action", string(item.Type)).Msg("[Executor] Already applied on provider")
			err = nil
		}
		if err != nil {
			result.Status = domain.ActionFailed
			result.Error = truncate(err.Error(), 500)
			if rerr := x.ledger.RecordAction(ctx, result); rerr != nil {
				return domain.StatusApplying, fmt.Errorf("failed to record action: %w", rerr)
			}
			if errors.Is(err, emaildomain.ErrTransient) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return domain.StatusApplying, err
			}
			log.Warn().Err(err).Str("action", string(item.Type)).Msg("[Executor] Action failed")
			if item.Type == ruledomain.ActionLabel {
				labelFailed = true
			}
			failed++
			continue
		}

		result.Status = domain.ActionSucceeded
		result.DraftID = out.draftID
		result.SentMessageID = out.sentID
		if err := x.ledger.RecordAction(ctx, result); err != nil {
			return domain.StatusApplying, fmt.Errorf("failed to record action: %w", err)
		}
		succeeded++
	}

	switch {
	case failed == 0:
		return domain.StatusApplied, nil
	case succeeded == 0:
		return domain.StatusError, nil
	default:
		return domain.StatusPartial, nil
	}
}

func (x *Executor) run(ctx context.Context, in ExecuteInput, item *ruledomain.ActionItem, result *domain.ExecutedAction) (outcome, error) {
	p, e := in.Provider, in.Email
	switch item.Type {
	case ruledomain.ActionArchive:
		return outcome{}, p.Archive(ctx, e.ID)

	case ruledomain.ActionLabel:
		if strings.TrimSpace(item.Label) == "" {
			return outcome{}, errors.New("no label to apply")
		}
		return outcome{}, p.ApplyLabel(ctx, e.ID, item.Label)

	case ruledomain.ActionMarkRead:
		return outcome{}, p.MarkRead(ctx, e.ID)

	case ruledomain.ActionMarkSpam:
		return outcome{}, p.MarkSpam(ctx, e.ID)

	case ruledomain.ActionMoveFolder:
		if strings.TrimSpace(item.Folder) == "" {
			return outcome{}, errors.New("no folder to move to")
		}
		return outcome{}, p.MoveToFolder(ctx, e.ID, item.Folder)

	case ruledomain.ActionDraftEmail:
		if err := x.ensureContent(ctx, in, item, result); err != nil {
			return outcome{}, err
		}
		id, err := p.CreateDraft(ctx, x.reply(e, item))
		return outcome{draftID: id}, err

	case ruledomain.ActionReply:
		if err := x.ensureContent(ctx, in, item, result); err != nil {
			return outcome{}, err
		}
		id, err := p.SendMessage(ctx, x.reply(e, item))
		return outcome{sentID: id}, err

	case ruledomain.ActionSendEmail:
		to := splitAddresses(item.To)
		if len(to) == 0 {
			return outcome{}, errors.New("no recipient")
		}
		id, err := p.SendMessage(ctx, &emaildomain.OutgoingMessage{
			To:      to,
			Cc:      splitAddresses(item.Cc),
			Bcc:     splitAddresses(item.Bcc),
			Subject: item.Subject,
			Body:    item.Content,
		})
		return outcome{sentID: id}, err

	case ruledomain.ActionForward:
		to := splitAddresses(item.To)
		if len(to) == 0 {
			return outcome{}, errors.New("no recipient")
		}
		return outcome{}, p.ForwardMessage(ctx, e.ID, to, item.Content)

	case ruledomain.ActionCallWebhook:
		return outcome{}, x.callWebhook(ctx, in, item)

	case ruledomain.ActionDigest:
		if x.digests == nil {
			return outcome{}, errors.New("digests are not configured")
		}
		return outcome{}, x.digests.Enqueue(ctx, digestusecase.ItemInput{
			AccountID: in.Record.AccountID,
			MessageID: e.ID,
			ActionID:  result.ActionID,
			ThreadID:  e.ThreadID,
			RuleName:  in.Record.RuleName,
			From:      e.From,
			Subject:   e.Subject,
			Body:      e.Body,
		})

	case ruledomain.ActionTrackThread:
		ruleID := ""
		if in.Record.RuleID != nil {
			ruleID = *in.Record.RuleID
		}
		return outcome{}, x.ledger.TrackThread(ctx, &domain.TrackedThread{
			AccountID: in.Record.AccountID,
			ThreadID:  e.ThreadID,
			MessageID: e.ID,
			RuleID:    ruleID,
			Subject:   e.Subject,
		})

	default:
		return outcome{}, fmt.Errorf("unsupported action type %q", item.Type)
	}
}

// ensureContent asks the drafter for reply text when none is configured
// and stores what it wrote on the result, which draft cleanup later
// compares against.
func (x *Executor) ensureContent(ctx context.Context, in ExecuteInput, item *ruledomain.ActionItem, result *domain.ExecutedAction) error {
	if strings.TrimSpace(item.Content) != "" {
		return nil
	}
	if x.drafter == nil {
		return errors.New("no reply content and no drafter configured")
	}
	content, err := x.drafter.Draft(ctx, in.Instructions, in.Email.From, in.Email.Subject, in.Email.Body)
	if err != nil {
		return err
	}
	if content == "" {
		return errors.New("drafter returned empty content")
	}
	item.Content = content
	result.Content = content
	result.AIGenerated = true
	return nil
}

func (x *Executor) reply(e *emaildomain.Email, item *ruledomain.ActionItem) *emaildomain.OutgoingMessage {
	to := splitAddresses(item.To)
	if len(to) == 0 {
		if e.ReplyTo != "" {
			to = []string{e.ReplyTo}
		} else {
			to = []string{e.From}
		}
	}
	subject := item.Subject
	if subject == "" {
		subject = replySubject(e.Subject)
	}
	return &emaildomain.OutgoingMessage{
		To:      to,
		Cc:      splitAddresses(item.Cc),
		Bcc:     splitAddresses(item.Bcc),
		Subject: subject,
		Body:    item.Content,
		ReplyTo: e,
	}
}

type webhookEnvelope struct {
	MessageID  string            `json:"messageId"`
	ThreadID   string            `json:"threadId"`
	RuleID     string            `json:"ruleId"`
	ActionType string            `json:"actionType"`
	Fields     map[string]string `json:"fields"`
}

func (x *Executor) callWebhook(ctx context.Context, in ExecuteInput, item *ruledomain.ActionItem) error {
	if item.URL == "" {
		return errors.New("no webhook url")
	}
	ruleID := ""
	if in.Record.RuleID != nil {
		ruleID = *in.Record.RuleID
	}
	payload, err := json.Marshal(webhookEnvelope{
		MessageID:  in.Email.ID,
		ThreadID:   in.Email.ThreadID,
		RuleID:     ruleID,
		ActionType: string(item.Type),
		Fields: map[string]string{
			"from":    in.Email.From,
			"subject": in.Email.Subject,
			"snippet": in.Email.Snippet,
			"date":    in.Email.ReceivedAt.UTC().Format(time.RFC3339),
			"rule":    in.Record.RuleName,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("invalid webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// itemActionID keys an item's ExecutedAction row. Items generated without
// a stored action fall back to their position.
func itemActionID(i int, item ruledomain.ActionItem) string {
	if item.ActionID != "" {
		return item.ActionID
	}
	return fmt.Sprintf("%d-%s", i, item.Type)
}

func idempotentOnProvider(t ruledomain.ActionType) bool {
	switch t {
	case ruledomain.ActionArchive, ruledomain.ActionLabel, ruledomain.ActionMarkRead,
		ruledomain.ActionMarkSpam, ruledomain.ActionMoveFolder:
		return true
	}
	return false
}

func hidesMessage(t ruledomain.ActionType) bool {
	return t == ruledomain.ActionArchive || t == ruledomain.ActionMoveFolder || t == ruledomain.ActionMarkSpam
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	emailusecase "github.com/elie222/inbox-zero-sub019/internal/email/usecase"
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	queuerepo "github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	rulerepo "github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// ProcessMessageRequest is the queue payload for one message.
type ProcessMessageRequest struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	// Force re-evaluates a message that already has a settled entry.
	Force bool `json:"force,omitempty"`
}

type RuleSelector interface {
	Select(ctx context.Context, accountID string, email *emaildomain.Email) (*ruledomain.Selection, error)
}

type PatternLearner interface {
	LearnPattern(ctx context.Context, rule *ruledomain.Rule, email *emaildomain.Email) (bool, error)
}

// VectorIndex remembers classified emails for similarity lookups.
type VectorIndex interface {
	Upsert(ctx context.Context, accountID, messageID, subject, body string) error
}

// MessageProcessor evaluates one message end to end: selection, ledger
// entry, execution and pattern learning.
type MessageProcessor struct {
	accounts  authrepo.AccountRepository
	providers emailusecase.ProviderFactory
	rules     rulerepo.RuleRepository
	selector  RuleSelector
	learner   PatternLearner
	ledger    repository.LedgerRepository
	executor  *Executor
	locks     queuerepo.LockRepository
	vectors   VectorIndex
	lockTTL   time.Duration
}

func NewMessageProcessor(
	accounts authrepo.AccountRepository,
	providers emailusecase.ProviderFactory,
	rules rulerepo.RuleRepository,
	selector RuleSelector,
	learner PatternLearner,
	ledger repository.LedgerRepository,
	executor *Executor,
	locks queuerepo.LockRepository,
	vectors VectorIndex,
	lockTTL time.Duration,
) *MessageProcessor {
	return &MessageProcessor{
		accounts:  accounts,
		providers: providers,
		rules:     rules,
		selector:  selector,
		learner:   learner,
		ledger:    ledger,
		executor:  executor,
		locks:     locks,
		vectors:   vectors,
		lockTTL:   lockTTL,
	}
}

// Handle is the queue handler for URLProcessMessage.
func (p *MessageProcessor) Handle(ctx context.Context, task *queuedomain.Task) error {
	var req ProcessMessageRequest
	if err := json.Unmarshal(task.Body, &req); err != nil || req.AccountID == "" || req.MessageID == "" {
		logger.Logger.Error().Str("job_id", task.JobID).Msg("[Processor] Dropping malformed task")
		return nil
	}
	_, err := p.Process(ctx, req)
	return err
}

// Process returns the ledger entry for the message. An error means the
// task should be retried; everything that retrying cannot fix is logged
// and acknowledged.
func (p *MessageProcessor) Process(ctx context.Context, req ProcessMessageRequest) (*domain.ExecutedRule, error) {
	log := logger.Logger.With().Str("account_id", req.AccountID).Str("message_id", req.MessageID).Logger()

	account, err := p.accounts.FindByID(req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		log.Warn().Msg("[Processor] Account not found, dropping task")
		return nil, nil
	}

	threadKey := req.ThreadID
	if threadKey == "" {
		threadKey = req.MessageID
	}
	lock, err := p.locks.AcquireLock(ctx, queuedomain.MessageLockKey(req.AccountID, threadKey, req.MessageID), p.lockTTL)
	if err != nil {
		if errors.Is(err, queuedomain.ErrLockHeld) {
			log.Debug().Msg("[Processor] Message is being processed elsewhere")
			return nil, nil
		}
		return nil, err
	}
	defer p.release(lock)

	if req.ThreadID != "" && !req.Force {
		rec, err := p.ledger.Find(ctx, req.AccountID, req.ThreadID, req.MessageID)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Status.Settled() {
			return rec, nil
		}
	}

	provider, err := p.providers.ForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	email, err := provider.GetMessage(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, emaildomain.ErrNotFound) {
			log.Info().Msg("[Processor] Message no longer exists")
			return nil, nil
		}
		return nil, err
	}
	if email.ThreadID == "" {
		email.ThreadID = threadKey
	}

	rec, err := p.ledger.Find(ctx, account.ID, email.ThreadID, email.ID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Status.Settled() && !req.Force {
		return rec, nil
	}

	var rule *ruledomain.Rule
	var items []ruledomain.ActionItem
	if rec != nil && rec.Status == domain.StatusApplying && !req.Force {
		// A previous attempt stopped part way; finish the same plan.
		if items, err = rec.Items(); err != nil {
			return nil, fmt.Errorf("corrupt action plan: %w", err)
		}
		if rec.RuleID != nil {
			if rule, err = p.rules.FindByID(ctx, account.ID, *rec.RuleID); err != nil {
				return nil, err
			}
		}
	} else {
		sel, err := p.selector.Select(ctx, account.ID, email)
		if err != nil {
			return nil, err
		}
		rec, err = p.recordSelection(ctx, account, email, sel)
		if err != nil {
			return nil, err
		}
		if rec.Status != domain.StatusApplying {
			log.Info().Str("status", string(rec.Status)).Str("reason", rec.Reason).Msg("[Processor] Recorded without executing")
			return rec, nil
		}
		rule, items = sel.Rule, sel.ActionItems
	}

	if err := p.apply(ctx, provider, email, rec, rule, items); err != nil {
		return rec, err
	}
	log.Info().Str("rule", rec.RuleName).Str("status", string(rec.Status)).Str("matched_by", string(rec.MatchedBy)).Msg("[Processor] Message processed")
	return rec, nil
}

// recordSelection writes the ledger entry for a fresh evaluation. Results
// of an earlier evaluation are kept so actions that already ran are not
// repeated.
func (p *MessageProcessor) recordSelection(ctx context.Context, account *authdomain.Account, email *emaildomain.Email, sel *ruledomain.Selection) (*domain.ExecutedRule, error) {
	rec := &domain.ExecutedRule{
		AccountID: account.ID,
		ThreadID:  email.ThreadID,
		MessageID: email.ID,
		MatchedBy: sel.MatchedBy,
		Reason:    sel.Reason,
		From:      email.From,
		Subject:   email.Subject,
		Status:    domain.StatusSkipped,
	}
	if sel.Matched() {
		ruleID := sel.Rule.ID
		rec.RuleID = &ruleID
		rec.RuleName = sel.Rule.Name
		rec.Automated = sel.Automated
		if sel.Automated {
			rec.Status = domain.StatusApplying
		} else {
			rec.Status = domain.StatusPending
		}
		if err := rec.SetItems(sel.ActionItems); err != nil {
			return nil, err
		}
	}
	if err := p.ledger.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record selection: %w", err)
	}
	stored, err := p.ledger.FindByID(ctx, account.ID, rec.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("ledger entry %s vanished", rec.ID)
	}
	if stored.Status == domain.StatusPending {
		if err := p.recordPlan(ctx, stored, email, sel.ActionItems); err != nil {
			return nil, err
		}
		if stored, err = p.ledger.FindByID(ctx, account.ID, rec.ID); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// recordPlan stores the suggested actions as planned so the owner can see
// what approving would do. Actions that already ran keep their result.
func (p *MessageProcessor) recordPlan(ctx context.Context, rec *domain.ExecutedRule, email *emaildomain.Email, items []ruledomain.ActionItem) error {
	for i, planned := range items {
		actionID := itemActionID(i, planned)
		if prev := rec.ActionResult(actionID); prev != nil && prev.Status == domain.ActionSucceeded {
			continue
		}
		item := expand(planned, email)
		err := p.ledger.RecordAction(ctx, &domain.ExecutedAction{
			ExecutedRuleID: rec.ID,
			ActionID:       actionID,
			AccountID:      rec.AccountID,
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
			Status:         domain.ActionPlanned,
		})
		if err != nil {
			return fmt.Errorf("failed to record planned action: %w", err)
		}
	}
	return nil
}

// apply executes the plan, stores the final status and learns from a
// fully applied classifier decision.
func (p *MessageProcessor) apply(ctx context.Context, provider emaildomain.MailProvider, email *emaildomain.Email, rec *domain.ExecutedRule, rule *ruledomain.Rule, items []ruledomain.ActionItem) error {
	instructions := ""
	if rule != nil {
		instructions = rule.Instructions
	}
	status, err := p.executor.Execute(ctx, ExecuteInput{
		Provider:     provider,
		Email:        email,
		Record:       rec,
		Instructions: instructions,
		Items:        items,
	})
	if err != nil {
		return err
	}
	if err := p.ledger.UpdateStatus(ctx, rec.ID, status, ""); err != nil {
		return fmt.Errorf("failed to update ledger status: %w", err)
	}
	rec.Status = status

	if status == domain.StatusApplied && rule != nil && rec.MatchedBy != ruledomain.MatchPattern && rec.MatchedBy != ruledomain.MatchStatic {
		if _, err := p.learner.LearnPattern(ctx, rule, email); err != nil {
			logger.Logger.Warn().Err(err).Str("rule", rule.Name).Msg("[Processor] Failed to learn pattern")
		}
	}
	if p.vectors != nil && rec.RuleID != nil {
		if err := p.vectors.Upsert(ctx, rec.AccountID, email.ID, email.Subject, email.Snippet); err != nil {
			logger.Logger.Warn().Err(err).Msg("[Processor] Failed to index email")
		}
	}
	return nil
}

func (p *MessageProcessor) release(lock *queuedomain.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.locks.ReleaseLock(ctx, lock.LockID); err != nil {
		logger.Logger.Warn().Err(err).Str("key", lock.Key).Msg("[Processor] Failed to release lock")
	}
}

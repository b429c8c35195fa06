package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNotPending        = errors.New("execution is not waiting for approval")
)

// History lists ledger entries, newest first.
func (p *MessageProcessor) History(ctx context.Context, accountID, ruleID string, limit, offset int) ([]domain.ExecutedRule, int64, error) {
	return p.ledger.List(ctx, accountID, ruleID, limit, offset)
}

// Approve runs a suggested plan that was waiting for the user. When the
// classifier made the pick and every action succeeds, the sender is
// learned for the rule.
func (p *MessageProcessor) Approve(ctx context.Context, accountID, executionID string) (*domain.ExecutedRule, error) {
	rec, err := p.pending(ctx, accountID, executionID)
	if err != nil {
		return nil, err
	}
	lock, err := p.locks.AcquireLock(ctx, queuedomain.MessageLockKey(accountID, rec.ThreadID, rec.MessageID), p.lockTTL)
	if err != nil {
		return nil, err
	}
	defer p.release(lock)

	// Another approval may have won the lock first.
	if rec, err = p.pending(ctx, accountID, executionID); err != nil {
		return nil, err
	}

	account, err := p.accounts.FindByID(accountID)
	if err != nil || account == nil {
		return nil, fmt.Errorf("account %s unavailable: %v", accountID, err)
	}
	provider, err := p.providers.ForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	email, err := provider.GetMessage(ctx, rec.MessageID)
	if err != nil {
		return nil, err
	}
	if email.ThreadID == "" {
		email.ThreadID = rec.ThreadID
	}
	items, err := rec.Items()
	if err != nil {
		return nil, err
	}
	rule, err := p.rules.FindByID(ctx, accountID, *rec.RuleID)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.UpdateStatus(ctx, rec.ID, domain.StatusApplying, ""); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusApplying
	if err := p.apply(ctx, provider, email, rec, rule, items); err != nil {
		return rec, err
	}
	return p.ledger.FindByID(ctx, accountID, rec.ID)
}

// Reject drops a suggestion without running it.
func (p *MessageProcessor) Reject(ctx context.Context, accountID, executionID string) (*domain.ExecutedRule, error) {
	rec, err := p.pending(ctx, accountID, executionID)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.UpdateStatus(ctx, rec.ID, domain.StatusSkipped, "Rejected by user"); err != nil {
		return nil, err
	}
	return p.ledger.FindByID(ctx, accountID, rec.ID)
}

func (p *MessageProcessor) pending(ctx context.Context, accountID, executionID string) (*domain.ExecutedRule, error) {
	rec, err := p.ledger.FindByID(ctx, accountID, executionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrExecutionNotFound
	}
	if rec.Status != domain.StatusPending || rec.RuleID == nil {
		return nil, ErrNotPending
	}
	return rec, nil
}

// Rerun queues a fresh evaluation of a message, replacing its ledger
// entry with the new result.
func (p *MessageProcessor) Rerun(ctx context.Context, publisher queuedomain.Publisher, accountID, executionID string) error {
	rec, err := p.ledger.FindByID(ctx, accountID, executionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrExecutionNotFound
	}
	return publisher.Publish(ctx, queuedomain.AccountQueue(accountID), 1, queuedomain.URLProcessMessage, ProcessMessageRequest{
		AccountID: accountID,
		MessageID: rec.MessageID,
		ThreadID:  rec.ThreadID,
		Force:     true,
	})
}

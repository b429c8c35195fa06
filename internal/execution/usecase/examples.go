package usecase

import (
	"context"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	ruleusecase "github.com/elie222/inbox-zero-sub019/internal/rule/usecase"
	"github.com/elie222/inbox-zero-sub019/pkg/chroma"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

const maxExamples = 5

// SimilarSearch finds previously indexed emails close to a text.
type SimilarSearch interface {
	Similar(ctx context.Context, accountID, text string, limit int) ([]chroma.Match, error)
}

// LedgerExamples turns similar past emails into classifier hints using
// the rule each one was filed under.
type LedgerExamples struct {
	search SimilarSearch
	ledger repository.LedgerRepository
}

func NewLedgerExamples(search SimilarSearch, ledger repository.LedgerRepository) *LedgerExamples {
	return &LedgerExamples{search: search, ledger: ledger}
}

func (l *LedgerExamples) Examples(ctx context.Context, accountID string, email *emaildomain.Email) []ruleusecase.Example {
	matches, err := l.search.Similar(ctx, accountID, email.Subject+"\n"+email.Snippet, maxExamples+1)
	if err != nil {
		logger.Logger.Debug().Err(err).Msg("[Examples] Similarity search failed")
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.MessageID != email.ID {
			ids = append(ids, m.MessageID)
		}
	}
	recs, err := l.ledger.FindByMessageIDs(ctx, accountID, ids)
	if err != nil {
		logger.Logger.Debug().Err(err).Msg("[Examples] Ledger lookup failed")
		return nil
	}

	var out []ruleusecase.Example
	for _, r := range recs {
		if r.RuleName == "" {
			continue
		}
		out = append(out, ruleusecase.Example{From: r.From, Subject: r.Subject, RuleName: r.RuleName})
		if len(out) == maxExamples {
			break
		}
	}
	return out
}

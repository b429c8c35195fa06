package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) draftAction(t *testing.T, actionID, draftID, content string, aiGenerated bool) {
	require.NoError(t, h.ledger.RecordAction(context.Background(), &domain.ExecutedAction{
		ExecutedRuleID: "exec-" + actionID,
		ActionID:       actionID,
		AccountID:      h.account.ID,
		Type:           ruledomain.ActionDraftEmail,
		Content:        content,
		Status:         domain.ActionSucceeded,
		DraftID:        draftID,
		AIGenerated:    aiGenerated,
	}))
}

func TestDraftCleanup_OnlyDeletesUntouchedDrafts(t *testing.T) {
	h := newHarness(t)
	h.mailbox.Drafts["d-same"] = &emaildomain.Draft{ID: "d-same", Body: "Thanks,\r\nI'll take a look.\n"}
	h.mailbox.Drafts["d-edited"] = &emaildomain.Draft{ID: "d-edited", Body: "Thanks, I'll take a look tomorrow."}
	h.mailbox.Drafts["d-manual"] = &emaildomain.Draft{ID: "d-manual", Body: "Thanks, I'll take a look."}
	h.draftAction(t, "a1", "d-same", "Thanks, I'll take a look.", true)
	h.draftAction(t, "a2", "d-edited", "Thanks, I'll take a look.", true)
	h.draftAction(t, "a3", "d-gone", "Thanks, I'll take a look.", true)
	h.draftAction(t, "a4", "d-manual", "Thanks, I'll take a look.", false)

	cleaner := NewDraftCleaner(h.ledger, h.accounts, staticFactory{h.mailbox}, 72*time.Hour, time.Hour)
	later := time.Now().Add(96 * time.Hour)

	res, err := cleaner.Run(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Deleted: 1, Kept: 1, Missing: 1}, res)

	assert.NotContains(t, h.mailbox.Drafts, "d-same")
	assert.Contains(t, h.mailbox.Drafts, "d-edited")
	assert.Contains(t, h.mailbox.Drafts, "d-manual")

	// Consumed drafts are not looked at again; the edited one is.
	res, err = cleaner.Run(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Kept: 1}, res)
	assert.Equal(t, 1, h.mailbox.CallCount("DeleteDraft"))
}

func TestDraftCleanup_IgnoresRecentDrafts(t *testing.T) {
	h := newHarness(t)
	h.mailbox.Drafts["d1"] = &emaildomain.Draft{ID: "d1", Body: "Hello"}
	h.draftAction(t, "a1", "d1", "Hello", true)

	cleaner := NewDraftCleaner(h.ledger, h.accounts, staticFactory{h.mailbox}, 72*time.Hour, time.Hour)
	res, err := cleaner.Run(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{}, res)
	assert.Contains(t, h.mailbox.Drafts, "d1")
}

func TestDraftCleanup_EditedDraftsDoNotBlockTheRest(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < cleanupBatch; i++ {
		id := fmt.Sprintf("d-edited-%d", i)
		h.mailbox.Drafts[id] = &emaildomain.Draft{ID: id, Body: "Edited by hand"}
		h.draftAction(t, fmt.Sprintf("e%d", i), id, "Generated reply", true)
	}
	h.mailbox.Drafts["d-same"] = &emaildomain.Draft{ID: "d-same", Body: "Generated reply"}
	h.draftAction(t, "same", "d-same", "Generated reply", true)

	cleaner := NewDraftCleaner(h.ledger, h.accounts, staticFactory{h.mailbox}, 72*time.Hour, time.Hour)
	later := time.Now().Add(96 * time.Hour)

	var total CleanupResult
	for pass := 0; pass < 2; pass++ {
		res, err := cleaner.Run(context.Background(), later.Add(time.Duration(pass)*time.Minute))
		require.NoError(t, err)
		total.Deleted += res.Deleted
	}
	assert.Equal(t, 1, total.Deleted)
	assert.NotContains(t, h.mailbox.Drafts, "d-same")
	assert.Len(t, h.mailbox.Drafts, cleanupBatch)
}

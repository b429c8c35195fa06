package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	"github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_PartialFailureContainment(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "Bills", Instructions: "bills", Automate: true, Actions: []ruledomain.Action{
		{Type: ruledomain.ActionLabel, Label: "Bills"},
		{Type: ruledomain.ActionArchive},
		{Type: ruledomain.ActionForward, To: "accountant@example.com"},
	}})
	h.mailbox.Fail["ForwardMessage"] = errors.New("550 mailbox unavailable")
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, status)

	assert.Equal(t, []string{"Bills"}, h.mailbox.Labels["m1"])
	assert.True(t, h.mailbox.Archived["m1"])

	got := h.reload(t, rec)
	require.Len(t, got.Actions, 3)
	assert.Equal(t, domain.ActionSucceeded, got.Actions[0].Status)
	assert.Equal(t, domain.ActionSucceeded, got.Actions[1].Status)
	assert.Equal(t, domain.ActionFailed, got.Actions[2].Status)
	assert.Contains(t, got.Actions[2].Error, "550")
}

func TestExecutor_FailedLabelSkipsArchive(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "R", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionLabel, Label: "L"},
		{Type: ruledomain.ActionArchive},
		{Type: ruledomain.ActionMarkRead},
	}})
	h.mailbox.Fail["ApplyLabel"] = errors.New("label quota exceeded")
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, status)
	assert.Equal(t, 0, h.mailbox.CallCount("Archive"))
	assert.Equal(t, 1, h.mailbox.CallCount("MarkRead"))

	got := h.reload(t, rec)
	require.Len(t, got.Actions, 3)
	assert.Equal(t, domain.ActionSkipped, got.Actions[1].Status)
}

func TestExecutor_AllFailedIsError(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "R", Instructions: "x", Actions: []ruledomain.Action{{Type: ruledomain.ActionMarkSpam}}})
	h.mailbox.Fail["MarkSpam"] = errors.New("no junk folder")
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status)
}

func TestExecutor_NotFoundOnIdempotentActionsIsSuccess(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "R", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionLabel, Label: "L"},
		{Type: ruledomain.ActionArchive},
		{Type: ruledomain.ActionMarkRead},
	}})
	h.mailbox.Fail["Archive"] = fmt.Errorf("message gone: %w", emaildomain.ErrNotFound)
	h.mailbox.Fail["MarkRead"] = emaildomain.ErrNotFound
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, status)

	got := h.reload(t, rec)
	require.Len(t, got.Actions, 3)
	for _, a := range got.Actions {
		assert.Equal(t, domain.ActionSucceeded, a.Status, string(a.Type))
		assert.Empty(t, a.Error)
	}
}

func TestExecutor_NotFoundOnForwardStillFails(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "R", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionForward, To: "a@example.com"},
	}})
	h.mailbox.Fail["ForwardMessage"] = emaildomain.ErrNotFound
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status)
}

func TestExecutor_TransientErrorResumesWithoutRepeating(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "R", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionLabel, Label: "L"},
		{Type: ruledomain.ActionArchive},
	}})
	h.mailbox.Fail["Archive"] = emaildomain.ErrTransient
	rec := h.record(t, email, rule)

	_, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.ErrorIs(t, err, emaildomain.ErrTransient)

	delete(h.mailbox.Fail, "Archive")
	rec = h.reload(t, rec)
	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, status)
	assert.Equal(t, 1, h.mailbox.CallCount("ApplyLabel"))
	assert.Equal(t, 2, h.mailbox.CallCount("Archive"))

	got := h.reload(t, rec)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, domain.ActionSucceeded, got.Actions[1].Status)
	assert.Empty(t, got.Actions[1].Error)
}

func TestExecutor_DraftUsesDrafterAndTemplates(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "Reply", Instructions: "questions", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionDraftEmail},
		{Type: ruledomain.ActionSendEmail, To: "team@example.com", Subject: "FYI: {{subject}}", Content: "From {{sender_name}}"},
	}})
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, status)
	assert.Equal(t, 1, h.drafter.calls)

	require.Len(t, h.mailbox.Drafts, 1)
	for _, d := range h.mailbox.Drafts {
		assert.Equal(t, "Thanks, I'll get back to you.", d.Body)
		assert.Equal(t, "Re: This week at Company", d.Subject)
		assert.Equal(t, "newsletter@company.com", d.To)
	}
	require.Len(t, h.mailbox.Sent, 1)
	assert.Equal(t, "FYI: This week at Company", h.mailbox.Sent[0].Subject)
	assert.Equal(t, "From Company News", h.mailbox.Sent[0].Body)

	got := h.reload(t, rec)
	assert.True(t, got.Actions[0].AIGenerated)
	assert.NotEmpty(t, got.Actions[0].DraftID)
	assert.Equal(t, "Thanks, I'll get back to you.", got.Actions[0].Content)
}

func TestExecutor_WebhookEnvelope(t *testing.T) {
	var got webhookEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "Hook", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionCallWebhook, URL: srv.URL},
	}})
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, status)
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, "t-m1", got.ThreadID)
	assert.Equal(t, rule.ID, got.RuleID)
	assert.Equal(t, "CALL_WEBHOOK", got.ActionType)
	assert.Equal(t, "newsletter@company.com", got.Fields["from"])
}

func TestExecutor_WebhookFailureIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "Hook", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionCallWebhook, URL: srv.URL},
		{Type: ruledomain.ActionArchive},
	}})
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, status)
	assert.True(t, h.mailbox.Archived["m1"])
}

func TestExecutor_DigestAndTrackThread(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	rule := h.rule(t, &ruledomain.Rule{Name: "Later", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionDigest},
		{Type: ruledomain.ActionTrackThread},
	}})
	rec := h.record(t, email, rule)

	status, err := h.executor.Execute(context.Background(), ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, status)

	pending, err := h.digests.PendingItems(context.Background(), h.account.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Later", pending[0].RuleName)
	assert.Equal(t, email.Subject, pending[0].Summary)
	assert.Equal(t, rule.Actions[0].ID, pending[0].ActionID)

	var tracked []domain.TrackedThread
	require.NoError(t, h.db.Find(&tracked).Error)
	require.Len(t, tracked, 1)
	assert.Equal(t, "t-m1", tracked[0].ThreadID)
}

func TestExecutor_DigestItemsAreKeyedByAction(t *testing.T) {
	email := newsletterEmail("m1")
	h := newHarness(t, email)
	ctx := context.Background()
	reading := h.rule(t, &ruledomain.Rule{Name: "Reading", Instructions: "x", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionDigest},
	}})
	weekly := h.rule(t, &ruledomain.Rule{Name: "Weekly", Instructions: "y", Actions: []ruledomain.Action{
		{Type: ruledomain.ActionDigest},
	}})

	for _, rule := range []*ruledomain.Rule{reading, weekly, reading} {
		rec := h.record(t, email, rule)
		_, err := h.executor.Execute(ctx, ExecuteInput{Provider: h.mailbox, Email: email, Record: rec, Items: items(rule)})
		require.NoError(t, err)
	}

	pending, err := h.digests.PendingItems(ctx, h.account.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	got := []string{pending[0].ActionID, pending[1].ActionID}
	assert.ElementsMatch(t, []string{reading.Actions[0].ID, weekly.Actions[0].ID}, got)
}

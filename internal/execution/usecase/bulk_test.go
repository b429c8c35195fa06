package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	queue       string
	parallelism int
	url         string
	body        interface{}
	opts        queuedomain.PublishOptions
}

type recordingPublisher struct {
	calls []publishCall
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, parallelism int, url string, body interface{}, opts ...queuedomain.PublishOption) error {
	if p.err != nil {
		return p.err
	}
	var o queuedomain.PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	p.calls = append(p.calls, publishCall{queue: queue, parallelism: parallelism, url: url, body: body, opts: o})
	return nil
}

func bulkTask(t *testing.T, req BulkRequest) *queuedomain.Task {
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &queuedomain.Task{JobID: "job", Body: body}
}

func TestBulk_SubmitValidates(t *testing.T) {
	h := newHarness(t)
	pub := &recordingPublisher{}
	runner := NewBulkRunner(h.accounts, staticFactory{h.mailbox}, pub)

	err := runner.Submit(context.Background(), BulkRequest{AccountID: h.account.ID, Operation: "delete"})
	assert.ErrorIs(t, err, ErrInvalidBulk)

	require.NoError(t, runner.Submit(context.Background(), BulkRequest{AccountID: h.account.ID, Operation: BulkProcess, Days: 3}))
	require.Len(t, pub.calls, 1)
	assert.Equal(t, queuedomain.BulkQueue(h.account.ID), pub.calls[0].queue)
	assert.Equal(t, queuedomain.URLBulk, pub.calls[0].url)
}

func TestBulk_ProcessQueuesReceivedMessages(t *testing.T) {
	h := newHarness(t)
	h.mailbox.Changes = []emaildomain.Change{
		{MessageID: "m1", ThreadID: "t1"},
		{MessageID: "m2", ThreadID: "t2", IsSent: true},
		{MessageID: "m3", ThreadID: "t3"},
	}
	pub := &recordingPublisher{}
	runner := NewBulkRunner(h.accounts, staticFactory{h.mailbox}, pub)

	require.NoError(t, runner.Handle(context.Background(), bulkTask(t, BulkRequest{AccountID: h.account.ID, Operation: BulkProcess})))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, queuedomain.URLProcessMessage, pub.calls[0].url)
	assert.Equal(t, 1, pub.calls[0].parallelism)
	assert.Equal(t, "process:"+h.account.ID+":m1", pub.calls[0].opts.DedupeKey)
	assert.Equal(t, "m3", pub.calls[1].body.(ProcessMessageRequest).MessageID)
}

func TestBulk_ArchiveToleratesPermanentFailures(t *testing.T) {
	h := newHarness(t, newsletterEmail("m1"), newsletterEmail("m2"))
	runner := NewBulkRunner(h.accounts, staticFactory{h.mailbox}, &recordingPublisher{})

	task := bulkTask(t, BulkRequest{AccountID: h.account.ID, Operation: BulkArchive, MessageIDs: []string{"m1", "m2"}})
	require.NoError(t, runner.Handle(context.Background(), task))
	assert.True(t, h.mailbox.Archived["m1"])
	assert.True(t, h.mailbox.Archived["m2"])

	h.mailbox.Fail["Archive"] = errors.New("permission denied")
	assert.NoError(t, runner.Handle(context.Background(), task))

	h.mailbox.Fail["Archive"] = emaildomain.ErrTransient
	assert.ErrorIs(t, runner.Handle(context.Background(), task), emaildomain.ErrTransient)
}

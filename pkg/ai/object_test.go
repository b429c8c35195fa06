package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	name  string
	out   string
	err   error
	delay time.Duration
	calls int
	last  Prompt
}

func (f *fakeCompleter) Name() string { return f.name }

func (f *fakeCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	f.calls++
	f.last = p
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

type choice struct {
	RuleID string `json:"rule_id" validate:"required"`
	Reason string `json:"reason"`
}

func TestGenerateObject_OK(t *testing.T) {
	c := &fakeCompleter{name: "fake", out: "```json\n{\"rule_id\":\"r1\",\"reason\":\"newsletter\"}\n```"}
	res := GenerateObject[choice](context.Background(), c, Request{System: "sys", Prompt: "p", Schema: `{"rule_id": string}`})

	require.True(t, res.OK(), res.Err)
	assert.Equal(t, "r1", res.Value.RuleID)
	assert.True(t, c.last.JSON)
	assert.Contains(t, c.last.System, `{"rule_id": string}`)
}

func TestGenerateObject_SchemaInvalid(t *testing.T) {
	for _, out := range []string{"not json at all", `{"reason":"missing id"}`, `{"rule_id": 12}`} {
		c := &fakeCompleter{name: "fake", out: out}
		res := GenerateObject[choice](context.Background(), c, Request{Prompt: "p"})
		assert.Equal(t, KindSchemaInvalid, res.Kind, out)
		assert.Error(t, res.Err)
		assert.Equal(t, out, res.Raw)
	}
}

func TestGenerateObject_UpstreamError(t *testing.T) {
	c := &fakeCompleter{name: "fake", err: errors.New("503 service unavailable")}
	res := GenerateObject[choice](context.Background(), c, Request{Prompt: "p"})
	assert.Equal(t, KindUpstreamError, res.Kind)

	res = GenerateObject[choice](context.Background(), nil, Request{Prompt: "p"})
	assert.Equal(t, KindUpstreamError, res.Kind)
}

func TestGenerateObject_Timeout(t *testing.T) {
	c := &fakeCompleter{name: "slow", out: `{"rule_id":"r1"}`, delay: time.Second}
	res := GenerateObject[choice](context.Background(), c, Request{Prompt: "p", Timeout: 20 * time.Millisecond})
	assert.Equal(t, KindUpstreamError, res.Kind)
	assert.ErrorIs(t, res.Err, ErrTimeout)
}

func TestFallbackCompleter(t *testing.T) {
	first := &fakeCompleter{name: "a", err: errors.New("429 too many requests")}
	second := &fakeCompleter{name: "b", out: "ok"}
	f := NewFallbackCompleter(first, second)

	out, err := f.Complete(context.Background(), Prompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, "fallback(a,b)", f.Name())

	failing := NewFallbackCompleter(&fakeCompleter{name: "a", err: errors.New("dial tcp: connection refused")})
	_, err = failing.Complete(context.Background(), Prompt{})
	assert.Error(t, err)
}

func TestErrorHeuristics(t *testing.T) {
	assert.True(t, isQuotaError(errors.New("RESOURCE_EXHAUSTED: quota")))
	assert.False(t, isQuotaError(errors.New("bad request")))
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:11434: connection refused")))
	assert.False(t, isConnectionError(nil))
}

func TestSummarizer(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{name: "fake", out: `{"summary":"Weekly product news."}`})
	assert.Equal(t, "Weekly product news.", s.Summarize(context.Background(), "a@b.com", "News #12", "body"))

	broken := NewSummarizer(&fakeCompleter{name: "fake", err: errors.New("boom")})
	assert.Equal(t, "News #12", broken.Summarize(context.Background(), "a@b.com", "News #12", "body"))

	var none *Summarizer
	assert.Equal(t, "News #12", none.Summarize(context.Background(), "a@b.com", "News #12", "body"))
}

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(Config{Provider: ProviderAuto})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Name())

	c, err = NewCompleter(Config{Provider: ProviderAuto, GeminiAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "fallback(gemini,ollama)", c.Name())

	_, err = NewCompleter(Config{Provider: ProviderGemini})
	assert.Error(t, err)
	_, err = NewCompleter(Config{Provider: "claude"})
	assert.Error(t, err)
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrTimeout marks an upstream call that ran out of time.
var ErrTimeout = errors.New("ai request timed out")

// ResultKind discriminates the outcome of a structured generation.
type ResultKind int

const (
	KindOK ResultKind = iota
	KindSchemaInvalid
	KindUpstreamError
)

func (k ResultKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindSchemaInvalid:
		return "schema_invalid"
	case KindUpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// Result is what GenerateObject returns instead of an error. Value is
// only meaningful when Kind is KindOK.
type Result[T any] struct {
	Kind  ResultKind
	Value T
	Err   error
	Raw   string
}

func (r Result[T]) OK() bool { return r.Kind == KindOK }

// Request describes one structured generation. Schema is a human-readable
// description of the expected JSON shape and is appended to the system
// prompt; the Go type T and its validate tags are the enforced contract.
type Request struct {
	System      string
	Prompt      string
	Schema      string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
}

const defaultTimeout = 60 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerateObject asks the completer for JSON, decodes it into T and
// validates it. Transport failures and timeouts come back as
// KindUpstreamError, undecodable or invalid output as KindSchemaInvalid.
func GenerateObject[T any](ctx context.Context, c Completer, req Request) Result[T] {
	if c == nil {
		return Result[T]{Kind: KindUpstreamError, Err: errors.New("no AI provider configured")}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system := req.System
	if req.Schema != "" {
		system += "\n\nRespond with a single JSON object only, no prose, matching this schema:\n" + req.Schema
	}

	raw, err := c.Complete(callCtx, Prompt{
		System:      system,
		User:        req.Prompt,
		JSON:        true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result[T]{Kind: KindUpstreamError, Err: err}
	}

	var value T
	if err := json.Unmarshal([]byte(extractJSON(raw)), &value); err != nil {
		return Result[T]{Kind: KindSchemaInvalid, Err: fmt.Errorf("unable to decode model output: %w", err), Raw: raw}
	}
	if isStruct(value) {
		if err := validate.Struct(value); err != nil {
			return Result[T]{Kind: KindSchemaInvalid, Err: fmt.Errorf("model output failed validation: %w", err), Raw: raw}
		}
	}
	return Result[T]{Kind: KindOK, Value: value, Raw: raw}
}

// extractJSON strips markdown fences and any text around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

func isStruct(v interface{}) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

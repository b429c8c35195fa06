package gmail

import (
	"errors"
	"fmt"
	"testing"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"github.com/stretchr/testify/assert"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	notFound := fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 404})
	assert.True(t, errors.Is(classify(notFound), emaildomain.ErrNotFound))
	assert.True(t, isNotFound(notFound))

	assert.True(t, errors.Is(classify(&googleapi.Error{Code: 429}), emaildomain.ErrTransient))
	assert.True(t, errors.Is(classify(&googleapi.Error{Code: 503}), emaildomain.ErrTransient))

	rate := &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}
	assert.True(t, errors.Is(classify(rate), emaildomain.ErrTransient))

	forbidden := &googleapi.Error{Code: 403}
	assert.False(t, errors.Is(classify(forbidden), emaildomain.ErrTransient))
	assert.Nil(t, classify(nil))
}

func TestChangeFromMessage(t *testing.T) {
	_, ok := changeFromMessage(&gmailapi.Message{Id: "d1", LabelIds: []string{"DRAFT"}})
	assert.False(t, ok)

	c, ok := changeFromMessage(&gmailapi.Message{Id: "m1", ThreadId: "t1", LabelIds: []string{"SENT"}})
	assert.True(t, ok)
	assert.Equal(t, "m1", c.MessageID)
	assert.Equal(t, "t1", c.ThreadID)
	assert.True(t, c.IsSent)
}

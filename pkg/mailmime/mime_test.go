package mailmime

import (
	"bytes"
	"strings"
	"testing"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeThenParse(t *testing.T) {
	original := &emaildomain.Email{MessageID: "<orig@example.com>", References: "<root@example.com>"}
	raw, id, err := Compose(&emaildomain.OutgoingMessage{
		FromName: "Me",
		From:     "me@example.com",
		To:       []string{"Anna <anna@example.com>"},
		Subject:  "Re: Lunch",
		Body:     "<p>Sounds good</p>",
		IsHTML:   true,
		ReplyTo:  original,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	parsed, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Re: Lunch", parsed.Subject)
	assert.Equal(t, "me@example.com", parsed.From)
	assert.Equal(t, []string{"anna@example.com"}, parsed.To)
	assert.Equal(t, id, parsed.MessageID)
	assert.Contains(t, parsed.References, "<orig@example.com>")
	assert.True(t, parsed.IsHTML)
	assert.Equal(t, "Sounds good", parsed.Snippet)
}

func TestThreadKey(t *testing.T) {
	assert.Equal(t, "<root@x>", ThreadKey("<c@x>", "<b@x>", "<root@x> <b@x>"))
	assert.Equal(t, "<b@x>", ThreadKey("<c@x>", "<b@x>", ""))
	assert.Equal(t, "<c@x>", ThreadKey("<c@x>", "", ""))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "Hello & welcome", Snippet("<div>Hello &amp;   welcome</div>", true))
	long := strings.Repeat("a", 250)
	assert.Len(t, Snippet(long, false), 203)
}

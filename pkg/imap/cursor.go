package imap

import (
	"fmt"
	"strconv"
	"strings"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
)

// cursor is the IMAP equivalent of a history id: the INBOX UIDVALIDITY
// and the highest UID already reported.
type cursor struct {
	validity uint32
	lastUID  uint32
}

func (c cursor) String() string {
	return fmt.Sprintf("%d:%d", c.validity, c.lastUID)
}

func parseCursor(s string) (cursor, error) {
	validity, last, ok := strings.Cut(s, ":")
	if !ok {
		return cursor{}, emaildomain.ErrCursorExpired
	}
	v, err := strconv.ParseUint(validity, 10, 32)
	if err != nil || v == 0 {
		return cursor{}, emaildomain.ErrCursorExpired
	}
	u, err := strconv.ParseUint(last, 10, 32)
	if err != nil {
		return cursor{}, emaildomain.ErrCursorExpired
	}
	return cursor{validity: uint32(v), lastUID: uint32(u)}, nil
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", emaildomain.ErrNotFound, id)
	}
	return uint32(uid), nil
}

// keyword turns a free-form label into an IMAP keyword atom.
func keyword(label string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(label) {
		switch {
		case r == ' ' || r == '/':
			b.WriteByte('_')
		case r <= 0x20 || r >= 0x7f:
		case strings.ContainsRune(`(){%*"\]`, r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

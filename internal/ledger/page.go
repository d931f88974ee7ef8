package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

// PageRequest selects a page of messages older than Before.
type PageRequest struct {
	Limit  int
	Before *PageCursor
}

// Page is a run of messages, oldest first. Next positions the following
// (older) page and is nil when HasMore is false.
type Page struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Next     *PageCursor      `json:"next,omitempty"`
}

// PageCursor identifies the oldest message of a page.
type PageCursor struct {
	CreatedAt models.Timestamp
	ID        string
}

func cursorOf(m models.Message) *PageCursor {
	return &PageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

func (c PageCursor) storeCursor() *store.Cursor {
	var v any = c.CreatedAt.Time()
	if c.CreatedAt.IsPending() {
		v = store.PendingTimestamp
	}
	return &store.Cursor{Value: v, ID: c.ID}
}

// String encodes the cursor as an opaque token: "<unix nanos>.<id>", or
// "p.<id>" for a pending timestamp.
func (c PageCursor) String() string {
	if c.CreatedAt.IsPending() {
		return "p." + c.ID
	}
	return strconv.FormatInt(c.CreatedAt.Time().UnixNano(), 10) + "." + c.ID
}

func (c PageCursor) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *PageCursor) UnmarshalText(b []byte) error {
	parsed, err := ParsePageCursor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParsePageCursor decodes a token produced by PageCursor.String.
func ParsePageCursor(token string) (PageCursor, error) {
	at, id, ok := strings.Cut(token, ".")
	if !ok || id == "" {
		return PageCursor{}, resilience.InvalidArgument("ledger.cursor", "malformed page cursor %q", token)
	}
	if at == "p" {
		return PageCursor{CreatedAt: models.Pending(), ID: id}, nil
	}
	nanos, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return PageCursor{}, resilience.InvalidArgument("ledger.cursor", "malformed page cursor %q", token)
	}
	return PageCursor{CreatedAt: models.At(time.Unix(0, nanos).UTC()), ID: id}, nil
}

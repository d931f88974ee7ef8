package models

import (
	"encoding/json"
	"time"
)

// Timestamp is either Pending (written locally, not yet stamped by the
// store's clock) or Committed at an instant. Pending orders after every
// committed instant so an optimistic local echo sorts as newest.
type Timestamp struct {
	at      time.Time
	pending bool
}

// Pending returns the unresolved server timestamp.
func Pending() Timestamp { return Timestamp{pending: true} }

// At returns a committed timestamp.
func At(t time.Time) Timestamp { return Timestamp{at: t} }

func (t Timestamp) IsPending() bool { return t.pending }

// IsZero reports a committed timestamp at the zero instant, which is how a
// missing value (e.g. an absent read cursor) is represented.
func (t Timestamp) IsZero() bool { return !t.pending && t.at.IsZero() }

// Time returns the committed instant; the zero time for Pending.
func (t Timestamp) Time() time.Time { return t.at }

// Compare returns -1, 0 or +1. Two pending values are equal.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.pending && o.pending:
		return 0
	case t.pending:
		return 1
	case o.pending:
		return -1
	}
	return t.at.Compare(o.at)
}

func (t Timestamp) After(o Timestamp) bool  { return t.Compare(o) > 0 }
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

// Resolve substitutes now for a pending value.
func (t Timestamp) Resolve(now time.Time) time.Time {
	if t.pending {
		return now
	}
	return t.at
}

// MarshalJSON encodes Pending as null and committed values as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.pending {
		return []byte("null"), nil
	}
	return json.Marshal(t.at.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Pending()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = At(at)
	return nil
}

// Package identity carries the authenticated user id through a request
// context. Authentication itself lives in the HTTP middleware.
package identity

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

// Provider supplies the current user id, or "" when there is none.
type Provider interface {
	CurrentUserID(ctx context.Context) string
}

type ctxKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext returns the user id stored by WithUserID.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ContextProvider reads the user id from the context.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) string { return FromContext(ctx) }

// Static always returns the same id. Used by tests and tooling.
type Static string

func (s Static) CurrentUserID(context.Context) string { return string(s) }

const maxIDLength = 128

// Validate returns an InvalidArgument error for an empty or malformed id.
// Ids are also path segments, so they may not contain '/'.
func Validate(op, userID string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return resilience.InvalidArgument(op, "user id is empty")
	case len(userID) > maxIDLength || !utf8.ValidString(userID):
		return resilience.InvalidArgument(op, "user id is malformed")
	case strings.ContainsAny(userID, "/"):
		return resilience.InvalidArgument(op, "user id %q contains a path separator", userID)
	}
	return nil
}

// Valid reports whether userID passes Validate.
func Valid(userID string) bool { return Validate("", userID) == nil }

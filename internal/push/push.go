// Package push delivers best-effort device notifications.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// Sink delivers one notification to every device of receiverID.
type Sink interface {
	Notify(ctx context.Context, receiverID, title, body string, payload map[string]string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, receiverID, title, body string, payload map[string]string) error

func (f SinkFunc) Notify(ctx context.Context, receiverID, title, body string, payload map[string]string) error {
	return f(ctx, receiverID, title, body, payload)
}

// LogSink only logs. It is the sink for local runs without Firebase.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, receiverID, title, body string, payload map[string]string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "push notification", "receiver", receiverID, "title", title, "body", body, "payload", payload)
	return nil
}

// TokenStore lists and prunes device registration tokens.
type TokenStore interface {
	TokensFor(ctx context.Context, userID string) ([]string, error)
	DeleteTokens(ctx context.Context, tokens []string) error
}

// Messenger is satisfied by the Firebase messaging client.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// multicastLimit is the most tokens FCM accepts per multicast.
const multicastLimit = 500

// FCMSink sends through Firebase Cloud Messaging and deletes tokens FCM
// reports as no longer registered.
type FCMSink struct {
	messenger Messenger
	tokens    TokenStore
	logger    *slog.Logger
}

func NewFCMSink(messenger Messenger, tokens TokenStore, logger *slog.Logger) *FCMSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMSink{messenger: messenger, tokens: tokens, logger: logger.With("component", "push")}
}

func (s *FCMSink) Notify(ctx context.Context, receiverID, title, body string, payload map[string]string) error {
	tokens, err := s.tokens.TokensFor(ctx, receiverID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens of %s: %w", receiverID, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	var stale []string
	failures := 0
	for start := 0; start < len(tokens); start += multicastLimit {
		batch := tokens[start:min(start+multicastLimit, len(tokens))]
		resp, err := s.messenger.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         payload,
		})
		if err != nil {
			return fmt.Errorf("failed to send push to %s: %w", receiverID, err)
		}
		for i, r := range resp.Responses {
			if r.Success {
				continue
			}
			if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
				stale = append(stale, batch[i])
				continue
			}
			failures++
		}
	}

	if len(stale) > 0 {
		if err := s.tokens.DeleteTokens(ctx, stale); err != nil {
			s.logger.WarnContext(ctx, "failed to prune device tokens", "receiver", receiverID, "count", len(stale), "error", err)
		}
	}
	if failures > 0 && failures+len(stale) == len(tokens) {
		return fmt.Errorf("push to %s failed on all %d devices", receiverID, len(tokens))
	}
	return nil
}

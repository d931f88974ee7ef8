package push

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	tokens  []string
	deleted []string
}

func (f *fakeTokens) TokensFor(ctx context.Context, userID string) ([]string, error) {
	return f.tokens, nil
}

func (f *fakeTokens) DeleteTokens(ctx context.Context, tokens []string) error {
	f.deleted = append(f.deleted, tokens...)
	return nil
}

type fakeMessenger struct {
	sent    []*messaging.MulticastMessage
	respond func(token string) *messaging.SendResponse
}

func (f *fakeMessenger) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	out := &messaging.BatchResponse{}
	for _, tok := range m.Tokens {
		r := f.respond(tok)
		if r.Success {
			out.SuccessCount++
		} else {
			out.FailureCount++
		}
		out.Responses = append(out.Responses, r)
	}
	return out, nil
}

func TestFCMSinkNoTokens(t *testing.T) {
	m := &fakeMessenger{}
	s := NewFCMSink(m, &fakeTokens{}, nil)
	require.NoError(t, s.Notify(context.Background(), "bob", "t", "b", nil))
	assert.Empty(t, m.sent)
}

func TestFCMSinkSendsToAllDevices(t *testing.T) {
	m := &fakeMessenger{respond: func(string) *messaging.SendResponse {
		return &messaging.SendResponse{Success: true, MessageID: "id"}
	}}
	tokens := &fakeTokens{tokens: []string{"t1", "t2"}}
	s := NewFCMSink(m, tokens, nil)

	err := s.Notify(context.Background(), "bob", "New like", "alice liked your post", map[string]string{"type": "like"})
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, []string{"t1", "t2"}, m.sent[0].Tokens)
	assert.Equal(t, "New like", m.sent[0].Notification.Title)
	assert.Equal(t, "like", m.sent[0].Data["type"])
	assert.Empty(t, tokens.deleted)
}

func TestFCMSinkAllFailed(t *testing.T) {
	m := &fakeMessenger{respond: func(string) *messaging.SendResponse {
		return &messaging.SendResponse{Error: errors.New("internal")}
	}}
	s := NewFCMSink(m, &fakeTokens{tokens: []string{"t1"}}, nil)
	assert.Error(t, s.Notify(context.Background(), "bob", "t", "b", nil))
}

func TestSinkFunc(t *testing.T) {
	var got string
	var s Sink = SinkFunc(func(ctx context.Context, receiverID, title, body string, payload map[string]string) error {
		got = receiverID + ":" + title
		return nil
	})
	require.NoError(t, s.Notify(context.Background(), "bob", "hi", "", nil))
	assert.Equal(t, "bob:hi", got)
	assert.NoError(t, LogSink{}.Notify(context.Background(), "bob", "hi", "there", nil))
}

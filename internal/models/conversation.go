package models

import (
	"slices"
	"sort"
	"strings"
)

// Conversation is the denormalized conversation document. LastSenderID is
// authoritative for read state.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"is_group"`
	Name          string    `json:"name,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt Timestamp `json:"last_message_at"`
	LastSenderID  string    `json:"last_sender_id"`
	CreatedAt     Timestamp `json:"created_at"`
	UpdatedAt     Timestamp `json:"updated_at"`
}

// HasParticipant reports whether userID is in the participant set.
func (c Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// ConversationMeta is the caller-supplied metadata for CreateConversation.
type ConversationMeta struct {
	Name      string `json:"name" validate:"omitempty,max=100"`
	IsGroup   bool   `json:"is_group"`
	CreatedBy string `json:"created_by"`
}

// DirectConversationID derives the 1:1 conversation id from an unordered pair.
func DirectConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// ParticipantSet returns the sorted, de-duplicated, non-empty ids.
func ParticipantSet(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// MessageType is the payload discriminator of a Message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageVideo
}

// Message is an append-only entry of a conversation. Only the delivery and
// read fields change after creation, and they never revert.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	From           string      `json:"from"`
	To             []string    `json:"to"`
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	MediaRef       string      `json:"media_ref,omitempty"`
	MediaURL       string      `json:"media_url,omitempty"`
	CreatedAt      Timestamp   `json:"created_at"`
	Delivered      bool        `json:"delivered"`
	DeliveredAt    *Timestamp  `json:"delivered_at,omitempty"`
	DeliveredTo    []string    `json:"delivered_to,omitempty"`
	Read           bool        `json:"read"`
	ReadBy         []string    `json:"read_by,omitempty"`
	ReadAt         *Timestamp  `json:"read_at,omitempty"`
}

// MessageState is the position of a message in its monotonic lifecycle.
type MessageState int

const (
	StatePending MessageState = iota
	StateCommitted
	StateDelivered
	StateRead
)

func (s MessageState) String() string {
	return [...]string{"pending", "committed", "delivered", "read"}[s]
}

// State derives the lifecycle state from the stored flags.
func (m Message) State() MessageState {
	switch {
	case m.Read:
		return StateRead
	case m.Delivered:
		return StateDelivered
	case m.CreatedAt.IsPending():
		return StatePending
	default:
		return StateCommitted
	}
}

// Preview is the conversation list text for the message.
func (m Message) Preview() string {
	switch m.Type {
	case MessageImage:
		return "Photo"
	case MessageVideo:
		return "Video"
	default:
		return m.Text
	}
}

// SortMessagesNewestFirst orders by CreatedAt descending with pending
// messages first; ties break on ID so the order is stable across snapshots.
func SortMessagesNewestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if c := msgs[i].CreatedAt.Compare(msgs[j].CreatedAt); c != 0 {
			return c > 0
		}
		return msgs[i].ID > msgs[j].ID
	})
}

// SortConversationsByActivity orders by UpdatedAt descending.
func SortConversationsByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if c := convs[i].UpdatedAt.Compare(convs[j].UpdatedAt); c != 0 {
			return c > 0
		}
		return convs[i].ID < convs[j].ID
	})
}

// ReadCursor is a user's last-read marker for one conversation.
type ReadCursor struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	LastReadAt     Timestamp `json:"last_read_at"`
}

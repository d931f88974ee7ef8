// Package schema maps the realtime models onto store documents: collection
// paths, field names and codecs in both directions.
package schema

import (
	"time"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

const Conversations = "conversations"

// Messages is the message collection of a conversation.
func Messages(conversationID string) string {
	return Conversations + "/" + conversationID + "/messages"
}

// ReadCursors is the cursor collection of a user, keyed by conversation id.
func ReadCursors(userID string) string {
	return "users/" + userID + "/readCursors"
}

// Notifications is the event collection of a receiver.
func Notifications(receiverID string) string {
	return "users/" + receiverID + "/notifications"
}

// FollowEventID is the deterministic id of the single live follow event
// per actor and receiver.
func FollowEventID(actorID string) string {
	return actorID + ":follow"
}

// Conversation fields.
const (
	FieldParticipants  = "participants"
	FieldLastMessage   = "lastMessage"
	FieldLastMessageAt = "lastMessageAt"
	FieldLastSenderID  = "lastSenderId"
	FieldUpdatedAt     = "updatedAt"
	FieldCreatedAt     = "createdAt"
	FieldIsGroup       = "isGroup"
	FieldName          = "name"
	FieldCreatedBy     = "createdBy"
)

// Message fields.
const (
	FieldConversationID = "conversationId"
	FieldFrom           = "from"
	FieldTo             = "to"
	FieldType           = "type"
	FieldText           = "text"
	FieldMediaRef       = "mediaRef"
	FieldDelivered      = "delivered"
	FieldDeliveredAt    = "deliveredAt"
	FieldDeliveredTo    = "deliveredTo"
	FieldRead           = "read"
	FieldReadBy         = "readBy"
	FieldReadAt         = "readAt"
)

// Cursor fields.
const (
	FieldUserID     = "userId"
	FieldLastReadAt = "lastReadAt"
)

// Notification fields.
const (
	FieldActorID    = "actorId"
	FieldReceiverID = "receiverId"
	FieldTargetID   = "targetId"
	FieldData       = "data"
	FieldExtra      = "extra"
)

// Timestamp decodes a stored time field. Absent values decode to the zero
// committed timestamp.
func Timestamp(v any) models.Timestamp {
	switch t := v.(type) {
	case time.Time:
		return models.At(t)
	case *time.Time:
		if t != nil {
			return models.At(*t)
		}
	}
	if v == store.PendingTimestamp || v == store.ServerTimestamp {
		return models.Pending()
	}
	return models.At(time.Time{})
}

func optionalTimestamp(v any) *models.Timestamp {
	if v == nil {
		return nil
	}
	ts := Timestamp(v)
	return &ts
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		return append([]string(nil), arr...)
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func object(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case store.Fields:
		return m
	}
	return nil
}

// DecodeConversation builds a Conversation from its document.
func DecodeConversation(doc store.Document) models.Conversation {
	f := doc.Fields
	return models.Conversation{
		ID:            doc.ID,
		Participants:  stringSlice(f[FieldParticipants]),
		IsGroup:       boolean(f[FieldIsGroup]),
		Name:          str(f[FieldName]),
		CreatedBy:     str(f[FieldCreatedBy]),
		LastMessage:   str(f[FieldLastMessage]),
		LastMessageAt: Timestamp(f[FieldLastMessageAt]),
		LastSenderID:  str(f[FieldLastSenderID]),
		CreatedAt:     Timestamp(f[FieldCreatedAt]),
		UpdatedAt:     Timestamp(f[FieldUpdatedAt]),
	}
}

// DecodeMessage builds a Message from its document. A snapshot with
// pending writes and no createdAt yet is a local echo and decodes as
// pending.
func DecodeMessage(doc store.Document) models.Message {
	f := doc.Fields
	created := Timestamp(f[FieldCreatedAt])
	if _, ok := f[FieldCreatedAt]; !ok && doc.HasPendingWrites {
		created = models.Pending()
	}
	return models.Message{
		ID:             doc.ID,
		ConversationID: str(f[FieldConversationID]),
		From:           str(f[FieldFrom]),
		To:             stringSlice(f[FieldTo]),
		Type:           models.MessageType(str(f[FieldType])),
		Text:           str(f[FieldText]),
		MediaRef:       str(f[FieldMediaRef]),
		CreatedAt:      created,
		Delivered:      boolean(f[FieldDelivered]),
		DeliveredAt:    optionalTimestamp(f[FieldDeliveredAt]),
		DeliveredTo:    stringSlice(f[FieldDeliveredTo]),
		Read:           boolean(f[FieldRead]),
		ReadBy:         stringSlice(f[FieldReadBy]),
		ReadAt:         optionalTimestamp(f[FieldReadAt]),
	}
}

// DecodeCursor builds a ReadCursor from its document.
func DecodeCursor(userID string, doc store.Document) models.ReadCursor {
	return models.ReadCursor{
		UserID:         userID,
		ConversationID: doc.ID,
		LastReadAt:     Timestamp(doc.Fields[FieldLastReadAt]),
	}
}

// EncodeMessage returns the fields written when a message is appended.
// createdAt is always assigned by the store.
func EncodeMessage(m models.Message) store.Fields {
	f := store.Fields{
		FieldConversationID: m.ConversationID,
		FieldFrom:           m.From,
		FieldTo:             m.To,
		FieldType:           string(m.Type),
		FieldCreatedAt:      store.ServerTimestamp,
		FieldDelivered:      false,
		FieldRead:           false,
	}
	if m.Type == models.MessageText {
		f[FieldText] = m.Text
	} else {
		f[FieldMediaRef] = m.MediaRef
	}
	return f
}

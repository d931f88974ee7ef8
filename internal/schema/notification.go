package schema

import (
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

// Payload keys inside the data field.
const (
	dataPostID     = "postId"
	dataCommentID  = "commentId"
	dataText       = "text"
	dataPreviewRef = "previewRef"
	dataStoryID    = "storyId"
	dataReaction   = "reaction"
)

// EncodeEvent returns the fields of a notification event. createdAt is
// assigned by the store and read is reset to false, so an upsert over an
// existing follow event refreshes it.
func EncodeEvent(e models.NotificationEvent) store.Fields {
	f := store.Fields{
		FieldType:       string(e.Type),
		FieldActorID:    e.ActorID,
		FieldReceiverID: e.ReceiverID,
		FieldTargetID:   e.TargetID,
		FieldCreatedAt:  store.ServerTimestamp,
		FieldRead:       false,
	}
	if data := encodePayload(e.Payload); len(data) > 0 {
		f[FieldData] = data
	}
	if len(e.Extra) > 0 {
		f[FieldExtra] = e.Extra
	}
	return f
}

func encodePayload(p models.Payload) map[string]any {
	data := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	switch p := p.(type) {
	case models.LikePayload:
		put(dataPostID, p.PostID)
		put(dataPreviewRef, p.PreviewRef)
	case models.CommentPayload:
		put(dataPostID, p.PostID)
		put(dataCommentID, p.CommentID)
		put(dataText, p.Text)
		put(dataPreviewRef, p.PreviewRef)
	case models.MentionPayload:
		put(dataPostID, p.PostID)
		put(dataCommentID, p.CommentID)
		put(dataText, p.Text)
	case models.StoryReactionPayload:
		put(dataStoryID, p.StoryID)
		put(dataReaction, p.Reaction)
	}
	return data
}

// DecodeEvent builds a NotificationEvent from its document. Unknown types
// keep their data in Extra.
func DecodeEvent(doc store.Document) models.NotificationEvent {
	f := doc.Fields
	e := models.NotificationEvent{
		ID:         doc.ID,
		Type:       models.EventType(str(f[FieldType])),
		ActorID:    str(f[FieldActorID]),
		ReceiverID: str(f[FieldReceiverID]),
		TargetID:   str(f[FieldTargetID]),
		CreatedAt:  Timestamp(f[FieldCreatedAt]),
		Read:       boolean(f[FieldRead]),
		Extra:      object(f[FieldExtra]),
	}
	data := object(f[FieldData])
	get := func(k string) string { return str(data[k]) }

	switch e.Type {
	case models.EventLike:
		e.Payload = models.LikePayload{PostID: get(dataPostID), PreviewRef: get(dataPreviewRef)}
	case models.EventComment:
		e.Payload = models.CommentPayload{
			PostID:     get(dataPostID),
			CommentID:  get(dataCommentID),
			Text:       get(dataText),
			PreviewRef: get(dataPreviewRef),
		}
	case models.EventFollow:
		e.Payload = models.FollowPayload{}
	case models.EventMention:
		e.Payload = models.MentionPayload{PostID: get(dataPostID), CommentID: get(dataCommentID), Text: get(dataText)}
	case models.EventStoryReaction:
		e.Payload = models.StoryReactionPayload{StoryID: get(dataStoryID), Reaction: get(dataReaction)}
	default:
		if len(data) > 0 {
			if e.Extra == nil {
				e.Extra = map[string]any{}
			}
			for k, v := range data {
				if _, ok := e.Extra[k]; !ok {
					e.Extra[k] = v
				}
			}
		}
	}
	return e
}

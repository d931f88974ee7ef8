package models

// EventType discriminates notification events and their payloads.
type EventType string

const (
	EventLike          EventType = "like"
	EventComment       EventType = "comment"
	EventFollow        EventType = "follow"
	EventMention       EventType = "mention"
	EventStoryReaction EventType = "story_reaction"

	// Message events have their own unread channel and are never surfaced
	// by the aggregator.
	EventMessage EventType = "message"
	EventChat    EventType = "chat"
)

// IsMessage reports whether the type belongs to the chat channel.
func (t EventType) IsMessage() bool { return t == EventMessage || t == EventChat }

// Aggregates reports whether events of this type group per target.
func (t EventType) Aggregates() bool { return t == EventLike || t == EventComment }

// Payload is the type-specific body of a NotificationEvent.
type Payload interface {
	EventType() EventType
}

type LikePayload struct {
	PostID     string `json:"post_id"`
	PreviewRef string `json:"preview_ref,omitempty"`
}

func (LikePayload) EventType() EventType { return EventLike }

type CommentPayload struct {
	PostID     string `json:"post_id"`
	CommentID  string `json:"comment_id"`
	Text       string `json:"text"`
	PreviewRef string `json:"preview_ref,omitempty"`
}

func (CommentPayload) EventType() EventType { return EventComment }

type FollowPayload struct{}

func (FollowPayload) EventType() EventType { return EventFollow }

type MentionPayload struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id,omitempty"`
	Text      string `json:"text"`
}

func (MentionPayload) EventType() EventType { return EventMention }

type StoryReactionPayload struct {
	StoryID  string `json:"story_id"`
	Reaction string `json:"reaction"`
}

func (StoryReactionPayload) EventType() EventType { return EventStoryReaction }

// NotificationEvent is one atomic interaction addressed to ReceiverID.
// Extra carries type-specific fields the typed payloads do not model.
type NotificationEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ActorID    string         `json:"actor_id"`
	ReceiverID string         `json:"receiver_id"`
	TargetID   string         `json:"target_id,omitempty"`
	CreatedAt  Timestamp      `json:"created_at"`
	Read       bool           `json:"read"`
	Payload    Payload        `json:"payload,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// PreviewRef returns the media reference to show next to the event, if any.
func (e NotificationEvent) PreviewRef() string {
	switch p := e.Payload.(type) {
	case LikePayload:
		return p.PreviewRef
	case CommentPayload:
		return p.PreviewRef
	}
	return ""
}

// AggregatedNotification is a derived feed row backed by one or more events.
// Preview fields come from Latest, the newest member.
type AggregatedNotification struct {
	GroupKey       string            `json:"group_key"`
	Type           EventType         `json:"type"`
	TargetID       string            `json:"target_id,omitempty"`
	Count          int               `json:"count"`
	Actors         []string          `json:"actors"`
	SourceEventIDs []string          `json:"source_event_ids"`
	Timestamp      Timestamp         `json:"timestamp"`
	Read           bool              `json:"read"`
	Latest         NotificationEvent `json:"latest"`
	PreviewURL     string            `json:"preview_url,omitempty"`
}

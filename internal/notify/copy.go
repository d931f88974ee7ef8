package notify

import (
	"github.com/anonto42/nano-midea/realtime/internal/models"
)

const maxBodyText = 100

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxBodyText {
		return s
	}
	return string(r[:maxBodyText-1]) + "…"
}

// Copy builds the push title and body for e. An empty actor name reads as
// "Someone".
func Copy(e models.NotificationEvent, actorName string) (title, body string) {
	if actorName == "" {
		actorName = "Someone"
	}
	switch p := e.Payload.(type) {
	case models.CommentPayload:
		return "New comment", actorName + " commented: " + truncate(p.Text)
	case models.MentionPayload:
		return "New mention", actorName + " mentioned you: " + truncate(p.Text)
	case models.StoryReactionPayload:
		return "New reaction", actorName + " reacted " + p.Reaction + " to your story"
	}
	switch e.Type {
	case models.EventLike:
		return "New like", actorName + " liked your post"
	case models.EventComment:
		return "New comment", actorName + " commented on your post"
	case models.EventFollow:
		return "New follower", actorName + " started following you"
	case models.EventMention:
		return "New mention", actorName + " mentioned you"
	case models.EventStoryReaction:
		return "New reaction", actorName + " reacted to your story"
	}
	return "New activity", actorName + " interacted with you"
}

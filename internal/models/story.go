package models

import "time"

// StoryReaction tracks reactions to stories. Stories themselves live
// outside this service.
type StoryReaction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	StoryID   string    `json:"story_id" gorm:"index;uniqueIndex:idx_story_user_reaction"`
	UserID    string    `json:"user_id" gorm:"size:128;index;uniqueIndex:idx_story_user_reaction"`
	Reaction  string    `json:"reaction" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateStoryReactionRequest defines the request body for reacting to a story
type CreateStoryReactionRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,max=128"`
	Reaction string `json:"reaction" validate:"required,max=32"`
}

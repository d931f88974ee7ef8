package models

import "time"

// Like represents a like on a post
type Like struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PostID    string    `json:"post_id" gorm:"index;uniqueIndex:idx_post_user_like"`
	UserID    string    `json:"user_id" gorm:"size:128;index;uniqueIndex:idx_post_user_like"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLikeRequest defines the request body for liking a post. The post
// itself lives outside this service, so the caller names its owner.
type CreateLikeRequest struct {
	PostID     string `json:"post_id" validate:"required"`
	OwnerID    string `json:"owner_id" validate:"required"`
	PreviewRef string `json:"preview_ref,omitempty"`
}

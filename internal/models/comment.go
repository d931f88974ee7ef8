package models

import "gorm.io/gorm"

// Comment represents a comment on a post
type Comment struct {
	gorm.Model
	PostID  string `json:"post_id" gorm:"index"`
	UserID  string `json:"user_id" gorm:"size:128;index"`
	Content string `json:"content" validate:"required,min=1,max=500"`
}

// CreateCommentRequest defines the request body for creating a new comment
type CreateCommentRequest struct {
	PostID     string   `json:"post_id" validate:"required"`
	OwnerID    string   `json:"owner_id" validate:"required"`
	Content    string   `json:"content" validate:"required,min=1,max=500"`
	PreviewRef string   `json:"preview_ref,omitempty"`
	Mentions   []string `json:"mentions,omitempty" validate:"max=20,dive,required,max=128"`
}

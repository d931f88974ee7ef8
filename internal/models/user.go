package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// User is the profile row backing display names in notification copy.
// UID is the identity provider's user id, the UserID used everywhere else.
type User struct {
	ID          uint      `json:"-" gorm:"primaryKey"`
	UID         string    `json:"uid" gorm:"size:128;uniqueIndex"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty" gorm:"index"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserCompact is the actor summary embedded in responses.
type UserCompact struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (u User) ToCompact() UserCompact {
	return UserCompact{UID: u.UID, DisplayName: u.DisplayName}
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// UpdateProfileRequest defines the request body for updating the caller's profile
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=64"`
	AvatarRef   string `json:"avatar_ref" validate:"omitempty,max=1024"`
}

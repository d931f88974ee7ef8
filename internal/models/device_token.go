package models

import "time"

// DeviceToken is an FCM registration token for one of a user's devices.
type DeviceToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"size:128;index"`
	Token     string    `json:"token" gorm:"uniqueIndex"`
	Platform  string    `json:"platform" gorm:"size:16"` // ios, android, web
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterDeviceTokenRequest defines the request body for registering a device
type RegisterDeviceTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

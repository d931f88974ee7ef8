package models

// CreateConversationRequest defines the request body for starting a group
// conversation. The caller is always added to the participants.
type CreateConversationRequest struct {
	Participants []string `json:"participants" validate:"required,min=1,max=256,dive,required,max=128"`
	Name         string   `json:"name" validate:"omitempty,max=100"`
}

// SendMessageRequest defines the request body for sending a message
type SendMessageRequest struct {
	To       []string    `json:"to" validate:"required,min=1,dive,required,max=128"`
	Type     MessageType `json:"type" validate:"required,oneof=text image video"`
	Text     string      `json:"text" validate:"required_if=Type text,max=4000"`
	MediaRef string      `json:"media_ref" validate:"required_unless=Type text"`
}

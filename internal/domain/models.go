package domain

import "time"

// Identity is an authenticated user record as returned by the server.
type Identity struct {
	ID          string    `json:"_id"`
	DisplayName string    `json:"fullName"`
	Email       string    `json:"email"`
	AvatarRef   string    `json:"profilePic"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is immutable once created by the server.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	ImageRef   string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Draft is an outgoing message payload before the server assigns it an id.
type Draft struct {
	Text     string `json:"text"`
	ImageRef string `json:"image,omitempty"`
}

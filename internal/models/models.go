package models

import "time"

type User struct {
	ID            int64     `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	FullName      string    `json:"full_name" db:"full_name"`
	PasswordHash  string    `json:"-" db:"password_hash"`
	Role          string    `json:"role" db:"role"`
	ProfilePicURL *string   `json:"profile_pic_url" db:"profile_pic_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

const (
	RoleAlumni = "alumni"
	RoleAdmin  = "admin"
)

// Conversation is a two-party thread. UserLow < UserHigh always holds.
type Conversation struct {
	ID        int64     `json:"id" db:"id"`
	UserLow   int64     `json:"user_low" db:"user_low"`
	UserHigh  int64     `json:"user_high" db:"user_high"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage
}

type Message struct {
	ID             int64       `json:"message_id" db:"id"`
	ConversationID int64       `json:"conversation_id" db:"conversation_id"`
	SenderID       int64       `json:"sender_id" db:"sender_id"`
	Content        string      `json:"content" db:"content"`
	Kind           MessageKind `json:"message_type" db:"message_type"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	ConversationID int64   `json:"conversation_id" db:"conversation_id"`
	UserID         int64   `json:"user_id" db:"user_id"`
	FullName       string  `json:"full_name" db:"full_name"`
	OtherUserEmail string  `json:"other_user_email" db:"other_user_email"`
	ProfilePicURL  *string `json:"profile_pic_url" db:"profile_pic_url"`
	LastMessage    *string `json:"last_message" db:"last_message"`
}

// Principal is the identity resolved from a bearer credential.
type Principal struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Delivery is a persisted message handed to the push channel.
type Delivery struct {
	Message    Message
	SenderName string
	ReceiverID int64
}

// Request/Response structures
type SignupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type SendMessageRequest struct {
	ReceiverEmail string      `json:"receiver_email"`
	ReceiverID    int64       `json:"receiver_id"`
	Content       string      `json:"content"`
	MessageType   MessageKind `json:"message_type"`
}

type SendMessageResponse struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type UploadImageResponse struct {
	ImageURL string `json:"imageUrl"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

package websocket

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"alumnet/internal/models"
)

// Client to server.
const (
	EventAddUser     = "addUser"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventPing        = "ping"
)

// Server to client.
const (
	EventSystem          = "system"
	EventGetUsers        = "getUsers"
	EventGetMessage      = "getMessage"
	EventGetNotification = "getNotification"
	EventGetTyping       = "getTyping"
	EventAck             = "ack"
	EventError           = "error"
	EventPong            = "pong"
)

const imagePreview = "sent an image"

// inboundFrame is a client frame before its payload is decoded.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SendMessagePayload struct {
	SenderID       *int64             `json:"senderId,omitempty"`
	ReceiverID     int64              `json:"receiverId"`
	Content        string             `json:"content"`
	ConversationID int64              `json:"conversationId"`
	MessageType    models.MessageKind `json:"messageType"`
}

type TypingPayload struct {
	ReceiverID int64 `json:"receiverId"`
	IsTyping   *bool `json:"isTyping"`
}

type MessagePayload struct {
	MessageID      int64              `json:"message_id,omitempty"`
	SenderID       int64              `json:"sender_id"`
	ConversationID int64              `json:"conversation_id"`
	Content        string             `json:"content"`
	MessageType    models.MessageKind `json:"message_type"`
	CreatedAt      time.Time          `json:"created_at"`
}

type NotificationPayload struct {
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

type TypingNotice struct {
	SenderID int64 `json:"senderId"`
	IsTyping bool  `json:"isTyping"`
}

type AckPayload struct {
	Event          string `json:"event"`
	ConversationID int64  `json:"conversationId"`
	Delivered      bool   `json:"delivered"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SystemPayload struct {
	Message  string `json:"message"`
	SocketID string `json:"socketId"`
}

func messagePayloadFrom(msg models.Message) MessagePayload {
	return MessagePayload{
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MessageType:    msg.Kind,
		CreatedAt:      msg.CreatedAt,
	}
}

// parseUserID accepts a bare number or {"userId": n}.
func parseUserID(raw json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil && id > 0 {
		return id, nil
	}
	var wrapped struct {
		UserID int64 `json:"userId"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.UserID > 0 {
		return wrapped.UserID, nil
	}
	return 0, fmt.Errorf("payload is not a user id")
}

// preview is the notification text for a message: a fixed string for
// images, otherwise the first limit runes of the content.
func preview(content string, kind models.MessageKind, limit int) string {
	if kind == models.KindImage {
		return imagePreview
	}
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit]) + "..."
}

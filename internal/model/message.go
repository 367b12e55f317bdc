package model

import "time"

// ChatKind distinguishes one-to-one chats from group chats.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Chat represents a conversation
type Chat struct {
	ID           int64     `json:"id"`
	Kind         ChatKind  `json:"kind"`
	Name         string    `json:"name"`
	LastActivity time.Time `json:"lastActivity"`
}

// ChatSummary is a chat as listed for one user.
type ChatSummary struct {
	Chat
	UnreadCount int `json:"unreadCount"`
}

// Participant is one chat membership, unique per (chat, user).
type Participant struct {
	ChatID int64 `json:"chatId"`
	UserID int64 `json:"userId"`
}

// Profile holds the display attributes copied into a message at send time.
type Profile struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Message represents a chat message. ID is strictly increasing per store
// and is the unit of the delivery watermark.
type Message struct {
	ID           int64       `json:"id"`
	ChatID       int64       `json:"chatId"`
	SenderID     int64       `json:"senderId"`
	SenderName   string      `json:"senderName"`
	SenderAvatar string      `json:"senderAvatar,omitempty"`
	Content      string      `json:"content"`
	MessageType  MessageType `json:"messageType"`
	ImageData    string      `json:"imageData,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	IsRead       bool        `json:"isRead"`
}

// ReadReceipt records that a reader has seen a message. ID is strictly
// increasing and is the unit of the receipt watermark.
type ReadReceipt struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"messageId"`
	ChatID    int64     `json:"chatId"`
	ReaderID  int64     `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

package chat

import (
	"time"

	"campusconnect/internal/user"
)

// MaxMessageLength is the upper bound on trimmed message text, in characters.
const MaxMessageLength = 5000

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

// Message is a persisted direct message. Only Read ever changes after creation.
type Message struct {
	ID              string    `json:"_id"`
	ConversationKey Key       `json:"conversationId"`
	SenderID        string    `json:"sender"`
	RecipientID     string    `json:"receiver"`
	Text            string    `json:"text"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Conversation is the derived per-counterpart view returned by ListConversations.
type Conversation struct {
	ConversationKey Key          `json:"_id"`
	OtherUser       user.Profile `json:"otherUser"`
	LastMessage     LastMessage  `json:"lastMessage"`
	UnreadCount     int          `json:"unreadCount"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendRequest is the input to both the durable-write and the live-relay paths.
// ID is optional; when set it is the idempotency key of the message.
type SendRequest struct {
	ID              string `json:"_id,omitempty"`
	SenderID        string `json:"sender"`
	RecipientID     string `json:"receiver"`
	Text            string `json:"text"`
	ConversationKey string `json:"conversationId,omitempty"`
}

// Stats summarizes a user's message volume.
type Stats struct {
	TotalSent     int `json:"totalSent"`
	TotalReceived int `json:"totalReceived"`
	UnreadCount   int `json:"unreadCount"`
	Total         int `json:"total"`
}

// ---------------------------------------------
// Internal Hub Models
// ---------------------------------------------

// PresenceEntry is the authoritative live connection of one user.
type PresenceEntry struct {
	UserID       string
	ConnectionID string
	LastSeenAt   time.Time
}

package chat

import (
	"encoding/json"
	"errors"
)

// Websocket event types. Names match what the web client already speaks.
const (
	// client -> server
	EventUserOnline  = "user-online"
	EventSendMessage = "send-message"
	EventMarkRead    = "mark-read"
	EventTyping      = "typing"
	EventLogout      = "user-offline"

	// server -> client
	EventOnlineUsers    = "online-users"
	EventYouAreOnline   = "you-are-online"
	EventReceiveMessage = "receive-message"
	EventMessageSent    = "message-sent"
	EventMessagesRead   = "messages-read"
	EventUserTyping     = "user-typing"
	EventUserOffline    = "user-offline"
	EventError          = "error"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into a ready-to-write envelope frame.
func Encode(eventType string, data any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func mustEncode(eventType string, data any) []byte {
	b, err := Encode(eventType, data)
	if err != nil {
		panic(err)
	}
	return b
}

type YouAreOnline struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type MessageSent struct {
	Success bool     `json:"success"`
	Message *Message `json:"message"`
}

type ErrorEvent struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	AllowedRole string `json:"allowedRole,omitempty"`
}

// NewErrorEvent builds the structured error sent back to the originating connection.
func NewErrorEvent(err error) ErrorEvent {
	ev := ErrorEvent{Code: ErrorCode(err), Message: PublicMessage(err)}
	var sr *SameRoleError
	if errors.As(err, &sr) {
		ev.AllowedRole = string(sr.Allowed)
	}
	return ev
}

type MarkReadRequest struct {
	ConversationKey string `json:"conversationId"`
}

type ReadReceipt struct {
	ConversationKey Key    `json:"conversationId"`
	ReaderID        string `json:"readBy"`
	Count           int    `json:"count"`
}

type TypingRequest struct {
	ReceiverID      string `json:"receiverId"`
	ConversationKey string `json:"conversationId"`
}

type TypingIndicator struct {
	ConversationKey Key    `json:"conversationId"`
	FromID          string `json:"userId"`
}

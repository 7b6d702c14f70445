package v1

import "time"

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload carries the server-side session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// ConversationJoinPayload requests membership in a conversation room.
type ConversationJoinPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Kind           string `json:"kind,omitempty"`
}

// MessageSendPayload requests sending a message into a conversation.
type MessageSendPayload struct {
	ConversationID int64  `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server id.
type MessageAckPayload struct {
	ConversationID int64     `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	MessageID      int64     `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageNewPayload is pushed when a message is accepted into a conversation.
// ClientMsgID is only present when the sender supplied one.
type MessageNewPayload struct {
	ConversationID int64     `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	MessageID      int64     `json:"message_id"`
	SenderID       int64     `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	FileName       string    `json:"file_name,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrorPayload is a generic error response payload.
// RefID names the envelope that caused the error, when there was one.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RefID   string `json:"ref_id,omitempty"`
}

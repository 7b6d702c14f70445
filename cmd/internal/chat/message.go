package chat

import (
	"strings"
	"time"
)

// Kind is the payload kind of a chat message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ParseKind maps a wire value to a Kind. Unknown values report ok=false.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, true
	case KindImage:
		return KindImage, true
	case KindFile:
		return KindFile, true
	case KindVideo:
		return KindVideo, true
	case KindAudio:
		return KindAudio, true
	default:
		return KindText, false
	}
}

// Binary reports whether Content is a URI rather than a text body.
func (k Kind) Binary() bool {
	return k != KindText && k != ""
}

// Message is one chat event held by a conversation cache.
//
// Server-assigned IDs are positive. Local echoes use negative IDs until the
// transport confirms them.
type Message struct {
	ID          int64
	ClientMsgID string

	SenderID     int64
	SenderName   string
	SenderAvatar string

	Kind      Kind
	Content   string
	CreatedAt time.Time

	FileName string
	FileSize int64

	IsRead  bool
	Pending bool
	Failed  bool
}

// Local reports whether the message is an unconfirmed local echo.
func (m Message) Local() bool { return m.ID < 0 }

// Ack is the transport confirmation of a sent message.
type Ack struct {
	ID        int64
	CreatedAt time.Time
}

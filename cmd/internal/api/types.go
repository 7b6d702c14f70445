package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chatshell/cmd/internal/chat"
)

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

// User is the signed-in account as returned by login.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// LoginResult is the login response body.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// Session is one entry of the session directory.
type Session struct {
	ID          int64
	Type        string
	Name        string
	Avatar      string
	LastMessage *SessionPreview
	Unread      int
	Online      bool
}

// SessionPreview is the last message shown next to a session.
type SessionPreview struct {
	Kind      chat.Kind
	Content   string
	CreatedAt time.Time
}

type wireSession struct {
	ChatID      int64  `json:"chatId"`
	ChatType    string `json:"chatType"`
	ChatName    string `json:"chatName"`
	ChatAvatar  string `json:"chatAvatar"`
	LastMessage *struct {
		Content   string `json:"content"`
		Type      string `json:"type"`
		CreatedAt string `json:"createdAt"`
	} `json:"lastMessage"`
	UnreadCount int  `json:"unreadCount"`
	Online      bool `json:"online"`
}

func (w wireSession) session() Session {
	s := Session{
		ID:     w.ChatID,
		Type:   w.ChatType,
		Name:   w.ChatName,
		Avatar: w.ChatAvatar,
		Unread: w.UnreadCount,
		Online: w.Online,
	}
	if w.LastMessage != nil {
		kind, _ := chat.ParseKind(w.LastMessage.Type)
		s.LastMessage = &SessionPreview{
			Kind:      kind,
			Content:   w.LastMessage.Content,
			CreatedAt: parseTime(w.LastMessage.CreatedAt),
		}
	}
	return s
}

type fetchPageRequest struct {
	ChatID   int64 `json:"chatId"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

type wireMessage struct {
	MessageID      int64  `json:"messageId"`
	ClientMsgID    string `json:"clientMsgId,omitempty"`
	SenderID       int64  `json:"senderId"`
	Type           string `json:"type"`
	IsRead         bool   `json:"isRead"`
	Content        string `json:"content"`
	SenderAvatar   string `json:"senderAvatar"`
	SenderUsername string `json:"senderUsername"`
	CreatedAt      string `json:"createdAt"`
	URL            string `json:"url"`
	FileName       string `json:"fileName"`
	FileSize       string `json:"fileSize"`
}

func (w wireMessage) message() chat.Message {
	kind, _ := chat.ParseKind(w.Type)

	content := w.Content
	if kind.Binary() && w.URL != "" {
		content = w.URL
	}

	var size int64
	if s := strings.TrimSpace(w.FileSize); s != "" {
		if n, err := humanize.ParseBytes(s); err == nil {
			size = int64(n)
		}
	}

	return chat.Message{
		ID:           w.MessageID,
		ClientMsgID:  w.ClientMsgID,
		SenderID:     w.SenderID,
		SenderName:   w.SenderUsername,
		SenderAvatar: w.SenderAvatar,
		Kind:         kind,
		Content:      content,
		CreatedAt:    parseTime(w.CreatedAt),
		FileName:     w.FileName,
		FileSize:     size,
		IsRead:       w.IsRead,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 and the server's zone-less forms (read as UTC).
// Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

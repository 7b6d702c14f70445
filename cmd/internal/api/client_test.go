package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatshell/cmd/internal/chat"
)

type recorded struct {
	method string
	path   string
	header http.Header
	body   map[string]any
	query  string
}

type fakeAPI struct {
	mu   sync.Mutex
	reqs []recorded
	mux  *http.ServeMux
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), query: r.URL.RawQuery}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		f.mu.Lock()
		f.reqs = append(f.reqs, rec)
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func okEnvelope(result any) map[string]any {
	return map[string]any{"success": true, "result": result, "message": "ok"}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)

	_, err = New("http://x", WithTimeout(0))
	require.Error(t, err)

	_, err = New("http://x", WithTokenHeader("", ""))
	require.Error(t, err)
}

func TestClient_LoginStoresTokenAndSendsHeader(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
			"access_token": "tok-1",
			"user":         map[string]any{"id": 7, "username": "alice"},
		}))
	})
	f.mux.HandleFunc("/chat/sessionList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope([]any{}))
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	res, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.User.ID)
	assert.Equal(t, "tok-1", c.Token())

	login := f.last()
	assert.Equal(t, "alice", login.body["username"])
	assert.Empty(t, login.header.Get("Authorization"))

	_, err = c.Sessions(context.Background(), 7)
	require.NoError(t, err)
	got := f.last()
	assert.Equal(t, "Bearer tok-1", got.header.Get("Authorization"))
	assert.Equal(t, "userId=7", got.query)
}

func TestClient_CustomTokenHeader(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/chat/sessionList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope(nil))
	})

	c, err := New(srv.URL, WithTokenHeader("satoken", ""), WithToken("abc"))
	require.NoError(t, err)

	sessions, err := c.Sessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, "abc", f.last().header.Get("satoken"))
}

func TestClient_FetchPageReversesToAscending(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope([]map[string]any{
			{"messageId": 3, "senderId": 2, "type": "file", "content": "", "url": "https://cdn/x.pdf", "fileName": "x.pdf", "fileSize": "1.5 kB", "createdAt": "2025-03-01T10:03:00Z"},
			{"messageId": 2, "senderId": 1, "type": "text", "content": "b", "createdAt": "2025-03-01 10:02:00", "isRead": true},
			{"messageId": 1, "senderId": 2, "type": "weird", "content": "a", "createdAt": "2025-03-01T10:01:00.123Z", "senderUsername": "bob"},
		}))
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	msgs, err := c.FetchPage(context.Background(), 42, 2, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, chat.KindText, msgs[0].Kind)
	assert.Equal(t, "bob", msgs[0].SenderName)
	assert.True(t, msgs[1].IsRead)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC), msgs[1].CreatedAt)
	assert.Equal(t, chat.KindFile, msgs[2].Kind)
	assert.Equal(t, "https://cdn/x.pdf", msgs[2].Content)
	assert.Equal(t, int64(1500), msgs[2].FileSize)

	req := f.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.EqualValues(t, 42, req.body["chatId"])
	assert.EqualValues(t, 2, req.body["page"])
	assert.EqualValues(t, 10, req.body["pageSize"])
}

func TestClient_FetchPageMalformedBatchIsEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result any
	}{
		{name: "object", result: map[string]any{"list": "oops"}},
		{name: "string", result: "oops"},
		{name: "null", result: nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, srv := newFakeAPI(t)
			f.mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, okEnvelope(tc.result))
			})

			c, err := New(srv.URL)
			require.NoError(t, err)

			msgs, err := c.FetchPage(context.Background(), 9, 1, 10)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestClient_EnvelopeFailure(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "chat not found"})
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), 1, 1, 10)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "fetch_page", apiErr.Op)
	assert.Equal(t, "chat not found", apiErr.Message)
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/chat/sessionList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "token expired"})
	})

	c, err := New(srv.URL, WithToken("old"))
	require.NoError(t, err)

	_, err = c.Sessions(context.Background(), 0)
	require.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "token expired", apiErr.Message)
}

func TestClient_LoginWithoutToken(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope(map[string]any{"user": map[string]any{"id": 1}}))
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Empty(t, c.Token())
}

func TestClient_LogoutClearsToken(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "boom"})
	})

	c, err := New(srv.URL, WithToken("t"))
	require.NoError(t, err)

	err = c.Logout(context.Background())
	require.Error(t, err)
	assert.Empty(t, c.Token())

	require.ErrorIs(t, c.Logout(context.Background()), ErrNotLoggedIn)
}

func TestClient_RegisterAndSessions(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t)
	f.mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope(nil))
	})
	f.mux.HandleFunc("/chat/sessionList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope([]map[string]any{
			{"chatId": 42, "chatType": "group", "chatName": "team", "unreadCount": 3,
				"lastMessage": map[string]any{"content": "hi", "type": "text", "createdAt": "2025-03-01T10:00:00Z"}},
			{"chatId": 7, "chatType": "private", "chatName": nil, "online": true},
		}))
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.Register(context.Background(), "bob", "pw", "bob@example.com"))
	assert.Equal(t, "bob@example.com", f.last().body["email"])

	sessions, err := c.Sessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, int64(42), sessions[0].ID)
	assert.Equal(t, 3, sessions[0].Unread)
	require.NotNil(t, sessions[0].LastMessage)
	assert.Equal(t, "hi", sessions[0].LastMessage.Content)
	assert.Equal(t, "", sessions[1].Name)
	assert.Nil(t, sessions[1].LastMessage)
	assert.True(t, sessions[1].Online)
}

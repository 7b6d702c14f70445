package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatshell/cmd/internal/chat"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:3000", cfg.APIBaseURL)
	assert.Equal(t, "ws://127.0.0.1:3000/ws", cfg.RealtimeURL())
	assert.Equal(t, "Authorization", cfg.TokenHeader)
	assert.Equal(t, "Bearer ", cfg.TokenPrefix)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 50, cfg.LoadOlderThreshold)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{
		"CHATSHELL_API_URL":         "https://chat.example.com/",
		"CHATSHELL_TOKEN_HEADER":    "satoken",
		"CHATSHELL_PAGE_SIZE":       "25",
		"CHATSHELL_SCROLL_DEBOUNCE": "350ms",
		"CHATSHELL_LOG_LEVEL":       "DEBUG",
		"CHATSHELL_LOG_FORMAT":      "pretty",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.APIBaseURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.RealtimeURL())
	assert.Equal(t, "satoken", cfg.TokenHeader)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, 350*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "page size zero", env: map[string]string{"CHATSHELL_PAGE_SIZE": "0"}},
		{name: "page size not a number", env: map[string]string{"CHATSHELL_PAGE_SIZE": "ten"}},
		{name: "bad log format", env: map[string]string{"CHATSHELL_LOG_FORMAT": "xml"}},
		{name: "bad api url", env: map[string]string{"CHATSHELL_API_URL": "not a url"}},
		{name: "zero fetch timeout", env: map[string]string{"CHATSHELL_FETCH_TIMEOUT": "0s"}},
		{name: "plaintext remote", env: map[string]string{"CHATSHELL_API_URL": "http://chat.example.com"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadConfigFrom(tc.env); err == nil {
				t.Fatalf("LoadConfigFrom(%v) succeeded, want error", tc.env)
			}
		})
	}
}

func TestLoadConfig_DotenvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHATSHELL_PAGE_SIZE=30\nCHATSHELL_LOG_LEVEL=warn\n"), 0o600))

	t.Setenv("CHATSHELL_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("CHATSHELL_PAGE_SIZE") })

	cfg, err := LoadConfig(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.PageSize)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "tls remote", cfg: Config{APIBaseURL: "https://chat.example.com", WSURL: "wss://chat.example.com/ws"}},
		{name: "plaintext loopback", cfg: Config{APIBaseURL: "http://127.0.0.1:3000", WSURL: "ws://localhost:3000/ws"}},
		{name: "plaintext ipv6 loopback", cfg: Config{APIBaseURL: "http://[::1]:3000"}},
		{name: "plaintext remote api", cfg: Config{APIBaseURL: "http://chat.example.com"}, wantErr: true},
		{name: "plaintext remote ws", cfg: Config{APIBaseURL: "https://chat.example.com", WSURL: "ws://chat.example.com/ws"}, wantErr: true},
		{name: "insecure allowed", cfg: Config{APIBaseURL: "http://chat.example.com", AllowInsecure: true}},
		{name: "unknown scheme", cfg: Config{APIBaseURL: "ftp://chat.example.com"}, wantErr: true},
	}

	for _, tc := range cases {
		err := ValidateSecurityConfig(tc.cfg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: ValidateSecurityConfig()=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://chat.example.com", want: "wss://chat.example.com"},
		{in: "https://chat.example.com/api/v1", want: "wss://chat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestRealtimeURL_Explicit(t *testing.T) {
	t.Parallel()

	cfg := Config{APIBaseURL: "https://chat.example.com", WSURL: "wss://rt.example.com/socket"}
	if got := cfg.RealtimeURL(); got != "wss://rt.example.com/socket" {
		t.Fatalf("RealtimeURL()=%q", got)
	}
}

// historyServer serves /chat/messages newest first over total messages of one conversation.
func historyServer(t *testing.T, convID int64, total int) *httptest.Server {
	t.Helper()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatID   int64 `json:"chatId"`
			Page     int   `json:"page"`
			PageSize int   `json:"pageSize"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID != convID {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"success":false,"message":"bad request"}`)
			return
		}

		newest := total - (req.Page-1)*req.PageSize
		oldest := newest - req.PageSize + 1
		if oldest < 1 {
			oldest = 1
		}
		out := make([]map[string]any, 0, req.PageSize)
		for id := newest; id >= oldest; id-- {
			out = append(out, map[string]any{
				"messageId":      id,
				"senderId":       2,
				"senderUsername": "alice",
				"type":           "text",
				"content":        fmt.Sprintf("m%d", id),
				"createdAt":      base.Add(time.Duration(id) * time.Minute).Format(time.RFC3339),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": out, "message": "ok"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL string) Config {
	t.Helper()
	cfg, err := LoadConfigFrom(map[string]string{
		"CHATSHELL_API_URL":       apiURL,
		"CHATSHELL_FETCH_TIMEOUT": "2s",
	})
	require.NoError(t, err)
	return cfg
}

func TestApp_LoadHistory(t *testing.T) {
	srv := historyServer(t, 42, 16)

	a, err := New(testConfig(t, srv.URL), nil, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	msgs, err := a.LoadHistory(context.Background(), 42, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 16)
	assert.Equal(t, "m1", msgs[0].Content)
	assert.Equal(t, "m16", msgs[15].Content)

	st, ok := a.Store.State(42)
	require.True(t, ok)
	assert.True(t, st.Exhausted)
	assert.Equal(t, 2, st.Page)
}

func TestApp_LoadHistoryMalformedBatchExhausts(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"result":{"list":"oops"},"message":"ok"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(testConfig(t, srv.URL), nil, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	msgs, err := a.LoadHistory(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	st, ok := a.Store.State(9)
	require.True(t, ok)
	assert.True(t, st.Exhausted)
	assert.Equal(t, int32(1), calls.Load())

	outcome, err := a.Store.TriggerLoadOlderIfNeeded(context.Background(), 9, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, chat.LoadSkippedExhausted, outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestApp_SignInWithOpaqueTokenOffline(t *testing.T) {
	srv := historyServer(t, 42, 3)

	cfg := testConfig(t, srv.URL)
	cfg.Token = "opaque-token"

	a, err := New(cfg, nil, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	// The REST server has no /ws route, so the realtime connect fails.
	sess, err := a.SignIn(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", sess.Token)
	assert.Equal(t, "opaque-token", a.API.Token())

	_, err = a.SignIn(context.Background(), true)
	require.Error(t, err)
}

func TestApp_SignInWithoutCredentials(t *testing.T) {
	srv := historyServer(t, 42, 3)

	a, err := New(testConfig(t, srv.URL), nil, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.SignIn(context.Background(), false)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestApp_OpenOfflinePrintsTranscript(t *testing.T) {
	srv := historyServer(t, 42, 3)

	var out strings.Builder
	a, err := New(testConfig(t, srv.URL), nil, &out)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Open(context.Background(), 42, "alice"))
	got := out.String()
	assert.Contains(t, got, "── alice ──")
	for _, want := range []string{"m1", "m2", "m3"} {
		assert.Contains(t, got, want)
	}

	active, ok := a.Store.Active()
	require.True(t, ok)
	assert.Equal(t, int64(42), active)
}

func TestApp_SendWithoutConversation(t *testing.T) {
	srv := historyServer(t, 42, 3)

	a, err := New(testConfig(t, srv.URL), nil, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Send(context.Background(), "hi")
	require.Error(t, err)
}

func TestApp_LiveMessageInBackgroundConversation(t *testing.T) {
	srv := historyServer(t, 42, 1)

	var out strings.Builder
	a, err := New(testConfig(t, srv.URL), nil, &out)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Open(context.Background(), 42, ""))

	outcome := a.Store.MergeLiveMessage(9, chat.Message{ID: 500, SenderID: 3, SenderName: "carol", Kind: chat.KindText, Content: "yo", CreatedAt: time.Now()})
	assert.Equal(t, chat.MergeCreated, outcome)
	assert.Len(t, a.Store.Messages(9), 1)
	assert.Contains(t, out.String(), "● conversation 9 · carol: yo")
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "chatshell_up 1\n")
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, log, "127.0.0.1:0", h, ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "chatshell_up 1\n", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serveMetrics did not stop")
	}
}

func TestServeMetrics_BadAddr(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := serveMetrics(context.Background(), log, "256.0.0.1:bad", http.NotFoundHandler(), nil)
	require.Error(t, err)
}

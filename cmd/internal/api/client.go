// Package api is the REST client for the chat backend: authentication,
// paged message history and the session directory.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatshell/cmd/internal/chat"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultTokenHeader = "Authorization"
	defaultTokenPrefix = "Bearer "
	userAgent          = "chatshell/1.0"
)

var _ chat.Fetcher = (*Client)(nil)

// Client talks to the REST API. It holds the access token in memory only.
type Client struct {
	http   *resty.Client
	log    *slog.Logger
	tracer trace.Tracer

	tokenHeader string
	tokenPrefix string

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client) error

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("timeout must be > 0")
		}
		c.http.SetTimeout(d)
		return nil
	}
}

// WithTokenHeader sets the header carrying the token and the prefix written before it.
// The default is "Authorization: Bearer <token>".
func WithTokenHeader(name, prefix string) Option {
	return func(c *Client) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("token header name is empty")
		}
		c.tokenHeader = name
		c.tokenPrefix = prefix
		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// WithToken installs an access token obtained elsewhere.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = strings.TrimSpace(token)
		return nil
	}
}

// New constructs a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api: missing base url")
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", userAgent).
			SetHeader("Content-Type", "application/json").
			SetTimeout(defaultTimeout),
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      otel.Tracer("chatshell/api"),
		tokenHeader: defaultTokenHeader,
		tokenPrefix: defaultTokenPrefix,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("api option: %w", err)
		}
	}

	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if tok := c.Token(); tok != "" {
			r.SetHeader(c.tokenHeader, c.tokenPrefix+tok)
		}
		return nil
	})

	return c, nil
}

// Token returns the current access token, or "".
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the access token. An empty token signs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

// Login authenticates and keeps the returned access token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", body, nil, &out); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return LoginResult{}, &Error{Op: "login", Status: http.StatusOK, Message: "no access token in response"}
	}

	c.SetToken(out.AccessToken)
	c.log.Info("api.login.ok", "user_id", out.User.ID, "username", out.User.Username)
	return out, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	body := map[string]string{"username": username, "password": password, "email": email}
	return c.do(ctx, "register", http.MethodPost, "/auth/register", body, nil, nil)
}

// Logout ends the server session. The local token is dropped even when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return ErrNotLoggedIn
	}
	err := c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil, nil)
	c.SetToken("")
	return err
}

// FetchPage returns one page of a conversation's history in ascending CreatedAt order.
func (c *Client) FetchPage(ctx context.Context, conversationID int64, page, pageSize int) ([]chat.Message, error) {
	var raw json.RawMessage
	body := fetchPageRequest{ChatID: conversationID, Page: page, PageSize: pageSize}
	if err := c.do(ctx, "fetch_page", http.MethodPost, "/chat/messages", body, nil, &raw); err != nil {
		return nil, err
	}

	// A batch that is not a message list counts as empty, which exhausts the
	// conversation instead of failing every later scroll.
	var wire []wireMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.log.Warn("api.fetch_page.malformed",
				"conversation_id", conversationID,
				"page", page,
				"err", err,
			)
			return nil, nil
		}
	}

	// The server returns newest first.
	out := make([]chat.Message, len(wire))
	for i, w := range wire {
		out[len(wire)-1-i] = w.message()
	}
	return out, nil
}

// Sessions lists the signed-in user's conversations.
func (c *Client) Sessions(ctx context.Context, userID int64) ([]Session, error) {
	var query map[string]string
	if userID != 0 {
		query = map[string]string{"userId": strconv.FormatInt(userID, 10)}
	}

	var wire []wireSession
	if err := c.do(ctx, "sessions", http.MethodGet, "/chat/sessionList", nil, query, &wire); err != nil {
		return nil, err
	}

	out := make([]Session, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.session())
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, query map[string]string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := c.tracer.Start(ctx, "api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	var ok, failed envelope
	req := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&ok).
		SetError(&failed)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.log.Info("api.request.fail", "op", op, "err", err)
		return fmt.Errorf("api %s: %w", op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))

	c.log.Debug("api.request",
		"op", op,
		"status", resp.StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.IsError() {
		msg := failed.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		apiErr := &Error{Op: op, Status: resp.StatusCode(), Message: msg}
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}
	if !ok.Success {
		apiErr := &Error{Op: op, Status: resp.StatusCode(), Message: ok.Message}
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil || len(ok.Result) == 0 || string(ok.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(ok.Result, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("api %s: decode result: %w", op, err)
	}
	return nil
}

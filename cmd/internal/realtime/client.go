package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"chatshell/cmd/internal/chat"
	v1 "chatshell/shared/contracts/realtime/v1"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultAckTimeout       = 10 * time.Second
)

// Metrics observes envelope traffic. metrics.Chat implements it.
type Metrics interface {
	EnvelopeIn(typ string)
	EnvelopeOut(typ string)
}

var _ chat.Sender = (*Client)(nil)

type nopMetrics struct{}

func (nopMetrics) EnvelopeIn(string)  {}
func (nopMetrics) EnvelopeOut(string) {}

// Options configures a Client. Zero values take the protocol defaults.
type Options struct {
	URL    string
	Origin string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	Metrics Metrics
}

// Client is the realtime channel: one owned websocket connection per signed-in
// session, explicitly connected and disconnected by its owner.
//
// Client implements chat.Sender. Message and error subscriptions survive
// Disconnect/Connect cycles.
type Client struct {
	log     *slog.Logger
	opts    Options
	limiter *rate.Limiter
	subs    *handlers

	mu        sync.Mutex
	cur       *session
	joined    int64
	hasJoined bool

	pendingMu sync.Mutex
	pending   map[string]chan sendResult // client_msg_id -> waiter
	refs      map[string]string          // envelope id -> client_msg_id
}

type sendResult struct {
	ack chat.Ack
	err error
}

// NewClient constructs a disconnected Client.
func NewClient(log *slog.Logger, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("realtime: missing url")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = heartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = heartbeatTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	return &Client{
		log:     log,
		opts:    opts,
		limiter: newSendLimiter(opts.RateEvents, opts.RateWindow),
		subs:    newHandlers(),
		pending: make(map[string]chan sendResult),
		refs:    make(map[string]string),
	}, nil
}

// OnMessage subscribes to live messages. The returned func unsubscribes.
func (c *Client) OnMessage(fn MessageHandler) func() {
	if fn == nil {
		return func() {}
	}
	return c.subs.addMessage(fn)
}

// OnError subscribes to server errors not tied to a pending send.
func (c *Client) OnError(fn ErrorHandler) func() {
	if fn == nil {
		return func() {}
	}
	return c.subs.addError(fn)
}

// Connected reports whether a session is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// SessionID returns the server-assigned session id, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// Connect dials the server, authenticates with token and starts the read and
// heartbeat loops. An existing connection is closed first. The last joined
// conversation is joined again.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.Disconnect()

	hsCtx, hsCancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer hsCancel()

	h := http.Header{}
	if o := strings.TrimSpace(c.opts.Origin); o != "" {
		h.Set("Origin", o)
	}

	conn, resp, err := websocket.Dial(hsCtx, c.opts.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Info("realtime.connect.fail", "url", c.opts.URL, "err", err)
		return fmt.Errorf("realtime dial: %w", err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return fmt.Errorf("%w: got %q", ErrSubprotocol, sp)
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := c.handshake(hsCtx, conn, token)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := newSession(sessionID, conn, cancel)

	c.mu.Lock()
	c.cur = s
	joined, hasJoined := c.joined, c.hasJoined
	c.mu.Unlock()

	go c.readLoop(loopCtx, s)
	go c.heartbeat(loopCtx, s)

	c.log.Info("realtime.connect.ok", "session_id", sessionID)

	if hasJoined {
		if err := c.writeJoin(ctx, s, joined); err != nil {
			c.log.Info("realtime.rejoin.fail", "conversation_id", joined, "err", err)
		}
	}
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, token string) (string, error) {
	hello, err := newEnvelope(v1.TypeHello, 0, v1.HelloPayload{Token: token}, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if err := writeEnvelope(ctx, conn, hello, c.opts.WriteTimeout); err != nil {
		return "", fmt.Errorf("realtime hello: %w", err)
	}
	c.opts.Metrics.EnvelopeOut(v1.TypeHello)

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return "", fmt.Errorf("realtime hello_ack: %w", err)
		}
		c.opts.Metrics.EnvelopeIn(env.Type)

		switch env.Type {
		case v1.TypeHelloAck:
			var p v1.HelloAckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return "", fmt.Errorf("realtime hello_ack payload: %w", err)
			}
			return p.SessionID, nil
		case v1.TypeError:
			return "", decodeServerError(env)
		default:
			c.log.Debug("realtime.handshake.skip", "type", env.Type)
		}
	}
}

// Disconnect closes the current connection (idempotent). Pending sends fail
// with ErrNotConnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.cur
	c.cur = nil
	c.mu.Unlock()

	if s.close(websocket.StatusNormalClosure, "bye") {
		c.log.Info("realtime.disconnect", "session_id", s.id)
	}
}

// teardown closes s and clears it as current when it still is.
func (c *Client) teardown(s *session, code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.cur == s {
		c.cur = nil
	}
	c.mu.Unlock()

	if s.close(code, reason) {
		c.log.Info("realtime.session.closed", "session_id", s.id, "reason", reason)
	}
}

func (c *Client) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil, ErrNotConnected
	}
	return c.cur, nil
}

// Join subscribes the session to conversationID. The conversation is remembered
// and joined again after a reconnect, even when this call fails with ErrNotConnected.
func (c *Client) Join(ctx context.Context, conversationID int64) error {
	c.mu.Lock()
	c.joined = conversationID
	c.hasJoined = true
	s := c.cur
	c.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	return c.writeJoin(ctx, s, conversationID)
}

func (c *Client) writeJoin(ctx context.Context, s *session, conversationID int64) error {
	env, err := newEnvelope(v1.TypeConversationJoin, conversationID, v1.ConversationJoinPayload{ConversationID: conversationID}, time.Now().UTC())
	if err != nil {
		return err
	}
	return c.write(ctx, s, env)
}

func (c *Client) write(ctx context.Context, s *session, env v1.Envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("realtime throttle: %w", err)
	}
	if err := writeEnvelope(ctx, s.conn, env, c.opts.WriteTimeout); err != nil {
		c.log.Info("realtime.write.fail", "session_id", s.id, "type", env.Type, "close_status", websocket.CloseStatus(err), "err", err)
		c.teardown(s, websocket.StatusAbnormalClosure, "write failed")
		return fmt.Errorf("realtime write %s: %w", env.Type, err)
	}
	c.opts.Metrics.EnvelopeOut(env.Type)
	return nil
}

// Send writes a message_send envelope and waits for the matching message_ack.
func (c *Client) Send(ctx context.Context, conversationID int64, clientMsgID string, kind chat.Kind, content string) (chat.Ack, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Ack{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxMessageChars {
		return chat.Ack{}, fmt.Errorf("%w: max=%d chars", ErrMessageTooLong, maxMessageChars)
	}
	if strings.TrimSpace(clientMsgID) == "" {
		return chat.Ack{}, errors.New("realtime: missing client_msg_id")
	}
	if kind == "" {
		kind = chat.KindText
	}

	s, err := c.current()
	if err != nil {
		return chat.Ack{}, err
	}

	env, err := newEnvelope(v1.TypeMessageSend, conversationID, v1.MessageSendPayload{
		ConversationID: conversationID,
		ClientMsgID:    clientMsgID,
		Type:           string(kind),
		Content:        content,
	}, time.Now().UTC())
	if err != nil {
		return chat.Ack{}, err
	}

	wait := c.register(clientMsgID, env.ID)
	defer c.unregister(clientMsgID, env.ID)

	if err := c.write(ctx, s, env); err != nil {
		return chat.Ack{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-wait:
		return res.ack, res.err
	case <-s.Done():
		return chat.Ack{}, ErrNotConnected
	case <-ctx.Done():
		return chat.Ack{}, ctx.Err()
	case <-timer.C:
		return chat.Ack{}, ErrAckTimeout
	}
}

func (c *Client) register(clientMsgID, envID string) <-chan sendResult {
	ch := make(chan sendResult, 1)

	c.pendingMu.Lock()
	c.pending[clientMsgID] = ch
	c.refs[envID] = clientMsgID
	c.pendingMu.Unlock()

	return ch
}

func (c *Client) unregister(clientMsgID, envID string) {
	c.pendingMu.Lock()
	delete(c.pending, clientMsgID)
	delete(c.refs, envID)
	c.pendingMu.Unlock()
}

// resolve delivers res to the waiter for clientMsgID and reports whether one existed.
func (c *Client) resolve(clientMsgID string, res sendResult) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[clientMsgID]
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

func (c *Client) resolveRef(envID string, err error) bool {
	if envID == "" {
		return false
	}
	c.pendingMu.Lock()
	clientMsgID, ok := c.refs[envID]
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	return c.resolve(clientMsgID, sendResult{err: err})
}

func (c *Client) readLoop(ctx context.Context, s *session) {
	for {
		env, err := readEnvelope(ctx, s.conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				c.log.Info("realtime.read.bad_json", "session_id", s.id, "err", err)
				continue
			case readErrClose:
				c.teardown(s, websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				c.teardown(s, websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				c.teardown(s, websocket.StatusAbnormalClosure, "conn closed")
			default:
				c.log.Info("realtime.read.fail", "session_id", s.id, "err", err)
				c.teardown(s, websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		c.opts.Metrics.EnvelopeIn(env.Type)

		if err := env.Validate(); err != nil {
			c.log.Info("realtime.read.bad_envelope", "session_id", s.id, "err", err)
			continue
		}
		c.dispatch(s, env)
	}
}

func (c *Client) dispatch(s *session, env v1.Envelope) {
	switch env.Type {
	case v1.TypeMessageNew:
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Info("realtime.message_new.bad_payload", "session_id", s.id, "err", err)
			return
		}
		convID := p.ConversationID
		if convID == 0 {
			convID = env.ConvID
		}
		c.subs.publishMessage(convID, toMessage(p))

	case v1.TypeMessageAck:
		var p v1.MessageAckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Info("realtime.message_ack.bad_payload", "session_id", s.id, "err", err)
			return
		}
		ack := chat.Ack{ID: p.MessageID, CreatedAt: p.CreatedAt.UTC()}
		if !c.resolve(p.ClientMsgID, sendResult{ack: ack}) {
			c.log.Debug("realtime.message_ack.orphan", "client_msg_id", p.ClientMsgID)
		}

	case v1.TypeError:
		err := decodeServerError(env)
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if c.resolveRef(p.RefID, err) {
			return
		}
		c.log.Info("realtime.server_error", "session_id", s.id, "code", p.Code, "message", p.Message)
		c.subs.publishError(err)

	case v1.TypeConversationJoin:
		c.log.Debug("realtime.join.ok", "session_id", s.id, "conversation_id", env.ConvID)

	default:
		c.log.Debug("realtime.read.skip", "session_id", s.id, "type", env.Type)
	}
}

func (c *Client) heartbeat(ctx context.Context, s *session) {
	t := time.NewTicker(c.opts.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, c.opts.HeartbeatTimeout)
			err := s.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				c.log.Info("realtime.ping.fail", "session_id", s.id, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					c.teardown(s, websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func decodeServerError(env v1.Envelope) error {
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return &ServerError{Code: "unknown", Message: "undecodable error payload"}
	}
	return &ServerError{Code: p.Code, Message: p.Message}
}

func toMessage(p v1.MessageNewPayload) chat.Message {
	kind, _ := chat.ParseKind(p.Type)
	return chat.Message{
		ID:           p.MessageID,
		ClientMsgID:  p.ClientMsgID,
		SenderID:     p.SenderID,
		SenderName:   p.SenderUsername,
		SenderAvatar: p.SenderAvatar,
		Kind:         kind,
		Content:      p.Content,
		CreatedAt:    p.CreatedAt.UTC(),
		FileName:     p.FileName,
		FileSize:     p.FileSize,
	}
}

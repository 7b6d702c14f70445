package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatshell/cmd/internal/api"
)

const defaultExpirySkew = 30 * time.Second

// Authenticator is the REST side of a session. api.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (api.LoginResult, error)
	Logout(ctx context.Context) error
	SetToken(token string)
}

// Connector is the realtime side of a session. realtime.Client implements it.
type Connector interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
}

// Session is the signed-in state held in memory.
type Session struct {
	User      api.User
	Token     string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// Manager owns the current session and drives the realtime connection's lifecycle.
type Manager struct {
	log   *slog.Logger
	authn Authenticator
	conn  Connector
	now   func() time.Time
	skew  time.Duration

	onExpire func(Session)

	mu    sync.Mutex
	cur   *Session
	gen   uint64
	timer *time.Timer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		m.now = now
		return nil
	}
}

// WithExpirySkew disconnects this long before the token's exp.
func WithExpirySkew(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		if d < 0 {
			return errors.New("expiry skew must be >= 0")
		}
		m.skew = d
		return nil
	}
}

// WithOnExpire registers a callback run after an expired session was dropped.
func WithOnExpire(fn func(Session)) ManagerOption {
	return func(m *Manager) error {
		m.onExpire = fn
		return nil
	}
}

func NewManager(log *slog.Logger, authn Authenticator, conn Connector, opts ...ManagerOption) (*Manager, error) {
	if authn == nil {
		return nil, errors.New("auth: authenticator is nil")
	}
	if conn == nil {
		return nil, errors.New("auth: connector is nil")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		log:   log,
		authn: authn,
		conn:  conn,
		now:   func() time.Time { return time.Now().UTC() },
		skew:  defaultExpirySkew,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("auth option: %w", err)
		}
	}
	return m, nil
}

// Login signs in over REST, then connects the realtime channel with the token.
//
// When only the realtime connect fails, the session is kept (history still
// works over REST) and the connect error is returned alongside it.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	res, err := m.authn.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}

	sess := Session{User: res.User, Token: res.AccessToken}

	claims, err := DecodeToken(res.AccessToken)
	switch {
	case err == nil:
		sess.ExpiresAt = claims.ExpiresAt
		if !sess.ExpiresAt.After(m.now()) {
			m.authn.SetToken("")
			return Session{}, ErrTokenExpired
		}
	case errors.Is(err, ErrNoExpiry), errors.Is(err, ErrMalformedToken):
		// Opaque or non-expiring tokens stay valid until logout or a 401.
		m.log.Debug("auth.token.no_expiry", "user_id", res.User.ID, "reason", err.Error())
	}

	m.install(sess)
	m.log.Info("auth.login.ok", "user_id", sess.User.ID, "expires_at", sess.ExpiresAt)

	if err := m.conn.Connect(ctx, sess.Token); err != nil {
		m.log.Warn("auth.connect.fail", "user_id", sess.User.ID, "err", err)
		return sess, fmt.Errorf("realtime connect: %w", err)
	}
	return sess, nil
}

// Restore installs a session from a token obtained earlier (e.g. passed on the
// command line) and connects the realtime channel.
func (m *Manager) Restore(ctx context.Context, user api.User, token string) (Session, error) {
	sess := Session{User: user, Token: token}

	claims, err := DecodeToken(token)
	if err == nil {
		sess.ExpiresAt = claims.ExpiresAt
		if !sess.ExpiresAt.After(m.now()) {
			return Session{}, ErrTokenExpired
		}
	}

	m.authn.SetToken(token)
	m.install(sess)

	if err := m.conn.Connect(ctx, token); err != nil {
		return sess, fmt.Errorf("realtime connect: %w", err)
	}
	return sess, nil
}

func (m *Manager) install(sess Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked()
	m.gen++
	m.cur = &sess

	if sess.ExpiresAt.IsZero() {
		return
	}
	gen := m.gen
	wait := sess.ExpiresAt.Sub(m.now()) - m.skew
	if wait < 0 {
		wait = 0
	}
	m.timer = time.AfterFunc(wait, func() { m.expire(gen) })
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.cur == nil {
		m.mu.Unlock()
		return
	}
	sess := *m.cur
	m.cur = nil
	m.timer = nil
	m.mu.Unlock()

	m.conn.Disconnect()
	m.authn.SetToken("")
	m.log.Info("auth.session.expired", "user_id", sess.User.ID, "expires_at", sess.ExpiresAt)

	if m.onExpire != nil {
		m.onExpire(sess)
	}
}

// Logout disconnects the realtime channel, then ends the REST session.
// The local session is dropped even when the REST call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}
	userID := m.cur.User.ID
	m.cur = nil
	m.gen++
	m.stopTimerLocked()
	m.mu.Unlock()

	m.conn.Disconnect()

	err := m.authn.Logout(ctx)
	if errors.Is(err, api.ErrNotLoggedIn) {
		err = nil
	}
	m.log.Info("auth.logout", "user_id", userID, "err", err)
	return err
}

// Current returns the active session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Session{}, false
	}
	return *m.cur, true
}

// Close stops the expiry timer without touching the connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"chatshell/cmd/internal/api"
	"chatshell/cmd/internal/auth"
	"chatshell/cmd/internal/chat"
	"chatshell/cmd/internal/metrics"
	"chatshell/cmd/internal/realtime"
	"chatshell/cmd/internal/render"
)

// App wires the client: REST API, realtime channel, message store, session
// manager and terminal presenter. It owns the single realtime connection.
type App struct {
	cfg Config
	log *slog.Logger

	Metrics  *metrics.Chat
	API      *api.Client
	Realtime *realtime.Client
	Store    *chat.Store
	Auth     *auth.Manager
	Term     *render.Terminal

	unsubs    []func()
	closeOnce sync.Once
}

// New constructs the App. Nothing connects until Login or Restore.
func New(cfg Config, log *slog.Logger, out io.Writer) (*App, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out == nil {
		out = io.Discard
	}

	m := metrics.New()

	apiClient, err := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.FetchTimeout),
		api.WithTokenHeader(cfg.TokenHeader, cfg.TokenPrefix),
		api.WithLogger(log.With("component", "api")),
	)
	if err != nil {
		return nil, err
	}

	rt, err := realtime.NewClient(log.With("component", "realtime"), realtime.Options{
		URL:     cfg.RealtimeURL(),
		Origin:  cfg.Origin,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	term, err := render.NewTerminal(out)
	if err != nil {
		return nil, err
	}

	store, err := chat.NewStore(apiClient,
		chat.WithPageSize(cfg.PageSize),
		chat.WithSender(rt),
		chat.WithPresenter(term),
		chat.WithLogger(log.With("component", "chat")),
		chat.WithMetrics(m),
		chat.WithDebounce(cfg.Debounce),
		chat.WithLoadOlderThreshold(cfg.LoadOlderThreshold),
		chat.WithFetchTimeout(cfg.FetchTimeout),
	)
	if err != nil {
		return nil, err
	}
	term.Attach(store)

	a := &App{
		cfg:      cfg,
		log:      log,
		Metrics:  m,
		API:      apiClient,
		Realtime: rt,
		Store:    store,
		Term:     term,
	}

	a.Auth, err = auth.NewManager(log.With("component", "auth"), apiClient, rt,
		auth.WithOnExpire(a.onSessionExpired),
	)
	if err != nil {
		return nil, err
	}

	a.unsubs = append(a.unsubs,
		rt.OnMessage(func(conversationID int64, msg chat.Message) {
			store.MergeLiveMessage(conversationID, msg)
		}),
		rt.OnError(func(err error) {
			log.Warn("realtime.server_error", "err", err)
		}),
	)

	return a, nil
}

// ErrNoCredentials is returned by SignIn when neither a token nor a username is configured.
var ErrNoCredentials = errors.New("no credentials: set CHATSHELL_TOKEN or CHATSHELL_USERNAME")

// Config returns the configuration the App was built with.
func (a *App) Config() Config { return a.cfg }

// SignIn restores the configured token, or logs in with the configured
// credentials. With live=false a failed realtime connect is logged and the
// REST-only session is returned without error.
func (a *App) SignIn(ctx context.Context, live bool) (auth.Session, error) {
	var (
		sess auth.Session
		err  error
	)
	switch {
	case a.cfg.Token != "":
		sess, err = a.Restore(ctx, userFromToken(a.cfg.Token), a.cfg.Token)
	case a.cfg.Username != "":
		sess, err = a.Login(ctx, a.cfg.Username, a.cfg.Password)
	default:
		return auth.Session{}, ErrNoCredentials
	}

	if err != nil && sess.Token != "" && !live {
		a.log.Info("app.signin.offline", "user_id", sess.User.ID, "err", err)
		return sess, nil
	}
	return sess, err
}

// userFromToken takes the user id from a JWT subject when there is one.
func userFromToken(token string) api.User {
	claims, err := auth.DecodeToken(token)
	if err != nil && !errors.Is(err, auth.ErrNoExpiry) {
		return api.User{}
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	return api.User{ID: id}
}

// Login signs in and binds the store to the signed-in user. A failed realtime
// connect still leaves a usable REST session; its error is returned.
func (a *App) Login(ctx context.Context, username, password string) (auth.Session, error) {
	sess, err := a.Auth.Login(ctx, username, password)
	if sess.Token != "" {
		a.Store.SetLocalUser(sess.User.ID, sess.User.Username)
	}
	return sess, err
}

// Restore signs in with a token obtained earlier.
func (a *App) Restore(ctx context.Context, user api.User, token string) (auth.Session, error) {
	sess, err := a.Auth.Restore(ctx, user, token)
	if sess.Token != "" {
		a.Store.SetLocalUser(sess.User.ID, sess.User.Username)
	}
	return sess, err
}

// Logout ends the session and unbinds the store's local user.
func (a *App) Logout(ctx context.Context) error {
	err := a.Auth.Logout(ctx)
	a.Store.SetLocalUser(0, "")
	return err
}

// Open makes conversationID active: it prints the cached transcript or loads
// the newest page, then joins the conversation on the realtime channel.
func (a *App) Open(ctx context.Context, conversationID int64, title string) error {
	a.Term.Begin(conversationID, title)

	_, err := a.Store.SelectConversation(ctx, conversationID)
	a.Term.Flush(conversationID)
	if err != nil {
		var lerr *chat.LoadError
		if !errors.As(err, &lerr) {
			return err
		}
		// Already reported through the presenter; the conversation stays open.
		a.log.Debug("app.open.load_failed", "conversation_id", conversationID, "err", err)
	}

	if err := a.Realtime.Join(ctx, conversationID); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			a.log.Info("app.open.offline", "conversation_id", conversationID)
			return nil
		}
		return fmt.Errorf("join conversation %d: %w", conversationID, err)
	}
	return nil
}

// Send posts content to the active conversation.
func (a *App) Send(ctx context.Context, content string) (chat.Message, error) {
	id, ok := a.Store.Active()
	if !ok {
		return chat.Message{}, errors.New("no conversation open")
	}
	return a.Store.SendOptimistic(ctx, id, content)
}

// LoadOlder fetches the next older page of the active conversation.
// An explicit request counts as a scroll to the very top.
func (a *App) LoadOlder(ctx context.Context) (chat.LoadOutcome, error) {
	id, ok := a.Store.Active()
	if !ok {
		return chat.LoadSkippedNotNeeded, errors.New("no conversation open")
	}
	return a.Store.TriggerLoadOlderIfNeeded(ctx, id, 0, 1)
}

// LoadHistory loads up to pages pages of a conversation, newest first, and
// returns the cached messages in ascending order. It stops early once history
// is exhausted.
func (a *App) LoadHistory(ctx context.Context, conversationID int64, pages int) ([]chat.Message, error) {
	if pages < 1 {
		pages = 1
	}
	if _, err := a.Store.SelectConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	for i := 1; i < pages; i++ {
		outcome, err := a.Store.TriggerLoadOlderIfNeeded(ctx, conversationID, 0, 1)
		if err != nil {
			return a.Store.Messages(conversationID), err
		}
		if outcome == chat.LoadSkippedExhausted {
			break
		}
	}
	return a.Store.Messages(conversationID), nil
}

// ServeMetrics exposes /metrics until ctx is done. It is a no-op without an address.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, a.log, a.cfg.MetricsAddr, a.Metrics.Handler(), nil)
}

// Close disconnects and releases background timers. It is idempotent.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for _, unsub := range a.unsubs {
			unsub()
		}
		a.Auth.Close()
		a.Realtime.Disconnect()
		a.Store.Close()
	})
}

func (a *App) onSessionExpired(sess auth.Session) {
	a.Store.SetLocalUser(0, "")
	a.log.Warn("app.session.expired", "user_id", sess.User.ID)
}

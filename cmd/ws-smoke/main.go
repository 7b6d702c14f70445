// Package main provides a CI-friendly smoke test for the chatshell realtime channel.
//
// It validates, against a running backend:
//   - handshake + subprotocol selection + hello/ack session establishment
//   - join of a conversation by both clients
//   - send -> ack with a server id
//   - fanout of message_new to the other client
//   - optimistic echo reconciliation: the sender's store holds exactly one entry
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"chatshell/cmd/internal/chat"
	"chatshell/cmd/internal/ids"
	"chatshell/cmd/internal/realtime"
)

type nopFetcher struct{}

func (nopFetcher) FetchPage(context.Context, int64, int, int) ([]chat.Message, error) {
	return nil, nil
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:3000/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		convID  = flag.Int64("conv", 1, "Conversation ID to join")
		tokenA  = flag.String("token-a", os.Getenv("CHATSHELL_SMOKE_TOKEN_A"), "Access token of the sending user")
		tokenB  = flag.String("token-b", os.Getenv("CHATSHELL_SMOKE_TOKEN_B"), "Access token of the receiving user")
		userA   = flag.Int64("user-a", 0, "User id behind -token-a (enables echo reconciliation by sender)")
		text    = flag.String("text", "hello chatshell 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *tokenA == "" || *tokenB == "" {
		fatalf("both -token-a and -token-b are required")
	}

	var logOut io.Writer = io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()

	a := mustConnect(ctx, log.With("client", "A"), *wsURL, *origin, *tokenA, *timeout)
	defer a.Disconnect()
	b := mustConnect(ctx, log.With("client", "B"), *wsURL, *origin, *tokenB, *timeout)
	defer b.Disconnect()
	logf(*verbose, "connected A=%s B=%s", a.SessionID(), b.SessionID())

	got := make(chan chat.Message, 4)
	unsub := b.OnMessage(func(id int64, m chat.Message) {
		if id != *convID {
			return
		}
		select {
		case got <- m:
		default:
		}
	})
	defer unsub()

	mustJoin(ctx, a, *convID, *timeout)
	mustJoin(ctx, b, *convID, *timeout)

	store, err := chat.NewStore(nopFetcher{},
		chat.WithSender(a),
		chat.WithLocalUser(*userA, "A"),
		chat.WithLogger(log.With("client", "A")),
	)
	if err != nil {
		fatalf("store: %v", err)
	}
	defer store.Close()
	unsubA := a.OnMessage(func(id int64, m chat.Message) { store.MergeLiveMessage(id, m) })
	defer unsubA()

	sendCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if _, err := store.SelectConversation(sendCtx, *convID); err != nil {
		fatalf("select: %v", err)
	}
	echo, err := store.SendOptimistic(sendCtx, *convID, *text)
	if err != nil {
		fatalf("send: %v", err)
	}
	logf(*verbose, "sent client_msg_id=%s", echo.ClientMsgID)

	var serverID int64
	for _, m := range store.Messages(*convID) {
		if m.ClientMsgID == echo.ClientMsgID {
			if m.Local() || m.Pending {
				fatalf("echo still pending after ack: %+v", m)
			}
			serverID = m.ID
		}
	}
	if serverID <= 0 {
		fatalf("ack did not confirm the echo")
	}

	select {
	case m := <-got:
		if m.ID != serverID {
			fatalf("fanout id mismatch: got=%d want=%d", m.ID, serverID)
		}
		if m.Content != strings.TrimSpace(*text) {
			fatalf("fanout text mismatch: got=%q want=%q", m.Content, *text)
		}
	case <-time.After(*timeout):
		fatalf("B did not receive message_new within %s", *timeout)
	}

	// Give A's own fanout a moment to arrive, then require a single entry.
	time.Sleep(200 * time.Millisecond)
	n := 0
	for _, m := range store.Messages(*convID) {
		if m.ID == serverID {
			n++
		}
	}
	if n != 1 {
		fatalf("sender store holds %d entries for server id %d, want 1", n, serverID)
	}

	fmt.Printf("OK realtime smoke passed (conv=%d server_msg_id=%d run=%s)\n", *convID, serverID, ids.MustULID(time.Now()))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, log *slog.Logger, wsURL, origin, token string, stepTimeout time.Duration) *realtime.Client {
	c, err := realtime.NewClient(log, realtime.Options{URL: wsURL, Origin: origin, HandshakeTimeout: stepTimeout})
	if err != nil {
		fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.Connect(ctx, token); err != nil {
		fatalf("connect: %v", err)
	}
	if c.SessionID() == "" {
		fatalf("hello.ack missing session_id")
	}
	return c
}

func mustJoin(parent context.Context, c *realtime.Client, convID int64, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.Join(ctx, convID); err != nil {
		fatalf("join %d: %v", convID, err)
	}
}

func logf(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"chatshell/cmd/internal/app"
	"chatshell/cmd/internal/chat"
)

const chatHelp = `commands:
  /more        load older messages
  /open <id>   switch conversation
  /who         show the signed-in user
  /quit        leave
anything else is sent to the open conversation`

func newChatCmd(cfg func() app.Config) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open a conversation and chat interactively",
		Long: `Open a conversation, print its recent history and follow it live.

Lines read from stdin are sent as messages; lines starting with / are commands.
` + chatHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConversationID(args[0])
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg(), cmd.OutOrStdout(), func(ctx context.Context, a *app.App) error {
				sess, err := a.SignIn(ctx, !offline)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("signed in as"), sess.User.Username)
				if err := a.Open(ctx, id, ""); err != nil {
					return err
				}
				return chatLoop(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Continue when the realtime channel cannot connect")
	return cmd
}

// chatLoop reads commands and messages until EOF, /quit or ctx is done.
// Sends run concurrently so a slow ack does not block input; delivery
// failures are reported by the presenter.
func chatLoop(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	var sends sync.WaitGroup
	defer sends.Wait()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sends.Add(1)
			go func(content string) {
				defer sends.Done()
				if _, err := a.Send(ctx, content); err != nil && !errors.Is(err, context.Canceled) {
					if errors.Is(err, chat.ErrEmptyContent) {
						return
					}
					fmt.Fprintln(out, errStyle.Render("! "+err.Error()))
				}
			}(line)
			continue
		}

		quit, err := runChatCommand(ctx, a, line, out)
		if err != nil {
			fmt.Fprintln(out, errStyle.Render("! "+err.Error()))
		}
		if quit {
			return nil
		}
	}
}

func runChatCommand(ctx context.Context, a *app.App, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q", "/exit":
		return true, nil
	case "/help", "/?":
		fmt.Fprintln(out, dimStyle.Render(chatHelp))
	case "/more":
		outcome, err := a.LoadOlder(ctx)
		if err != nil {
			var lerr *chat.LoadError
			if errors.As(err, &lerr) {
				return false, nil
			}
			return false, err
		}
		if outcome == chat.LoadSkippedExhausted {
			fmt.Fprintln(out, dimStyle.Render("no older messages"))
		}
	case "/open":
		if len(fields) != 2 {
			return false, errors.New("usage: /open <conversation-id>")
		}
		id, err := parseConversationID(fields[1])
		if err != nil {
			return false, err
		}
		return false, a.Open(ctx, id, "")
	case "/who":
		id, name := a.Store.LocalUser()
		fmt.Fprintf(out, "%s (id %d)\n", name, id)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatshell/cmd/internal/api"
	"chatshell/cmd/internal/app"
)

func newSessionsCmd(cfg func() app.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), cfg(), cmd.OutOrStdout(), func(ctx context.Context, a *app.App) error {
				sess, err := a.SignIn(ctx, false)
				if err != nil {
					return err
				}
				list, err := a.API.Sessions(ctx, sess.User.ID)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), list, time.Now())
				return nil
			})
		},
	}
}

func printSessions(out io.Writer, list []api.Session, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no conversations"))
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("NAME")+"\t"+headerStyle.Render("UNREAD")+"\t"+headerStyle.Render("LAST MESSAGE"))
	for _, s := range list {
		name := nameStyle.Render(s.Name)
		if s.Online {
			name += " " + onlineStyle.Render("●")
		}
		unread := dimStyle.Render("-")
		if s.Unread > 0 {
			unread = unreadStyle.Render(strconv.Itoa(s.Unread))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, name, unread, lastMessage(s.LastMessage, now))
	}
	_ = w.Flush()
}

func lastMessage(p *api.SessionPreview, now time.Time) string {
	if p == nil {
		return dimStyle.Render("-")
	}
	text := p.Content
	if p.Kind.Binary() {
		text = "[" + string(p.Kind) + "]"
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if r := []rune(text); len(r) > 40 {
		text = string(r[:39]) + "…"
	}
	if p.CreatedAt.IsZero() {
		return text
	}
	return text + " " + dimStyle.Render("("+humanize.RelTime(p.CreatedAt, now, "ago", "from now")+")")
}

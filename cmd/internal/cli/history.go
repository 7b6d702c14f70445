package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chatshell/cmd/internal/app"
	"chatshell/cmd/internal/render"
)

func newHistoryCmd(cfg func() app.Config) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print recent history of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConversationID(args[0])
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg(), io.Discard, func(ctx context.Context, a *app.App) error {
				sess, err := a.SignIn(ctx, false)
				if err != nil {
					return err
				}
				if _, err := a.LoadHistory(ctx, id, pages); err != nil {
					return err
				}

				term, err := render.NewTerminal(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				items := a.Store.Display(id)
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no messages"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), term.Render(items, sess.User.ID))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&pages, "pages", "p", 1, "Number of history pages to load")
	return cmd
}

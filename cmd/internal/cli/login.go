package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"chatshell/cmd/internal/app"
	"chatshell/cmd/internal/auth"
)

func newLoginCmd(cfg func() app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and print the access token",
		Long: `Sign in with --username/--password and print the access token.

Export it as CHATSHELL_TOKEN to skip the login on later commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			if c.Username == "" {
				return errors.New("login: --username is required")
			}
			c.Token = ""
			return app.Run(cmd.Context(), c, cmd.OutOrStdout(), func(ctx context.Context, a *app.App) error {
				sess, err := a.SignIn(ctx, false)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s (id %d)\n", okStyle.Render("signed in as"), sess.User.Username, sess.User.ID)
				if !sess.ExpiresAt.IsZero() {
					fmt.Fprintf(out, "%s %s\n", dimStyle.Render("expires"), sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintln(out, sess.Token)
				return nil
			})
		},
	}
}

func newRegisterCmd(cfg func() app.Config) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			if c.Username == "" || c.Password == "" {
				return errors.New("register: --username and --password are required")
			}
			if err := auth.CheckRegistration(c.Username, c.Password, email); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			return app.Run(cmd.Context(), c, cmd.OutOrStdout(), func(ctx context.Context, a *app.App) error {
				if err := a.API.Register(ctx, c.Username, c.Password, email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("registered"), c.Username)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

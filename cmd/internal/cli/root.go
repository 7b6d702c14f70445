// Package cli is the chatshell command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"chatshell/cmd/internal/app"
)

// globalFlags hold the persistent flag values. A flag overrides its
// environment variable only when it was set on the command line.
type globalFlags struct {
	envFile       string
	apiURL        string
	wsURL         string
	token         string
	username      string
	password      string
	pageSize      int
	logLevel      string
	logFormat     string
	metricsAddr   string
	allowInsecure bool
}

// NewRootCmd builds the chatshell command tree.
func NewRootCmd() *cobra.Command {
	var (
		flags globalFlags
		cfg   app.Config
	)

	root := &cobra.Command{
		Use:   "chatshell",
		Short: "Terminal client for the chat backend",
		Long: `chatshell browses and sends chat messages from a terminal.

History is paged from the REST API and live messages arrive over the realtime
channel. Configuration comes from CHATSHELL_* environment variables, an optional
.env file and the flags below.

Quick Start:
  chatshell login                         # print an access token
  chatshell sessions                      # list conversations
  chatshell history 42 --pages 3          # print recent history
  chatshell export 42 --format yaml       # dump a transcript
  chatshell chat 42                       # interactive chat`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var files []string
			if flags.envFile != "" {
				files = append(files, flags.envFile)
			}
			loaded, err := app.LoadConfig(files...)
			if err != nil {
				return err
			}
			applyFlags(cmd, &loaded, flags)
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", "", "Load environment from this file instead of ./.env")
	pf.StringVar(&flags.apiURL, "api-url", "", "REST API base URL (CHATSHELL_API_URL)")
	pf.StringVar(&flags.wsURL, "ws-url", "", "Realtime websocket URL (CHATSHELL_WS_URL)")
	pf.StringVar(&flags.token, "token", "", "Access token; skips login (CHATSHELL_TOKEN)")
	pf.StringVarP(&flags.username, "username", "u", "", "Login name (CHATSHELL_USERNAME)")
	pf.StringVar(&flags.password, "password", "", "Login password (CHATSHELL_PASSWORD)")
	pf.IntVar(&flags.pageSize, "page-size", 10, "Messages per history page (CHATSHELL_PAGE_SIZE)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "debug, info, warn or error (CHATSHELL_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "json", "json or pretty (CHATSHELL_LOG_FORMAT)")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (CHATSHELL_METRICS_ADDR)")
	pf.BoolVar(&flags.allowInsecure, "allow-insecure", false, "Permit plaintext http/ws to remote hosts (CHATSHELL_ALLOW_INSECURE)")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cfgFn := func() app.Config { return cfg }
	root.AddCommand(
		newLoginCmd(cfgFn),
		newRegisterCmd(cfgFn),
		newSessionsCmd(cfgFn),
		newHistoryCmd(cfgFn),
		newExportCmd(cfgFn),
		newChatCmd(cfgFn),
	)
	return root
}

// Execute runs the command tree with args against the given streams.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func applyFlags(cmd *cobra.Command, cfg *app.Config, f globalFlags) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if changed("api-url") {
		cfg.APIBaseURL = f.apiURL
	}
	if changed("ws-url") {
		cfg.WSURL = f.wsURL
	}
	if changed("token") {
		cfg.Token = f.token
	}
	if changed("username") {
		cfg.Username = f.username
	}
	if changed("password") {
		cfg.Password = f.password
	}
	if changed("page-size") {
		cfg.PageSize = f.pageSize
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("allow-insecure") {
		cfg.AllowInsecure = f.allowInsecure
	}
}

func parseConversationID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", arg)
	}
	return id, nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chatshell/cmd/internal/app"
	"chatshell/cmd/internal/chat"
)

// transcript is the export document. It is written on demand and never read back.
type transcript struct {
	ConversationID int64             `json:"conversation_id" yaml:"conversation_id"`
	ExportedAt     time.Time         `json:"exported_at" yaml:"exported_at"`
	Complete       bool              `json:"complete" yaml:"complete"`
	Messages       []exportedMessage `json:"messages" yaml:"messages"`
}

type exportedMessage struct {
	ID        int64     `json:"id" yaml:"id"`
	SenderID  int64     `json:"sender_id" yaml:"sender_id"`
	Sender    string    `json:"sender,omitempty" yaml:"sender,omitempty"`
	Kind      chat.Kind `json:"kind" yaml:"kind"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	FileName  string    `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	FileSize  string    `json:"file_size,omitempty" yaml:"file_size,omitempty"`
	Read      bool      `json:"read" yaml:"read"`
}

func newExportCmd(cfg func() app.Config) *cobra.Command {
	var (
		pages  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Write a conversation transcript as YAML or JSON",
		Long: `Load history pages of a conversation and write them to stdout.

Use --pages 0 to load every page until the history is exhausted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConversationID(args[0])
			if err != nil {
				return err
			}
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unsupported format %q (use yaml or json)", format)
			}
			if pages < 0 {
				return fmt.Errorf("--pages must be >= 0")
			}

			return app.Run(cmd.Context(), cfg(), io.Discard, func(ctx context.Context, a *app.App) error {
				if _, err := a.SignIn(ctx, false); err != nil {
					return err
				}
				n := pages
				if n == 0 {
					n = int(^uint(0) >> 1)
				}
				msgs, err := a.LoadHistory(ctx, id, n)
				if err != nil {
					return err
				}
				st, _ := a.Store.State(id)
				doc := buildTranscript(id, msgs, st.Exhausted, time.Now().UTC())
				return writeTranscript(cmd.OutOrStdout(), doc, format)
			})
		},
	}
	cmd.Flags().IntVarP(&pages, "pages", "p", 1, "Number of history pages to load (0 = all)")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	return cmd
}

func buildTranscript(id int64, msgs []chat.Message, complete bool, now time.Time) transcript {
	doc := transcript{
		ConversationID: id,
		ExportedAt:     now,
		Complete:       complete,
		Messages:       make([]exportedMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		if m.Local() {
			continue
		}
		em := exportedMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Sender:    m.SenderName,
			Kind:      m.Kind,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
			FileName:  m.FileName,
			Read:      m.IsRead,
		}
		if m.FileSize > 0 {
			em.FileSize = humanize.Bytes(uint64(m.FileSize))
		}
		doc.Messages = append(doc.Messages, em)
	}
	return doc
}

func writeTranscript(w io.Writer, doc transcript, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
}

package main

import (
	"chat-hub/auth"
	"chat-hub/infrastructure/storage"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the read-only inspector of a chat-hub badger store.
func NewRootCommand(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "Read-only inspector for the chat-hub store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfg.BadgerFilepath, "db", cfg.BadgerFilepath, "path to the badger directory")

	cmd.AddCommand(withDB(&cfg, "conversations", "List every conversation", cobra.NoArgs,
		func(db *badger.DB, w io.Writer, _ []string) error {
			return printConversations(db, w, cfg.Colours)
		}))
	cmd.AddCommand(withDB(&cfg, "messages <conversation-id>", "Print the history of a conversation", cobra.ExactArgs(1),
		func(db *badger.DB, w io.Writer, args []string) error {
			return printMessages(db, w, args[0], cfg.Colours)
		}))

	var prefix string
	keys := withDB(&cfg, "keys", "List raw keys under a prefix", cobra.NoArgs,
		func(db *badger.DB, w io.Writer, _ []string) error {
			return printKeys(db, w, prefix)
		})
	keys.Flags().StringVar(&prefix, "prefix", "", "key prefix (conv:, msg:, member:...)")
	cmd.AddCommand(keys)

	cmd.AddCommand(newTokenCommand(&cfg))
	return cmd
}

func withDB(cfg *Config, use, short string, args cobra.PositionalArgs, fn func(db *badger.DB, w io.Writer, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openReadOnly(cfg.BadgerFilepath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return fn(db, cmd.OutOrStdout(), args)
		},
	}
}

func newTokenCommand(cfg *Config) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := auth.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer).GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func openReadOnly(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return db, nil
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func printConversations(db *badger.DB, w io.Writer, colours bool) error {
	table := newTable(w, []string{"ID", "Kind", "Name", "Members", "Admins", "Latest", "Last activity"})
	err := scan(db, "conv:", func(_ string, val []byte) error {
		var c storage.ConversationView
		if err := storage.Decode(val, &c); err != nil {
			return err
		}
		table.Append([]string{
			c.ID,
			paint(colours, kindStyle(c.Kind), c.Kind),
			c.DisplayName,
			strings.Join(c.Participants, ","),
			strings.Join(c.Admins, ","),
			c.LatestMessageRef,
			formatNanos(c.LastActivityAt),
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func printMessages(db *badger.DB, w io.Writer, conversationID string, colours bool) error {
	table := newTable(w, []string{"Seq", "ID", "Sender", "At", "Content", "Flags", "Read by"})
	err := scan(db, "msg:"+conversationID+":", func(_ string, val []byte) error {
		var m storage.MessageView
		if err := storage.Decode(val, &m); err != nil {
			return err
		}
		readers := make([]string, 0, len(m.ReadBy))
		for _, r := range m.ReadBy {
			readers = append(readers, r.UserID)
		}
		table.Append([]string{
			strconv.FormatUint(m.Sequence, 10),
			m.ID,
			m.SenderID,
			formatNanos(m.CreatedAt),
			content(m),
			paint(colours, color.FgYellow, flags(m)),
			strings.Join(readers, ","),
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func printKeys(db *badger.DB, w io.Writer, prefix string) error {
	table := newTable(w, []string{"Key", "Size"})
	err := scan(db, prefix, func(key string, val []byte) error {
		table.Append([]string{key, strconv.Itoa(len(val)) + " bytes"})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func scan(db *badger.DB, prefix string, fn func(key string, val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
				return fmt.Errorf("key %s: %w", key, err)
			}
		}
		return nil
	})
}

func content(m storage.MessageView) string {
	switch {
	case m.Deleted:
		return ""
	case m.MediaURL != "":
		if m.Caption != "" {
			return fmt.Sprintf("[%s] %s %q", m.MediaKind, m.MediaURL, m.Caption)
		}
		return fmt.Sprintf("[%s] %s", m.MediaKind, m.MediaURL)
	default:
		return m.Text
	}
}

func flags(m storage.MessageView) string {
	var out []string
	if m.Edited {
		out = append(out, "edited")
	}
	if m.Deleted {
		out = append(out, "deleted")
	}
	return strings.Join(out, ",")
}

func kindStyle(kind string) color.Color {
	if kind == "group" {
		return color.FgCyan
	}
	return color.FgGreen
}

func paint(enabled bool, c color.Color, s string) string {
	if !enabled || s == "" {
		return s
	}
	return c.Render(s)
}

func formatNanos(n int64) string {
	if n == 0 {
		return "-"
	}
	return time.Unix(0, n).UTC().Format(time.RFC3339)
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

var readLimit int

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntVarP(&readLimit, "limit", "n", 0, "number of messages to fetch (default from config)")
}

var readCmd = &cobra.Command{
	Use:   "read <chat-id>",
	Short: "Print a chat's recent messages and mark them read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		chatID := args[0]
		return withSession(ctx, false, func(ctx context.Context, s *engine.Session) error {
			if _, err := s.LoadHistory(ctx, chatID, readLimit); err != nil {
				return err
			}
			rec, err := s.MarkAsRead(ctx, chatID)
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), s, s.Messages(chatID))
			if !rec.Synced {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: read receipts could not be sent to the server")
			}
			return nil
		})
	},
}

func printMessages(w io.Writer, s *engine.Session, msgs []domain.Message) {
	for _, m := range msgs {
		printMessage(w, s, m)
	}
}

func printMessage(w io.Writer, s *engine.Session, m domain.Message) {
	fmt.Fprintf(w, "%s  %-12s %s %s\n",
		m.CreatedAt.Local().Format("Jan 02 15:04"),
		senderName(s, m),
		m.Content,
		statusMark(m.Status),
	)
}

func senderName(s *engine.Session, m domain.Message) string {
	if m.SenderID == s.UserID() {
		return "you"
	}
	for _, p := range s.Participants(m.ChatID) {
		if p.UserID == m.SenderID && p.Profile.Username != "" {
			return p.Profile.Username
		}
	}
	return m.SenderID
}

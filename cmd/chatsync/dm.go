package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

func init() {
	rootCmd.AddCommand(dmCmd)
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id> [message...]",
	Short: "Open (or create) a direct chat and optionally send a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		other := args[0]
		return withSession(ctx, false, func(ctx context.Context, s *engine.Session) error {
			chatID, err := s.CreateDirectChat(ctx, other)
			if errors.Is(err, domain.ErrPartialCreate) {
				return fmt.Errorf("chat %s was created but %s could not be added: %w", chatID, other, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Direct chat with %s: %s\n", other, chatID)

			if len(args) == 1 {
				return nil
			}
			m, err := s.Send(ctx, chatID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s %s\n", m.ID, statusMark(m.Status))
			return nil
		})
	},
}

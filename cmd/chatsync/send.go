package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

var sendType string

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendType, "type", string(domain.MessageText), "message type: text, image, file or audio")
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message...>",
	Short: "Send a message to a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		chatID, content := args[0], strings.Join(args[1:], " ")
		return withSession(ctx, false, func(ctx context.Context, s *engine.Session) error {
			m, err := s.SendTyped(ctx, chatID, content, domain.MessageType(sendType))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s %s\n", m.ID, statusMark(m.Status))
			return nil
		})
	},
}

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

var chatsDirectOnly bool

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.Flags().BoolVar(&chatsDirectOnly, "direct", false, "only show direct chats")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your most recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return withSession(ctx, false, func(ctx context.Context, s *engine.Session) error {
			chats := s.Chats()
			if chatsDirectOnly {
				chats = lo.Filter(chats, func(c domain.Chat, _ int) bool { return c.Kind == domain.ChatDirect })
			}
			if len(chats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No chats yet. Start one with 'chatsync dm <user-id>'.")
				return nil
			}
			printChats(cmd.OutOrStdout(), s, chats)
			return nil
		})
	},
}

func printChats(w io.Writer, s *engine.Session, chats []domain.Chat) {
	table := newTable(w, "ID", "Name", "Type", "Members", "Unread", "Last message", "Active")
	for _, c := range chats {
		members := lo.Map(s.Participants(c.ID), func(p domain.Participant, _ int) string {
			return lo.CoalesceOrEmpty(p.Profile.Username, p.UserID)
		})
		last := ""
		if m, ok := s.LastMessage(c.ID); ok {
			last = truncate(m.Content, 40)
		}
		unread := ""
		if n := s.UnreadCount(c.ID); n > 0 {
			unread = strconv.Itoa(n)
		}
		table.Append([]string{
			c.ID,
			c.Name,
			string(c.Kind),
			strings.Join(members, ", "),
			unread,
			last,
			humanize.Time(c.UpdatedAt),
		})
	}
	table.Render()
}

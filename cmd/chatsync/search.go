package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatsync/internal/engine"
)

var searchLimit int

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find users by username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return withSession(ctx, false, func(ctx context.Context, s *engine.Session) error {
			found, err := s.SearchProfiles(ctx, args[0], searchLimit)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
				return nil
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Username", "Status", "Last seen")
			for _, p := range found {
				seen := ""
				if !p.LastSeenAt.IsZero() {
					seen = humanize.Time(p.LastSeenAt)
				}
				table.Append([]string{p.ID, p.Username, presenceLabel(p.Status), seen})
			}
			table.Render()
			return nil
		})
	},
}

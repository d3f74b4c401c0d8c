package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatsync/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:       "status [online|offline|dnd|invisible]",
	Short:     "Show or set your presence",
	Long:      "Without an argument, print your current presence.\nThe status is written directly and stays until a client changes it.",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"online", "offline", "dnd", "invisible"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		api, userID, err := apiClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			p, err := api.Profiles().GetByID(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, since %s)\n", p.Username, presenceLabel(p.Status), humanize.Time(p.StatusChangedAt))
			return nil
		}

		status := domain.Presence(args[0])
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", args[0])
		}
		p, err := api.Profiles().UpdateStatus(ctx, userID, status, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Status set to %s\n", presenceLabel(p.Status))
		return nil
	},
}

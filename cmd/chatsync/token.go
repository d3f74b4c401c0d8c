package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/security"
)

var (
	tokenSecret string
	tokenTTL    time.Duration
	tokenSave   bool
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret, the server's JWT_SECRET (default auth.secret from config)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token in the config file")
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id> [username]",
	Short: "Mint a development token signed with the server secret",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig(path)
		if err != nil {
			return err
		}
		secret := tokenSecret
		if secret == "" {
			secret = cfg.Auth.Secret
		}
		if secret == "" {
			return fmt.Errorf("no signing secret: pass --secret or set auth.secret")
		}

		userID, username := args[0], args[0]
		if len(args) == 2 {
			username = args[1]
		}
		tok, err := security.NewTokenService(secret, tokenTTL).CreateForUser(userID, username)
		if err != nil {
			return err
		}

		if !tokenSave {
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		}
		cfg.Auth.Token = tok
		if err := writeConfig(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token for %s saved to %s\n", userID, path)
		return nil
	},
}

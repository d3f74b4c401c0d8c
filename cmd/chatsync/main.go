// Command chatsync is a terminal client for a chatsync server: it lists
// chats, sends and reads messages, follows live changes and sets presence.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagServer  string
	flagToken   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Terminal client for chatsync",
	Long:          "Talk to a chatsync server from the terminal.\nSettings live in ~/.chatsync/config.toml and can be overridden with flags.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.chatsync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL, e.g. http://localhost:8000")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

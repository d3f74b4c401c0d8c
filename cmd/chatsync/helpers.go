package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
	"chatsync/internal/httpapi"
	"chatsync/internal/logging"
	"chatsync/internal/session"
)

const stopTimeout = 5 * time.Second

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cliLogger() (*zap.Logger, error) {
	if flagVerbose {
		return logging.New("debug", true)
	}
	return logging.New("error", true)
}

func authedConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("no token: run 'chatsync token <user-id> --save' or pass --token")
	}
	return cfg, nil
}

// apiClient talks to the REST API directly, without a sync session.
func apiClient() (*httpapi.Client, string, error) {
	cfg, err := authedConfig()
	if err != nil {
		return nil, "", err
	}
	id, err := session.FromToken(cfg.Auth.Token)
	if err != nil {
		return nil, "", fmt.Errorf("token: %w", err)
	}
	userID, _ := id.Current()
	c, err := httpapi.New(cfg.Server.URL, id.Token, nil)
	if err != nil {
		return nil, "", err
	}
	return c, userID, nil
}

// withSession starts a sync session, runs fn and always stops the session.
// Only live sessions publish the user's presence.
func withSession(ctx context.Context, live bool, fn func(ctx context.Context, s *engine.Session) error) (err error) {
	cfg, err := authedConfig()
	if err != nil {
		return err
	}
	ecfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}
	ecfg.Passive = !live
	log, err := cliLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	s, err := engine.Dial(cfg.Server.URL, cfg.Auth.Token, ecfg, log)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Server.URL, err)
	}
	return fn(ctx, s)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
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

func presenceLabel(p domain.Presence) string {
	switch p {
	case domain.PresenceOnline:
		return color.New(color.FgGreen).Render(string(p))
	case domain.PresenceDND:
		return color.New(color.FgRed).Render(string(p))
	case domain.PresenceInvisible:
		return color.New(color.FgMagenta).Render(string(p))
	}
	return color.New(color.FgWhite).Render(string(p))
}

func statusMark(s domain.MessageStatus) string {
	switch s {
	case domain.StatusPending:
		return "…"
	case domain.StatusUnread:
		return "✓"
	case domain.StatusRead:
		return color.New(color.FgCyan).Render("✓✓")
	case domain.StatusError:
		return color.New(color.FgRed).Render("!")
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

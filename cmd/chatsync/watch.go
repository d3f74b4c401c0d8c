package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
	"chatsync/internal/state"
)

const watchHistory = 10

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [chat-id]",
	Short: "Follow new messages and presence live",
	Long: "Follow every chat, or a single one. With a chat id the chat is kept open:\n" +
		"incoming messages are marked read and each line typed on stdin is sent.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return withSession(ctx, true, func(ctx context.Context, s *engine.Session) error {
			w := &watcher{s: s, out: cmd.OutOrStdout(), seen: map[string]bool{}, loaded: map[string]bool{}}
			if len(args) == 1 {
				w.focus = args[0]
			}
			return w.run(ctx, cmd.InOrStdin())
		})
	},
}

type watcher struct {
	s      *engine.Session
	out    io.Writer
	focus  string
	seen   map[string]bool
	loaded map[string]bool
}

func (w *watcher) run(ctx context.Context, in io.Reader) error {
	// The loop rereads the store, so a dropped notification only delays output.
	changes := make(chan state.Change, 256)
	unobserve := w.s.Observe(func(c state.Change) {
		select {
		case changes <- c:
		default:
		}
	})
	defer unobserve()

	if w.focus != "" {
		msgs, err := w.s.OpenChat(ctx, w.focus)
		if err != nil {
			return err
		}
		w.loaded[w.focus] = true
		w.print(msgs)
		defer w.s.CloseChat()
	} else {
		for _, c := range w.s.Chats() {
			w.load(ctx, c.ID)
		}
	}

	var lines <-chan string
	if w.focus != "" {
		lines = readLines(ctx, in)
		fmt.Fprintln(w.out, color.New(color.FgCyan).Render("-- type a message and press enter, Ctrl-C to quit --"))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			w.send(ctx, line)
		case c := <-changes:
			w.apply(ctx, c)
		}
	}
}

func (w *watcher) apply(ctx context.Context, c state.Change) {
	switch c.Kind {
	case state.ChangeMessages:
		w.print(w.s.Messages(c.ChatID))
	case state.ChangeChat:
		if w.focus == "" && !w.loaded[c.ChatID] {
			w.load(ctx, c.ChatID)
		}
	case state.ChangePresence:
		if c.UserID == w.s.UserID() {
			return
		}
		if p, ok := w.s.Presence(c.UserID); ok {
			fmt.Fprintf(w.out, "%s %s is now %s\n", color.New(color.FgYellow).Render("*"), c.UserID, presenceLabel(p.Status))
		}
	}
}

func (w *watcher) load(ctx context.Context, chatID string) {
	msgs, err := w.s.LoadHistory(ctx, chatID, watchHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", chatID, err)
		return
	}
	w.loaded[chatID] = true
	w.print(msgs)
}

// print writes messages not shown yet. Pending sends wait for their
// confirmation so each message appears once.
func (w *watcher) print(msgs []domain.Message) {
	for _, m := range msgs {
		if w.seen[m.ID] || m.Status == domain.StatusPending {
			continue
		}
		w.seen[m.ID] = true
		if w.focus == "" {
			name := m.ChatID
			if c, ok := w.s.Chat(m.ChatID); ok && c.Name != "" {
				name = c.Name
			}
			fmt.Fprintf(w.out, "[%s] ", color.New(color.FgBlue).Render(truncate(name, 20)))
		}
		printMessage(w.out, w.s, m)
	}
}

func (w *watcher) send(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if _, err := w.s.Send(ctx, w.focus, line); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
	}
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

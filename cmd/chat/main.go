// Package main is an interactive terminal client for the chat gateway.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docchat-ai/rag-chat/internal/citations"
	"github.com/docchat-ai/rag-chat/internal/client"
	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/internal/session"
	"github.com/docchat-ai/rag-chat/pkg/logger"
)

var (
	flagGateway     string
	flagSession     string
	flagToken       string
	flagExportFile  string
	flagIdleTimeout time.Duration
	flagVerbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "chat",
		Short: "Interactive client for the rag-chat gateway",
		Long: `chat connects to a rag-chat gateway over websocket, streams assistant
responses to the terminal, and prints source citations as they arrive.
Type a message and press enter; Ctrl-D or /quit exits.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVarP(&flagGateway, "gateway", "g", "ws://localhost:8080", "gateway base URL")
	root.Flags().StringVarP(&flagSession, "session", "s", "", "session ID to resume (default: new session)")
	root.Flags().StringVar(&flagToken, "token", "", "bearer token for the websocket handshake")
	root.Flags().StringVarP(&flagExportFile, "export", "o", "", "write the session transcript to this file on exit")
	root.Flags().DurationVar(&flagIdleTimeout, "idle-timeout", 45*time.Second, "abort a stream with no frames for this long (0 disables)")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log connection events")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.NewNop()
	if flagVerbose {
		var err error
		log, err = logger.NewDevelopment()
		if err != nil {
			return err
		}
	}
	defer log.Sync()

	sessionID := flagSession
	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	}

	store := session.New(log)
	printer := newPrinter(store)

	cfg := client.Config{
		URL:               strings.TrimRight(flagGateway, "/") + "/ws/" + sessionID,
		StreamIdleTimeout: flagIdleTimeout,
		BackoffFactor:     1.5,
		MaxReconnectDelay: 30 * time.Second,
	}
	if flagToken != "" {
		cfg.RequestHeader = map[string][]string{
			"Authorization": {"Bearer " + flagToken},
		}
	}

	done := make(chan struct{})
	c := client.New(cfg, store, client.Callbacks{
		OnConnected: func() {
			fmt.Fprintf(os.Stderr, "* connected (session %s)\n", sessionID)
		},
		OnDisconnected: func(code int, reason string) {
			if reason == "" {
				reason = "connection lost"
			}
			fmt.Fprintf(os.Stderr, "* disconnected: %s\n", reason)
		},
		OnServerError: func(code, message string) {
			fmt.Fprintf(os.Stderr, "! server error [%s]: %s\n", code, message)
		},
		OnMaxReconnectAttemptsReached: func() {
			fmt.Fprintln(os.Stderr, "* giving up after repeated reconnect failures")
			close(done)
		},
	}, log)

	if err := c.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Disconnect()
	defer printer.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				break loop
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "/sources" {
				printSources(store)
				continue
			}
			if !c.SendChatMessage(text, sessionID) {
				fmt.Fprintln(os.Stderr, "! not connected, message not sent")
			}
		case <-sigs:
			break loop
		case <-done:
			break loop
		}
	}

	if flagExportFile != "" {
		data, err := store.Export()
		if err != nil {
			return fmt.Errorf("export session: %w", err)
		}
		if err := os.WriteFile(flagExportFile, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(os.Stderr, "* transcript written to %s\n", flagExportFile)
	}

	return nil
}

func printSources(store *session.Store) {
	all := store.GetAllCitations()
	if len(all) == 0 {
		fmt.Println("(no sources cited yet)")
		return
	}
	fmt.Println(citations.ExportBibliography(all))
}

// printer streams assistant message content to stdout as deltas arrive,
// tracking how much of each message has already been printed.
type printer struct {
	subs    []*session.Subscription
	printed map[string]int
}

func newPrinter(store *session.Store) *printer {
	p := &printer{printed: make(map[string]int)}

	p.subs = append(p.subs, store.Subscribe(session.EventMessageAdded, func(ev session.Event) {
		if ev.Message != nil && ev.Message.IsStreamTarget() {
			fmt.Print("\nassistant> ")
		}
	}))

	p.subs = append(p.subs, store.Subscribe(session.EventMessageUpdated, func(ev session.Event) {
		msg := ev.Message
		if msg == nil || msg.Role != model.RoleAssistant {
			return
		}
		if n := p.printed[msg.ID]; len(msg.Content) > n {
			fmt.Print(msg.Content[n:])
			p.printed[msg.ID] = len(msg.Content)
		}
		switch msg.Status {
		case model.StatusCompleted:
			fmt.Println()
			if len(msg.Citations) > 0 {
				fmt.Println("  " + citations.FormatInline(msg.Citations))
			}
		case model.StatusError:
			fmt.Println("\n! response interrupted")
		}
	}))

	return p
}

func (p *printer) Close() {
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
}

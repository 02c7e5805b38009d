// ABOUTME: Interactive console client for the CineVerse support desk.
// ABOUTME: Readline-style input over the desk service with live broker updates.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/cineverse/supportdesk/internal/catalog"
	"github.com/cineverse/supportdesk/internal/channel"
	"github.com/cineverse/supportdesk/internal/chat"
	"github.com/cineverse/supportdesk/internal/config"
	"github.com/cineverse/supportdesk/internal/desk"
	"github.com/cineverse/supportdesk/internal/identity"
	"github.com/cineverse/supportdesk/internal/wire"
)

var (
	online  = color.New(color.FgGreen)
	offline = color.New(color.FgRed)
	author  = color.New(color.FgCyan)
	pending = color.New(color.Faint)
	errText = color.New(color.FgRed)
	notice  = color.New(color.FgYellow)
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	brokerURL := flag.String("broker", "", "Broker URL override")
	catalogURL := flag.String("catalog", "", "Catalog base URL override")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *brokerURL != "" {
		cfg.Broker.URL = *brokerURL
	}
	if *catalogURL != "" {
		cfg.Catalog.BaseURL = *catalogURL
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	token, err := identity.LoadToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v (set %s or write a credentials file)\n", err, identity.TokenEnvVar)
		os.Exit(1)
	}
	self, err := identity.FromToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store := chat.NewStore(self, logger)
	cat := catalog.New(cfg.Catalog.BaseURL, token, cfg.Catalog.Timeout, logger)
	transport := channel.NewAMQPTransport(channel.AMQPConfig{
		URL:      cfg.Broker.URL,
		Exchange: cfg.Broker.Exchange,
	}, logger)
	manager := channel.NewManager(transport, wire.Normalizer{Self: self}, store.IDs, channel.Config{
		ReconnectInterval: cfg.Broker.ReconnectInterval,
		SendTopic:         cfg.Broker.SendTopic,
	}, logger)
	svc := desk.New(self, store, cat, manager, logger)

	fmt.Printf("desk-console: %s (%s)\n", self.Handle, self.Role)
	fmt.Println("Type a message to send to the active conversation. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	go printUpdates(ctx, svc)

	if err := run(ctx, svc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, svc *desk.Service) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		printPrompt(svc)

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := dispatch(ctx, svc, input); err != nil {
				errText.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue
		}

		if err := svc.Send(ctx, input); err != nil {
			switch {
			case errors.Is(err, desk.ErrDisconnected):
				errText.Println("[error] offline, message not sent")
			case errors.Is(err, chat.ErrNoActiveConversation):
				errText.Println("[error] no conversation open; /open <id> first")
			default:
				errText.Printf("[error] %v\n", err)
			}
		}
	}
}

func dispatch(ctx context.Context, svc *desk.Service, input string) error {
	cmd := input
	arg := ""
	if i := strings.IndexByte(input, ' '); i > 0 {
		cmd = input[:i]
		arg = strings.TrimSpace(input[i+1:])
	}

	switch cmd {
	case "/help":
		printHelp()
		return nil

	case "/list":
		return listConversations(svc)

	case "/open":
		if arg == "" {
			return errors.New("usage: /open <conversation-id>")
		}
		if err := svc.SelectConversation(ctx, arg); err != nil {
			return err
		}
		return printActive(svc)

	case "/back":
		svc.CloseActive()
		fmt.Println("Left the conversation")
		return nil

	case "/new":
		conv, err := svc.StartConversation(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Started conversation %s with %s\n", conv.ID, conv.DisplayName)
		return nil

	case "/claim":
		if arg == "" {
			return errors.New("usage: /claim <conversation-id>")
		}
		if err := svc.Claim(ctx, arg); err != nil {
			if errors.Is(err, catalog.ErrConflict) {
				notice.Println("Someone else claimed it first; list refreshed")
				return nil
			}
			return err
		}
		fmt.Printf("Claimed conversation %s\n", arg)
		return nil

	case "/close":
		if arg == "" {
			return errors.New("usage: /close <conversation-id>")
		}
		if err := svc.CloseConversation(ctx, arg); err != nil {
			return err
		}
		fmt.Printf("Closed conversation %s\n", arg)
		return nil

	case "/waiting":
		convs, err := svc.Waiting(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations waiting")
			return nil
		}
		fmt.Println("Waiting for a claim:")
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ID, c.DisplayName)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list          List conversations with unread counts")
	fmt.Println("  /open <id>     Open a conversation and load its history")
	fmt.Println("  /back          Leave the open conversation")
	fmt.Println("  /new           Start a support conversation (customers)")
	fmt.Println("  /claim <id>    Claim an unassigned conversation (staff)")
	fmt.Println("  /close <id>    Close a conversation (staff)")
	fmt.Println("  /waiting       List unassigned conversations (staff)")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

func listConversations(svc *desk.Service) error {
	convs := svc.Snapshot()
	if len(convs) == 0 {
		fmt.Println("No conversations")
		return nil
	}
	for _, c := range convs {
		line := fmt.Sprintf("  %s  %s", c.ID, c.DisplayName)
		if c.Subtitle != "" {
			line += " (" + c.Subtitle + ")"
		}
		if c.Status == chat.StatusClosed {
			line += "  [closed]"
		}
		if c.UnreadCount > 0 {
			line += notice.Sprintf("  %d unread", c.UnreadCount)
		}
		fmt.Println(line)
		if c.LastMessagePreview != "" {
			pending.Printf("      %s\n", truncate(c.LastMessagePreview, 60))
		}
	}
	return nil
}

func printActive(svc *desk.Service) error {
	conv, ok := svc.Active()
	if !ok {
		return chat.ErrNoActiveConversation
	}
	fmt.Printf("Conversation with %s\n", conv.DisplayName)
	for _, m := range conv.Messages {
		printMessage(m)
	}
	return nil
}

func printMessage(m chat.Message) {
	handle := m.AuthorHandle
	if m.Mine {
		handle = "you"
	}
	line := fmt.Sprintf("%s: %s", author.Sprint(handle), m.Body)
	if m.Origin == chat.OriginLocalPending {
		line += pending.Sprint("  (sending)")
	}
	fmt.Println(line)
}

// printUpdates renders live notifications from the desk service in between
// prompts. Connectivity flips and foreign messages show as they arrive.
func printUpdates(ctx context.Context, svc *desk.Service) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-svc.Updates():
			if !ok {
				return
			}
			switch u.Kind {
			case desk.UpdateConnectivity:
				if u.State == channel.StateConnected {
					online.Println("\n[online]")
				} else {
					offline.Println("\n[offline] reconnecting...")
				}
			case desk.UpdateMessage:
				if u.Message != nil && !u.Message.Mine {
					fmt.Println()
					printMessage(*u.Message)
				}
			}
		}
	}
}

func printPrompt(svc *desk.Service) {
	indicator := offline.Sprint("○")
	if svc.Connected() {
		indicator = online.Sprint("●")
	}
	if unread := svc.TotalUnread(); unread > 0 {
		indicator += notice.Sprintf(" (%d)", unread)
	}
	if conv, ok := svc.Active(); ok {
		fmt.Printf("%s [%s]> ", indicator, conv.DisplayName)
	} else {
		fmt.Printf("%s > ", indicator)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// truncate shortens s to maxLen runes, never splitting a multi-byte rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

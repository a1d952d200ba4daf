// ABOUTME: Entry point for the chat-sync client
// ABOUTME: Wires the document store, media uploader and session into a controller

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/chat-sync/internal/chat"
	"github.com/2389/chat-sync/internal/config"
	"github.com/2389/chat-sync/internal/conversation"
	"github.com/2389/chat-sync/internal/docstore"
	"github.com/2389/chat-sync/internal/media"
	"github.com/2389/chat-sync/internal/session"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the config file.
// Priority: CHAT_SYNC_CONFIG env var > XDG_CONFIG_HOME/chat-sync/config.yaml > ~/.config/chat-sync/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHAT_SYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chat-sync", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chat-sync <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run       Start an interactive chat session")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runChat(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	sess, err := buildSession(cfg.Identity)
	if err != nil {
		return fmt.Errorf("building session: %w", err)
	}
	self, _ := sess.CurrentUser()

	users := chat.NewDirectory(self)
	for _, u := range cfg.Users {
		users.Add(chat.User{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL})
	}
	var peer chat.User
	if cfg.Peer.ID != "" {
		peer = chat.User{ID: cfg.Peer.ID, Name: cfg.Peer.Name, AvatarURL: cfg.Peer.AvatarURL}
		users.Add(peer)
	}

	store, err := docstore.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	var uploader media.Uploader
	if cfg.Media.Dir != "" {
		up, err := media.NewLocalUploader(cfg.Media.Dir, logger)
		if err != nil {
			return fmt.Errorf("creating uploader: %w", err)
		}
		uploader = up
	}

	var conv *chat.Conversation
	if peer.ID != "" {
		conv = &chat.Conversation{
			Participants: []chat.User{self, peer},
			Title:        peer.Name,
		}
	}

	ctrl, err := conversation.New(conversation.Options{
		Store:        store,
		Uploader:     uploader,
		Session:      sess,
		Users:        users,
		Conversation: conv,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	defer ctrl.Close()

	gray := color.New(color.FgHiBlack)
	gray.Printf("chat-sync %s, signed in as %s", version, self.Name)
	if peer.ID != "" {
		gray.Printf(", talking to %s", peer.Name)
	}
	fmt.Println()

	updates, subID := ctrl.Subscribe(ctx)
	defer ctrl.Unsubscribe(subID)
	go renderLoop(updates, self)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			ctrl.Send(chat.Draft{Text: text})
		}
	}
}

// renderLoop prints each full-list snapshot, marking message status.
func renderLoop(updates <-chan []chat.Message, self chat.User) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	for list := range updates {
		fmt.Println()
		for _, msg := range list {
			name := msg.Author.Name
			if name == "" {
				name = msg.Author.ID
			}
			if msg.Author.ID == self.ID {
				green.Printf("%s: ", name)
			} else {
				cyan.Printf("%s: ", name)
			}
			fmt.Print(msg.Text)
			switch msg.Status {
			case chat.StatusPending:
				gray.Print("  …")
			case chat.StatusFailed:
				red.Print("  ✗")
			}
			fmt.Println()
		}
	}
}

func buildSession(id config.IdentityConfig) (session.Provider, error) {
	if id.Token != "" {
		return session.NewTokenProvider(id.Token, []byte(id.Secret))
	}
	return session.NewStatic(chat.User{
		ID:        id.ID,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
	}), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ragchat TUI - A terminal client for the ragchat retrieval-augmented
// chat server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/auth"
	"github.com/jeranaias/ragchat-tui/internal/cache"
	"github.com/jeranaias/ragchat-tui/internal/chatindex"
	"github.com/jeranaias/ragchat-tui/internal/config"
	"github.com/jeranaias/ragchat-tui/internal/convo"
	"github.com/jeranaias/ragchat-tui/internal/engine"
	"github.com/jeranaias/ragchat-tui/internal/sse"
	"github.com/jeranaias/ragchat-tui/internal/ui/chat"
	"github.com/jeranaias/ragchat-tui/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]

	cmd := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "", "tui":
		runTUI(args)
	case "login":
		if err := handleLogin(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "logout":
		if err := handleLogout(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := handleConfig(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("ragchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`ragchat - terminal client for the ragchat server

Usage:
  ragchat              Start the TUI
  ragchat login        Store server credentials
  ragchat logout       Clear stored credentials and local cache
  ragchat config       Show or edit configuration
      config list
      config get <key>
      config set <key> <value>
      config path
  ragchat version      Print version information
  ragchat help         Show this help

Configuration lives in ~/.ragchat/config.toml and can be overridden
with RAGCHAT_* environment variables.
`)
}

// =============================================================================
// TUI STARTUP
// =============================================================================

func runTUI(args []string) {
	cfg := config.Global()
	applyFlags(cfg, args)

	credDir, err := config.ConfigDir()
	if err != nil {
		fatal("could not determine config directory: %v", err)
	}
	authStore, err := auth.NewStore(credDir)
	if err != nil {
		fatal("could not open credential store: %v", err)
	}

	// First run: prompt for credentials before starting the UI.
	if !authStore.LoggedIn() {
		fmt.Println(styles.RenderInfo("No stored credentials. Let's log in first."))
		if err := promptLogin(cfg, authStore); err != nil {
			fatal("login failed: %v", err)
		}
	}

	// Client-side plumbing: REST client, conversation store, chat index,
	// stream transport, and the send coordinator on top.
	client := api.NewClient(cfg.Server.URL, authStore).
		WithMaxRetries(cfg.Server.MaxRetries)
	store := convo.NewStore(client)
	index := chatindex.New(client)
	// Local title edits show up in the sidebar without a server round trip.
	store.OnTitleChange(index.SetTitleLocal)
	transport := sse.NewTransport(cfg.Server.URL)
	coordinator := engine.New(store, index, transport, authStore)

	// Debug logging goes to a file; the TUI owns stderr while rendering.
	if cfg.Logging.Debug {
		logPath := filepath.Join(credDir, "debug.log")
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			defer f.Close()
			logger := log.New(f, "", log.LstdFlags|log.Lmicroseconds)
			coordinator.SetLogf(logger.Printf)
		}
	}

	// Local cache for conversations and drafts. Optional; the UI runs
	// without it.
	var drafts chat.DraftStore
	var localCache *cache.Cache
	if cfg.Cache.Enabled {
		path := cfg.Cache.Path
		if path == "" {
			if path, err = cache.DefaultPath(); err != nil {
				path = ""
			}
		}
		if path != "" {
			if localCache, err = cache.Open(path, cfg.Cache.MaxConversations); err == nil {
				drafts = localCache
			} else {
				fmt.Fprintf(os.Stderr, "warning: cache disabled: %v\n", err)
			}
		}
	}
	if localCache != nil {
		defer localCache.Close()
		store.SetCache(localCache)
	}

	m := chat.New(cfg, coordinator, store, index, drafts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

	// Engine events and store/index change callbacks fire on the
	// coordinator's goroutines; Program.Send marshals them onto the Bubble
	// Tea loop.
	coordinator.OnEvent(func(ev engine.Event) {
		p.Send(chat.EngineEventMsg{Event: ev})
	})
	store.OnChange(func() {
		p.Send(chat.StoreChangedMsg{})
	})
	index.OnChange(func() {
		p.Send(chat.IndexChangedMsg{})
	})

	// Reload configuration when the config file changes on disk.
	watcher, err := config.NewWatcher(nil)
	if err == nil {
		if err := watcher.Watch(); err == nil {
			defer watcher.Close()
		}
	}

	finalModel, err := p.Run()
	coordinator.Shutdown()
	if err != nil {
		fatal("TUI error: %v", err)
	}

	// Rejected credentials end the session; clear them so the next start
	// prompts for a fresh login.
	if final, ok := finalModel.(chat.Model); ok && final.AuthExpired() {
		_ = authStore.Clear()
		if localCache != nil {
			_ = localCache.Clear()
		}
		fmt.Println(styles.RenderWarning("Session expired. Run 'ragchat login' to sign in again."))
	}
}

// applyFlags applies command line overrides on top of the loaded config.
func applyFlags(cfg *config.Config, args []string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--server":
			if i+1 < len(args) {
				i++
				cfg.Server.URL = args[i]
			}
		case "--debug":
			cfg.Logging.Debug = true
		case "--no-cache":
			cfg.Cache.Enabled = false
		case "--version":
			fmt.Printf("ragchat %s\n", Version)
			os.Exit(0)
		}
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func handleLogin() error {
	cfg := config.Global()
	credDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	authStore, err := auth.NewStore(credDir)
	if err != nil {
		return err
	}
	return promptLogin(cfg, authStore)
}

// promptLogin reads a username and an API token from the terminal and
// verifies them against the server before saving.
func promptLogin(cfg *config.Config, authStore *auth.Store) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("Server [%s]: ", cfg.Server.URL)
	server, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	server = strings.TrimSpace(server)
	if server == "" {
		server = cfg.Server.URL
	}

	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)

	// SECURITY: token input with terminal echo disabled.
	fmt.Print("API token: ")
	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("could not read token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	auth.ZeroBytes(tokenBytes)
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	// Verify the credentials with a cheap authenticated call.
	client := api.NewClient(server, api.StaticToken(token))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := client.ListChats(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	if err := authStore.Save(auth.Credentials{
		Token:     token,
		ServerURL: server,
		Username:  username,
	}); err != nil {
		return err
	}

	fmt.Println(styles.RenderSuccess("Logged in. Credentials stored encrypted."))
	return nil
}

func handleLogout() error {
	credDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	authStore, err := auth.NewStore(credDir)
	if err != nil {
		return err
	}
	if err := authStore.Clear(); err != nil {
		return err
	}

	// Cached conversations belong to the session that fetched them.
	if path, err := cache.DefaultPath(); err == nil {
		if c, err := cache.Open(path, 0); err == nil {
			_ = c.Clear()
			_ = c.Close()
		}
	}

	fmt.Println(styles.RenderSuccess("Logged out."))
	return nil
}

// =============================================================================
// CONFIG SUBCOMMAND
// =============================================================================

func handleConfig(args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	cfg := config.Global()

	switch args[0] {
	case "list":
		for _, key := range config.GetAllKeys() {
			value, err := cfg.Get(key)
			if err != nil {
				continue
			}
			fmt.Printf("%-28s = %v\n", key, value)
		}
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: ragchat config get <key>")
		}
		value, err := cfg.Get(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", value)
		return nil

	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: ragchat config set <key> <value>")
		}
		if err := cfg.Set(args[1], args[2]); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		if err := config.SaveTOML(cfg, path); err != nil {
			return err
		}
		config.SetGlobal(cfg)
		fmt.Println(styles.RenderSuccess("Saved " + args[1]))
		return nil

	case "path":
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

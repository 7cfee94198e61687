// ABOUTME: Terminal chat client exercising the conversation session pipeline end to end
// ABOUTME: Provides readline-style input with colored output and slash commands

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/baylahnm/nbcon-core/internal/agents"
	"github.com/baylahnm/nbcon-core/internal/auth"
	"github.com/baylahnm/nbcon-core/internal/backend"
	"github.com/baylahnm/nbcon-core/internal/config"
	"github.com/baylahnm/nbcon-core/internal/credits"
	"github.com/baylahnm/nbcon-core/internal/invoker"
	"github.com/baylahnm/nbcon-core/internal/session"
	"github.com/baylahnm/nbcon-core/internal/store"
	"github.com/baylahnm/nbcon-core/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "nbcon.yaml", "path to config file")
	agentKey := flag.String("agent", "", "agent profile to chat with (overrides agents.default)")
	flag.Parse()

	if err := run(*configPath, *agentKey); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func run(configPath, agentKey string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	token := getToken()
	if token == "" {
		return fmt.Errorf("no access token: set NBCON_TOKEN or write ~/.config/nbcon/token")
	}
	tokens, err := auth.NewStaticTokenSource(token)
	if err != nil {
		return err
	}

	registry, err := agents.Load(cfg.Agents.Path)
	if err != nil {
		return err
	}
	if agentKey == "" {
		agentKey = cfg.Agents.Default
	}
	if _, err := registry.Resolve(agentKey); err != nil {
		return fmt.Errorf("selecting agent: %w (available: %s)", err, strings.Join(registry.Keys(), ", "))
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	var emitter *telemetry.Emitter
	if cfg.Telemetry.Enabled {
		emitter = telemetry.New(telemetry.SlogSink{Logger: logger}, cfg.Telemetry.BufferSize, logger)
		defer emitter.Close()
	}

	client := backend.New(cfg.Backend.BaseURL, tokens,
		backend.WithLogger(logger),
		backend.WithTimeouts(cfg.Backend.LoadTimeout, cfg.Backend.RunTimeout))

	gate := credits.NewGate(client, logger)
	inv := invoker.New(registry, client, db, tokens, emitter, logger)
	loader := session.NewLoader(client, logger)

	gray := color.New(color.FgHiBlack)
	controller := session.NewController(loader, client, inv, gate, session.Options{
		AgentKey: agentKey,
		Navigate: func() {
			gray.Println("conversation not found, returning to inbox")
		},
		Logger: logger,
	})
	defer controller.Close()

	return repl(controller, gate, agentKey)
}

// repl runs the interactive loop until EOF or /quit.
func repl(controller *session.Controller, gate *credits.Gate, agentKey string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	gray.Printf("chatting with %s — /open <id>, /close, /credits, /export <file>, /quit\n", agentKey)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		green.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(controller, gate, line, red, gray); quit {
				return nil
			}
			continue
		}

		if err := controller.Submit(context.Background(), line); err != nil {
			red.Printf("! %v\n", err)
			continue
		}

		messages := controller.Messages()
		if len(messages) > 0 {
			last := messages[len(messages)-1]
			if last.Role == session.RoleAssistant {
				cyan.Println(last.Content)
			}
		}
	}
	return scanner.Err()
}

// command handles one slash command. Returns true on /quit.
func command(controller *session.Controller, gate *credits.Gate, line string, red, gray *color.Color) bool {
	parts := strings.SplitN(line, " ", 2)
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/open":
		if arg == "" {
			red.Println("! usage: /open <conversation-id>")
			return false
		}
		controller.SetConversation(arg)

	case "/close":
		controller.SetConversation("")
		gray.Println("conversation closed")

	case "/credits":
		balance, err := gate.Balance(context.Background())
		if err != nil {
			red.Printf("! %v\n", err)
			return false
		}
		if balance.Unlimited {
			gray.Println("credits: unlimited plan")
		} else {
			gray.Printf("credits: %d/%d used today\n", balance.Used, balance.Limit)
		}

	case "/export":
		if arg == "" {
			red.Println("! usage: /export <file.html>")
			return false
		}
		f, err := os.Create(arg)
		if err != nil {
			red.Printf("! %v\n", err)
			return false
		}
		defer f.Close()
		if err := controller.ExportTranscript(f); err != nil {
			red.Printf("! %v\n", err)
			return false
		}
		gray.Printf("transcript written to %s\n", arg)

	default:
		red.Printf("! unknown command %s\n", parts[0])
	}
	return false
}

// getToken returns the access token from NBCON_TOKEN or ~/.config/nbcon/token
func getToken() string {
	if token := os.Getenv("NBCON_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "nbcon", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// setupLogger builds the slog logger from the logging config.
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
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

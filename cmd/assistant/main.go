// Smart-assistant is an LLM chat assistant for a web site. The model's
// replies may carry bracket directives ([EMAIL_AUTHOR:...],
// [ORDER_STATUS:...], [NOTIFY:...]) that the server parses, authorizes,
// and executes before returning the cleaned reply.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	assistant serve     Start the API server
//	assistant version   Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/api"
	"github.com/MahfuzulAlam/smart-assistant/internal/buildinfo"
	"github.com/MahfuzulAlam/smart-assistant/internal/chat"
	"github.com/MahfuzulAlam/smart-assistant/internal/config"
	"github.com/MahfuzulAlam/smart-assistant/internal/content"
	"github.com/MahfuzulAlam/smart-assistant/internal/email"
	"github.com/MahfuzulAlam/smart-assistant/internal/events"
	"github.com/MahfuzulAlam/smart-assistant/internal/kvstore"
	"github.com/MahfuzulAlam/smart-assistant/internal/llm"
	"github.com/MahfuzulAlam/smart-assistant/internal/notify"
	"github.com/MahfuzulAlam/smart-assistant/internal/orders"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger/handlers"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the assistant command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "smart-assistant - site chat assistant with directive dispatch")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: assistant [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Start the API server")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// newLogger builds a text slog.Logger at the given level, with trace
// level rendered by name.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig resolves and loads the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// runServe is the primary operating mode: it loads config, opens the
// stores, wires the trigger engine and chat service, starts the API
// server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting smart-assistant",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	logger = newLogger(stdout, level)
	verbose := level <= slog.LevelDebug

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New()

	// --- Key-value store ---
	// Settings, rate counters, audit log, and chat history all live
	// here. The sweeper reclaims expired rows in the background.
	kv, err := kvstore.NewSQLite(filepath.Join(cfg.DataDir, "assistant.db"), logger)
	if err != nil {
		return fmt.Errorf("open key-value store: %w", err)
	}
	defer kv.Close()
	kv.StartSweeper(ctx, 5*time.Minute)

	// --- Content store ---
	contentStore, err := content.NewStore(filepath.Join(cfg.DataDir, "content.db"))
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}
	defer contentStore.Close()

	// --- Order store ---
	orderStore, err := orders.NewStore(filepath.Join(cfg.DataDir, "orders.db"))
	if err != nil {
		return fmt.Errorf("open order store: %w", err)
	}
	defer orderStore.Close()

	// --- LLM client ---
	model := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second, logger)
	if err := model.Ping(ctx); err != nil {
		logger.Warn("model endpoint unreachable at startup", "base_url", cfg.LLM.BaseURL, "error", err)
	}

	// --- Mail sender ---
	var sender email.Sender
	if cfg.SMTP.Host != "" {
		sender = email.NewSMTPSender(cfg.SMTP, logger)
	} else {
		logger.Warn("smtp not configured, email directives unavailable")
	}

	// --- MQTT publisher ---
	var publisher notify.Publisher
	if cfg.MQTT.Enabled {
		mq := notify.NewMQTT(cfg.MQTT, logger)
		if err := mq.Start(ctx); err != nil {
			return fmt.Errorf("start mqtt publisher: %w", err)
		}
		publisher = mq
	}

	// --- Trigger engine ---
	settings := trigger.NewSettingsStore(kv, logger)
	audit := trigger.NewAuditLog(kv, cfg.Triggers.AuditCapacity, cfg.Triggers.AuditTTL(), logger)
	exec := trigger.NewExecutor(settings, audit, logger, bus, verbose)
	registry := trigger.NewRegistry(logger, bus)
	installed := handlers.Install(registry, handlers.Deps{
		Posts:  contentStore,
		Orders: orderStore,
		Email:  sender,
		Notify: publisher,
		Logger: logger,
	})
	logger.Info("trigger handlers installed", "count", installed)
	dispatcher := trigger.NewDispatcher(registry, exec, logger, bus)

	// --- Chat service ---
	persona := ""
	if cfg.Chat.PersonaFile != "" {
		data, err := os.ReadFile(cfg.Chat.PersonaFile)
		if err != nil {
			return fmt.Errorf("read persona file: %w", err)
		}
		persona = string(data)
	}
	limiter := trigger.NewRateLimiter(kv, logger, bus)
	chatSvc := chat.NewService(model, contentStore, dispatcher, limiter, kv, logger, bus, chat.Options{
		Persona:      persona,
		ContextItems: cfg.Chat.ContextItems,
		HistoryLimit: cfg.Chat.HistoryLimit,
		HistoryTTL:   cfg.Chat.HistoryTTL(),
		RateWindow:   cfg.Chat.RateWindow(),
		RateMax:      cfg.Chat.RateMax,
	})

	// --- API server ---
	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, chatSvc, registry, settings, audit, bus, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	return nil
}

// Cradle is a voice-driven agent for the Huckleberry baby tracker.
//
// It receives transcribed utterances from a voice relay over HTTP,
// drives an Anthropic model with baby-care tools, and keeps a live
// local copy of the child's tracked state via the tracker's push feed.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	cradle serve             Start the API server
//	cradle version           Print version and build information
//	cradle -o json version   Output version information as JSON
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
	"strings"
	"syscall"
	"time"

	"github.com/nugget/cradle-ai-agent/internal/agent"
	"github.com/nugget/cradle-ai-agent/internal/api"
	"github.com/nugget/cradle-ai-agent/internal/buildinfo"
	"github.com/nugget/cradle-ai-agent/internal/config"
	"github.com/nugget/cradle-ai-agent/internal/convlog"
	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
	"github.com/nugget/cradle-ai-agent/internal/llm"
	"github.com/nugget/cradle-ai-agent/internal/session"
	"github.com/nugget/cradle-ai-agent/internal/tools"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so that the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the cradle command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Cradle - Voice Agent for the Huckleberry Baby Tracker")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: cradle [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/cradle/config.yaml, /etc/cradle/config.yaml")
	return nil
}

// runServe is the primary operating mode: loads config, authenticates
// with the tracker, starts the push feed and background workers, and
// serves the relay API until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The feed, sweeper, and pruner goroutines observe the cancel
//  4. The conversation log database closes via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Cradle", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that we know the desired level. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = newLogger(stdout, level)
	}
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
		"huckleberry_url", cfg.Huckleberry.URL,
	)

	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is required")
	}
	if cfg.Huckleberry.URL == "" || cfg.Huckleberry.Email == "" || cfg.Huckleberry.Password == "" {
		return errors.New("huckleberry url, email, and password are required")
	}

	loc := time.Local
	if cfg.Huckleberry.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Huckleberry.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Huckleberry.Timezone, err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracker client and state cache ---
	cache := huckleberry.NewStateCache(logger)
	hb := huckleberry.NewClient(cfg.Huckleberry.URL, cfg.Huckleberry.Email, cfg.Huckleberry.Password, loc, cache, logger)

	// Authenticate eagerly so the first utterance doesn't pay the login
	// cost. Failure here is not fatal: the feed loop keeps retrying and
	// the API reports 503 until login succeeds.
	{
		authCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := hb.Authenticate(authCtx)
		cancel()
		if err != nil {
			logger.Warn("initial authentication failed, will retry", "error", err)
		}
	}

	// --- Push feed ---
	// Maintains the websocket to the tracker and hands snapshots to the
	// ingestor, which stamps them into the cache.
	feed := huckleberry.NewFeed(hb, logger)
	go feed.Run(ctx)

	ingestor := huckleberry.NewIngestor(cache, logger)
	go ingestor.Run(ctx, feed.Snapshots())

	// --- Sessions ---
	sessions := session.NewStore(cfg.Session.TTL(), cfg.Session.BusyWait(), logger)
	go sessions.Run(ctx)

	// --- Conversation log ---
	// Optional transcript persistence. Disabled when no path is set.
	var transcripts *convlog.Store
	if cfg.ConversationLog.Path != "" {
		transcripts, err = convlog.Open(cfg.ConversationLog.Path, cfg.ConversationLog.Retention(), logger)
		if err != nil {
			return fmt.Errorf("open conversation log %s: %w", cfg.ConversationLog.Path, err)
		}
		defer transcripts.Close()
		go transcripts.Run(ctx)
		logger.Info("conversation log opened", "path", cfg.ConversationLog.Path)
	}

	// --- Agent loop ---
	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	registry := tools.NewRegistry(hb, logger)

	loop := agent.New(agent.Config{
		LLM:             llmClient,
		Registry:        registry,
		Sessions:        sessions,
		HB:              hb,
		ConvLog:         transcripts,
		Model:           cfg.Anthropic.Model,
		ClassifierModel: cfg.Anthropic.ClassifierModel,
		MaxToolRounds:   cfg.Agent.MaxToolRounds,
		MessageTimeout:  cfg.Agent.MessageTimeout(),
		Logger:          logger,
	})

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, hb, sessions, logger)
	server.SetFeed(feed)
	server.SetConvLog(transcripts)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// Command squint runs the design QA pipeline: it renders reference frames
// from a design document, captures the live page, compares the two, runs
// the DOM validator, and optionally files tickets for the findings.
//
// Usage:
//
//	squint -figma <file-id-or-url> -url https://site.example/   # one run
//	squint -config squint.yaml -figma ... -url ... -dispatch    # run and file tickets
//	squint -config squint.yaml -history 10                      # show recent runs
//	squint -config squint.yaml -mcp                             # serve tools over MCP stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/squint-dev/squint/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to squint.yaml config file")
	designRef := flag.String("figma", "", "design file id or URL")
	pageURL := flag.String("url", "", "live page URL to inspect")
	dispatch := flag.Bool("dispatch", false, "file tracker tickets for detected issues")
	serveMCP := flag.Bool("mcp", false, "serve the pipeline tools over MCP stdio")
	historyN := flag.Int("history", 0, "show the N most recent runs and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *designRef, *pageURL, *dispatch, *serveMCP, *historyN); err != nil {
		logger.Error("squint: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, designRef, pageURL string, dispatch, serveMCP bool, historyN int) error {
	// .env is optional; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &pipeline.Config{}
	if configPath != "" {
		loaded, err := pipeline.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.FromEnv()

	orch, err := pipeline.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer orch.Close()

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "squint",
			Version: "1.0.0",
		}, nil)
		orch.RegisterMCP(srv)
		logger.Info("squint: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	if historyN > 0 {
		runs, err := orch.History(ctx, historyN)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		return printJSON(runs)
	}

	if designRef == "" || pageURL == "" {
		flag.Usage()
		return fmt.Errorf("both -figma and -url are required for a run")
	}

	res, err := orch.Run(ctx, designRef, pageURL, dispatch)
	if err != nil {
		if res != nil && res.Aborted {
			printJSON(res)
		}
		return fmt.Errorf("run: %w", err)
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command tiller is the interactive front-end for the steering core: lines
// from stdin stream into the system, results stream back to stdout, and the
// session stays steerable the whole time.
//
// Usage:
//
//	tiller [--config tiller.toml] [--api-key KEY] [--html]
//
// Lines are sent as raw input (strict JSON envelopes and loose text both
// work). Slash shortcuts bypass loose parsing: /calc EXPR, /read PATH,
// /search URL, /status, /stats. "quit" exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	tiller "github.com/tillerhq/tiller"
	"github.com/tillerhq/tiller/delivery"
	historypg "github.com/tillerhq/tiller/history/postgres"
	historysqlite "github.com/tillerhq/tiller/history/sqlite"
	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/model/openaihttp"
	"github.com/tillerhq/tiller/observer"
	"github.com/tillerhq/tiller/tools"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to tiller.toml")
		apiKey     = flag.String("api-key", "", "model API key (overrides AI_API_KEY)")
		htmlOut    = flag.Bool("html", false, "render assistant output as HTML")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	cfg := config.Load(*configPath)
	if *apiKey != "" {
		cfg.Model.APIKey = *apiKey
		if cfg.Fallback.APIKey == "" {
			cfg.Fallback.APIKey = *apiKey
		}
	}
	if cfg.Model.APIKey == "" {
		fmt.Fprintln(os.Stderr, "tiller: no API key (use --api-key or AI_API_KEY)")
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	// Observability.
	var tracer tiller.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tiller: observer init: %v\n", err)
			return 1
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
	}

	// Model clients.
	connect := time.Duration(cfg.Timeouts.ModelConnectMS) * time.Millisecond
	read := time.Duration(cfg.Timeouts.ModelReadMS) * time.Millisecond
	var primary tiller.ModelClient = openaihttp.New(
		cfg.Model.APIKey, cfg.Model.Model, cfg.Model.BaseURL,
		openaihttp.WithName("primary"),
		openaihttp.WithTimeouts(connect, read),
		openaihttp.WithLogger(logger),
	)
	var fallback tiller.ModelClient
	if cfg.Fallback.Model != "" {
		fallback = openaihttp.New(
			cfg.Fallback.APIKey, cfg.Fallback.Model, baseOr(cfg.Fallback.BaseURL, cfg.Model.BaseURL),
			openaihttp.WithName("fallback"),
			openaihttp.WithTimeouts(connect, read),
			openaihttp.WithLogger(logger),
		)
	}
	if inst != nil {
		primary = observer.WrapModel(primary, inst)
		if fallback != nil {
			fallback = observer.WrapModel(fallback, inst)
		}
	}

	// Tool engine.
	var engine tiller.ToolEngine = tools.NewEngine(
		tools.WithSandbox(cfg.Tools.Sandbox),
		tools.WithLogger(logger),
	)
	if inst != nil {
		engine = observer.WrapTools(engine, inst)
	}

	// Optional persistent history.
	store, cleanup, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tiller: history: %v\n", err)
		return 1
	}
	if cleanup != nil {
		defer cleanup()
	}

	opts := []tiller.SystemOption{
		tiller.WithToolEngine(engine),
		tiller.WithLogger(logger),
		tiller.WithMaxRetries(cfg.Retry.MaxRetries),
		tiller.WithRetryDelays(
			time.Duration(cfg.Retry.TransientDelayMS)*time.Millisecond,
			time.Duration(cfg.Retry.UnknownDelayMS)*time.Millisecond,
			time.Duration(cfg.Retry.RateLimitMS)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelayMS)*time.Millisecond,
		),
		tiller.WithJitterRange(cfg.Retry.JitterLow, cfg.Retry.JitterHigh),
		tiller.WithTriggerTokens(cfg.Tools.TriggerTokens...),
		tiller.WithDriverTimeout(time.Duration(cfg.Timeouts.DriverCmdMS) * time.Millisecond),
		tiller.WithCompactor(tiller.NewCompactor(
			tiller.CompactorBudget(cfg.Compaction.MaxTokenLimit, cfg.Compaction.TokenRatio),
			tiller.CompactorMsgCap(cfg.Compaction.MsgCount),
			tiller.CompactorLogger(logger),
		)),
	}
	if fallback != nil {
		opts = append(opts, tiller.WithFallbackModel(fallback))
	}
	if store != nil {
		opts = append(opts, tiller.WithHistoryStore(store))
	}
	if tracer != nil {
		opts = append(opts, tiller.WithTracer(tracer))
	}

	sys := tiller.NewSteeringSystem(primary, opts...)
	if err := sys.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "tiller: %v\n", err)
		return 1
	}
	defer sys.Close()

	var render delivery.Renderer = delivery.Text{}
	if *htmlOut {
		render = delivery.NewHTML()
	}
	go printResults(ctx, sys, render)

	fmt.Println("tiller ready — type a directive, /calc EXPR, /read PATH, /search URL, or quit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return 0
		case strings.HasPrefix(line, "/calc "):
			sys.SendCommand(tiller.Command{Mode: tiller.CmdPrompt, Value: "Calculate " + line[len("/calc "):]})
		case strings.HasPrefix(line, "/read "):
			sys.SendCommand(tiller.Command{Mode: tiller.CmdPrompt, Value: "Read " + line[len("/read "):]})
		case strings.HasPrefix(line, "/search "):
			sys.SendCommand(tiller.Command{Mode: tiller.CmdPrompt, Value: "Search " + line[len("/search "):]})
		case line == "/status":
			sys.SendCommand(tiller.Command{Mode: tiller.CmdSystem, Value: "agent-status"})
		case line == "/stats":
			sys.SendCommand(tiller.Command{Mode: tiller.CmdSystem, Value: "memory-stats"})
		default:
			sys.SendInput(line + "\n")
		}
	}
	return 0
}

// printResults streams results to stdout until the output pipe completes.
func printResults(ctx context.Context, sys *tiller.SteeringSystem, render delivery.Renderer) {
	for r := range sys.Output().Iter(ctx) {
		switch r.Kind {
		case tiller.KindStreamStart:
			// Quiet marker; directives are short-lived in a terminal session.
		case tiller.KindAssistant, tiller.KindToolResult, tiller.KindSystemResult:
			fmt.Println(render.Render(r.Content))
		case tiller.KindError:
			fmt.Printf("error: %s\n", r.Content)
		default:
			fmt.Printf("[%s] %s\n", r.Kind, r.Content)
		}
	}
}

// openHistory wires the configured persistent store, if any.
func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (tiller.HistoryStore, func(), error) {
	switch cfg.Backend {
	case "":
		return nil, nil, nil
	case "sqlite":
		s := historysqlite.New(cfg.Path, historysqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := historypg.New(pool, historypg.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func baseOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Command hintstream is the recognizer service: it loads the static models,
// builds the acoustic engine, and serves health and metrics endpoints while
// streams are driven in-process through the app package.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hintstream/internal/app"
	"github.com/MrWong99/hintstream/internal/config"
	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/engine/mock"
	"github.com/MrWong99/hintstream/internal/health"
	"github.com/MrWong99/hintstream/internal/model"
	"github.com/MrWong99/hintstream/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

// logLevel backs the default logger so the level can change on config reload.
var logLevel slog.LevelVar

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "hintstream.yaml", "path to the YAML configuration file")
	warm := flag.String("warm", "", "comma-separated hint words to compile at startup")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hintstream: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hintstream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("hintstream starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Health endpoints come up before the slow model load ──────────────────
	var modelsReady, engineReady health.Flag
	mux := http.NewServeMux()
	health.New(modelsReady.Checker("models"), engineReady.Checker("engine")).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── Models ────────────────────────────────────────────────────────────────
	models, err := model.Load(ctx, cfg.Models)
	if err != nil {
		modelsReady.Fail(err)
		slog.Error("failed to load models", "err", err)
		return 1
	}
	modelsReady.Set()

	// ── Engine ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg, models)
	eng, err := reg.CreateEngine(cfg.Engine)
	if err != nil {
		engineReady.Fail(err)
		slog.Error("failed to build engine", "err", err, "registered", reg.EngineNames())
		return 1
	}
	engineReady.Set()

	printStartupSummary(cfg, models)

	application, err := app.New(ctx, cfg, models, eng, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = eng.Close()
		return 1
	}
	if *warm != "" {
		if err := application.Warm(ctx, splitWords(*warm)); err != nil {
			slog.Warn("hint warm-up failed", "err", err)
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, err := config.Watch(ctx, *configPath, onConfigChange); err != nil {
		slog.Warn("config watcher disabled", "err", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			slog.Error("http server error", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires the engine factories that ship with hintstream
// into reg. Unless its options say otherwise, the mock engine adopts the
// decoder sample rate and the model's nonterminal offset.
func registerBuiltinEngines(reg *config.Registry, cfg *config.Config, models *model.Models) {
	reg.RegisterEngine("mock", func(entry config.ProviderEntry) (engine.Engine, error) {
		opts := map[string]any{
			"sample_rate":           cfg.Decoder.SampleRate,
			"nonterm_phones_offset": int(models.NontermPhonesOffset),
		}
		for k, v := range entry.Options {
			opts[k] = v
		}
		return mock.Factory(opts)
	})
}

// ── Config reload ─────────────────────────────────────────────────────────────

func onConfigChange(d config.ConfigDiff, _ *config.Config) {
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, models *model.Models) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       hintstream - startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engine", cfg.Engine.Name)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Decoder.SampleRate))
	printRow("Chunk", fmt.Sprintf("%d samples", cfg.Decoder.ChunkSize()))
	printRow("Words", fmt.Sprint(models.Words.Len()))
	printRow("Lexicon", fmt.Sprint(models.Lexicon.Len()))
	printRow("Hint cache", fmt.Sprint(cfg.Hints.CacheSize))
	printRow("N-best", fmt.Sprint(cfg.Lattice.Nbest))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	logLevel.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// splitWords splits a comma-separated flag value, dropping empty entries.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
}

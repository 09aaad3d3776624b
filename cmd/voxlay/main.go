// Command voxlay runs the voice question-answer pipeline behind the overlay
// UI: it accepts finished recordings over a local HTTP API, transcribes them,
// streams an answer from a local or remote model with fallback, and pushes
// progress events over a WebSocket.
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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlay/voxlay/internal/config"
	"github.com/voxlay/voxlay/internal/event"
	"github.com/voxlay/voxlay/internal/history"
	"github.com/voxlay/voxlay/internal/observe"
	"github.com/voxlay/voxlay/internal/recording"
	"github.com/voxlay/voxlay/internal/resilience"
	"github.com/voxlay/voxlay/internal/server"
	"github.com/voxlay/voxlay/internal/settings"
	"github.com/voxlay/voxlay/internal/voice"
	"github.com/voxlay/voxlay/pkg/provider/generate"
	genollama "github.com/voxlay/voxlay/pkg/provider/generate/ollama"
	genopenai "github.com/voxlay/voxlay/pkg/provider/generate/openai"
	"github.com/voxlay/voxlay/pkg/provider/transcribe/whisperhttp"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlay: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlay: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voxlay starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"generation_backend", cfg.Generation.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics provider. The prometheus registry is scraped via /metrics on the
	// command API.
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxlay",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics provider shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// Providers.
	transcriber, err := whisperhttp.New(cfg.Transcription.Endpoint,
		whisperhttp.WithTimeout(cfg.Transcription.Timeout))
	if err != nil {
		slog.Error("failed to create transcription provider", "err", err)
		return 1
	}

	generator, err := buildGenerator(cfg.Generation)
	if err != nil {
		slog.Error("failed to create generation provider", "err", err)
		return 1
	}

	// Stores and event bus.
	set := settings.New(cfg.Settings.Path)
	defer set.Flush()

	hist := history.NewStore(cfg.Voice.MaxHistoryTurns)
	hist.SetEnabled(set.HistoryEnabled())

	bus := event.NewBus(0)

	var recorder *recording.Writer
	if cfg.Voice.RecordingsDir != "" {
		recorder = recording.NewWriter(cfg.Voice.RecordingsDir)
	}

	breakers := resilience.NewModelBreakers(resilience.Config{
		MaxFailures: cfg.Generation.BreakerMaxFailures,
		Cooldown:    cfg.Generation.BreakerCooldown,
	})

	orch := voice.New(
		voice.Config{
			DefaultLanguage:   cfg.Transcription.DefaultLanguage,
			FallbackModels:    cfg.Generation.FallbackModels,
			HistoryCharBudget: cfg.Voice.HistoryCharBudget,
			AttemptTimeout:    cfg.Generation.AttemptTimeout,
		},
		voice.Deps{
			Transcriber: transcriber,
			Generator:   generator,
			History:     hist,
			Settings:    set,
			Bus:         bus,
			Recorder:    recorder,
			Breakers:    breakers,
			Metrics:     metrics,
		},
	)

	srv := server.New(cfg.Server.ListenAddr, orch, hist, set, bus,
		server.Checker{Name: "transcription", Check: probeURL(cfg.Transcription.Endpoint)},
		server.Checker{Name: "generation", Check: probeURL(cfg.Generation.BaseURL)},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	slog.Info("voxlay ready")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildGenerator constructs the configured streaming generation backend.
func buildGenerator(cfg config.GenerationConfig) (generate.Provider, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		return genollama.New(cfg.BaseURL)
	case config.BackendOpenAI:
		var opts []genopenai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, genopenai.WithBaseURL(cfg.BaseURL))
		}
		return genopenai.New(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// probeURL returns a readiness check that issues a GET against base and
// accepts any HTTP response as proof of life.
func probeURL(base string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if base == "" {
			return nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Command wolfa runs a real-time voice conversation with a hosted voice
// model from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wolfa/internal/config"
	"github.com/MrWong99/wolfa/internal/health"
	"github.com/MrWong99/wolfa/internal/observe"
	"github.com/MrWong99/wolfa/internal/session"
	"github.com/MrWong99/wolfa/internal/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "wolfa.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	autoStart := flag.Bool("start", false, "start a session immediately")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watchable, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wolfa: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("wolfa starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider and devices ──────────────────────────────────────────────────
	provider, err := config.NewDefaultRegistry().CreateS2S(cfg.Provider)
	if err != nil {
		slog.Error("failed to build provider", "err", err)
		return 1
	}

	var sess *session.Session
	platform := cfg.Audio.Platform(func(err error) { sess.DeviceFailed(err) })

	store := ui.NewStore()
	sess = session.New(platform, provider, sessionConfig(cfg), session.WithStore(store))

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sess.Run(ctx) })

	g.Go(func() error {
		return ui.NewConsole(os.Stdin, os.Stdout, store, sess, cfg.Persona.Name).Run(ctx)
	})

	var readiness []health.Checker
	if watchable {
		w, err := config.NewWatcher(*configPath, func(_, updated *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
			}
			if d.PersonaChanged || d.MeterChanged || d.HistoryLimitChanged {
				if err := sess.Reconfigure(sessionConfig(updated)); err != nil {
					slog.Warn("failed to apply reloaded config", "err", err)
				}
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(ctx) })
			readiness = append(readiness, health.LastError("config", w.Err))
		}
	}

	if cfg.Server.ListenAddr != "" {
		srv := newServer(ctx, cfg, store, sess, tel.MetricsHandler, readiness...)
		g.Go(func() error { return serve(srv, cfg.Server.TLS) })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *autoStart {
		g.Go(func() error {
			if err := sess.Start(); err != nil {
				slog.Warn("auto start failed", "err", err)
			}
			return nil
		})
	}

	slog.Info("ready, type \"start\" to summon the ghost")

	if err := g.Wait(); err != nil && !errors.Is(err, ui.ErrQuit) && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads path. A missing default config file yields the built-in
// defaults; watchable reports whether the file exists and can be reloaded.
func loadConfig(path string) (cfg *config.Config, watchable bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		return cfg, false, err
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return nil, false, err
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Remote:       cfg.SessionConfig(),
		Meter:        cfg.Audio.Meter.Meter(),
		QueueSize:    cfg.Audio.Capture.QueueSize,
		HistoryLimit: cfg.Transcript.HistoryLimit,
		Greeting:     cfg.Persona.SpeaksFirst(),
	}
}

// ── HTTP surface ──────────────────────────────────────────────────────────────

func newServer(ctx context.Context, cfg *config.Config, store *ui.Store, sess *session.Session, metrics http.Handler, extra ...health.Checker) *http.Server {
	checkers := []health.Checker{
		health.Binary("ffmpeg", cfg.Audio.Capture.FFmpegPath),
		health.Credential("api_key", cfg.Provider.APIKey),
		{Name: "session", Check: func(context.Context) error {
			_, err := sess.History()
			return err
		}},
	}
	if cfg.Audio.Playback.Backend == config.BackendFFplay {
		checkers = append(checkers, health.Binary("ffplay", cfg.Audio.Playback.FFplayPath))
	}
	checkers = append(checkers, extra...)

	mux := http.NewServeMux()
	ui.Register(mux, store)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", metrics)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler: observe.Middleware(observe.DefaultMetrics(),
			observe.WithRoutes("/state", "/healthz", "/readyz", "/metrics"),
			observe.WithSessionState(func() string { return store.Status().String() }),
		)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serve(srv *http.Server, tls *config.TLSConfig) error {
	slog.Info("http server listening", "addr", srv.Addr, "tls", tls != nil)
	var err error
	if tls != nil {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          wolfa: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", providerLabel(cfg.Provider))
	printRow("Persona", cfg.Persona.Name+" / "+cfg.Persona.Voice)
	printRow("Microphone", fmt.Sprintf("%d Hz / %d", cfg.Audio.Capture.SampleRate, cfg.Audio.Capture.FrameSize))
	printRow("Speaker", fmt.Sprintf("%s @ %d Hz", cfg.Audio.Playback.Backend, cfg.Audio.Playback.SampleRate))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(p config.ProviderEntry) string {
	if p.Model == "" {
		return p.Name
	}
	return p.Name + " / " + p.Model
}

func printRow(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

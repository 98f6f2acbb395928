// Command whisperaloudd is the WhisperAloud background dictation daemon:
// it owns the microphone, runs the DSP pipeline and transcriber, persists
// history and exposes control over D-Bus and the internal NATS bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fede/whisperaloud/internal/bus"
	"github.com/fede/whisperaloud/internal/capture"
	"github.com/fede/whisperaloud/internal/clipboard"
	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/control"
	"github.com/fede/whisperaloud/internal/history"
	"github.com/fede/whisperaloud/internal/natsserver"
	"github.com/fede/whisperaloud/internal/runtime"
	"github.com/fede/whisperaloud/internal/session"
	"github.com/fede/whisperaloud/internal/transcriber"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", config.ExpandHome("~/.config/whisperaloud/config.json"), "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadOrInitConfig(configPath, logger)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Control.SingleInstance {
		if running, _ := control.IsRunning(cfg.Control); running {
			logger.Error("another whisperaloudd instance already owns the control bus name",
				slog.String("bus_name", cfg.Control.BusName))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nsrv, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to start embedded NATS server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer nsrv.Shutdown()

	busc, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to connect to internal bus", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer busc.Close()

	store, err := history.Open(ctx, cfg.Persistence, logger)
	if err != nil {
		logger.Error("failed to open history store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	archiver := history.NewArchiver(cfg.Persistence)

	source, err := newCaptureSource(cfg.Audio.CaptureMode)
	if err != nil {
		logger.Error("failed to configure capture source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	trans, err := newTranscriber(cfg.Transcriber)
	if err != nil {
		logger.Error("failed to configure transcriber", slog.String("error", err.Error()))
		os.Exit(1)
	}

	clip, err := newClipboard(cfg.Clipboard)
	if err != nil {
		logger.Error("failed to configure clipboard", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctrl := session.New(cfg, source, trans, store, archiver, busc, clip, newTranscriber, logger)

	surface, err := control.Serve(cfg.Control, configPath, ctrl, busc, stop, logger)
	if err != nil {
		logger.Error("failed to publish D-Bus control surface", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer surface.Close()

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("controller shutdown failed", slog.String("error", err.Error()))
	}
	cancelShutdown()

	logger.Info("shutdown complete")
}

func loadOrInitConfig(path string, log *slog.Logger) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
			return cfg, fmt.Errorf("create config directory: %w", err)
		}
		if err := config.Save(path, cfg); err != nil {
			return cfg, fmt.Errorf("write default config: %w", err)
		}
		log.Info("wrote default config", slog.String("path", path))
		return cfg, nil
	}
	return config.Load(path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func newCaptureSource(mode string) (capture.Source, error) {
	switch mode {
	case "mock":
		return capture.NewMock(100), nil
	case "malgo", "":
		return capture.NewMalgoSource(), nil
	default:
		return nil, fmt.Errorf("unknown audio.capture_mode %q", mode)
	}
}

func newTranscriber(cfg config.TranscriberConfig) (transcriber.Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return transcriber.NewMock(), nil
	case "exec":
		return transcriber.NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unknown transcriber.mode %q", cfg.Mode)
	}
}

func newClipboard(cfg config.ClipboardConfig) (clipboard.Writer, error) {
	switch cfg.Mode {
	case "mock":
		return clipboard.NewMock(), nil
	case "exec":
		return clipboard.NewExecWriter(cfg)
	default:
		return nil, fmt.Errorf("unknown clipboard.mode %q", cfg.Mode)
	}
}

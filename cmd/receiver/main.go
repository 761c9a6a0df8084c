package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/djsamseng/Ray/internal/config"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/server"
	"github.com/djsamseng/Ray/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "ray-receiver"
	serviceVersion    = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

// options holds command line values that override the configuration file
type options struct {
	configPath     string
	host           string
	skip           int
	arMode         bool
	record         bool
	playAudio      bool
	replayPath     string
	replayInterval time.Duration
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)

	fs.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	fs.StringVar(&opts.host, "host", "", "Device host name or address")
	fs.IntVar(&opts.skip, "skip", 0, "Samples between synchronization points")
	fs.BoolVar(&opts.arMode, "armode", false, "Device streams AR depth (256-wide rows)")
	fs.BoolVar(&opts.record, "record", false, "Record samples to the configured recording file")
	fs.BoolVar(&opts.playAudio, "playaudio", false, "Enable the audio side channel and play it")
	fs.StringVar(&opts.replayPath, "replay", "", "Replay a recording instead of connecting to a device")
	fs.DurationVar(&opts.replayInterval, "replay-interval", 500*time.Millisecond, "Delay between replayed samples")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs, nil
}

// applyOverrides copies explicitly set flags onto the loaded configuration
func applyOverrides(cfg *config.Config, opts *options, fs *pflag.FlagSet) error {
	if fs.Changed("host") {
		cfg.Device.Host = opts.host
	}
	if fs.Changed("skip") {
		cfg.Stream.Skip = opts.skip
	}
	if fs.Changed("armode") {
		cfg.Stream.Mode = "standard"
		if opts.arMode {
			cfg.Stream.Mode = "ar"
		}
	}
	if fs.Changed("record") {
		cfg.Recording.Enabled = opts.record
	}
	if opts.playAudio {
		cfg.Audio.Enabled = true
	}
	return cfg.Validate()
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := applyOverrides(cfg, opts, fs); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid command line overrides: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Service starting",
		slog.String("version", serviceVersion),
		slog.String("config_path", opts.configPath),
	)

	code := 0
	if err := execute(cfg, opts, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		code = 1
	}

	if err := closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
	}
	os.Exit(code)
}

// execute runs replay or live mode until it finishes or a signal arrives
func execute(cfg *config.Config, opts *options, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.replayPath != "" {
		if err := runReplay(ctx, cfg, opts.replayPath, opts.replayInterval, logger); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		return nil
	}
	return run(ctx, cfg, opts, logger)
}

// run connects to the device and processes samples until a signal arrives
// or the primary pipeline ends
func run(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) error {
	logger.Info("Configuration loaded",
		slog.String("stream_address", cfg.Device.StreamAddress()),
		slog.String("mode", cfg.Stream.Mode),
		slog.Int("skip", cfg.Stream.Skip),
		slog.Bool("audio", cfg.Audio.Enabled),
		slog.Bool("recording", cfg.Recording.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	pipelines, err := buildPipelines(ctx, cfg, opts.playAudio, logger, appMetrics)
	if err != nil {
		return err
	}
	defer pipelines.Close(logger)

	streamMgr, err := stream.NewManager(logger, pipelines.stop, stream.DefaultGracePeriod, pipelines.primary, pipelines.side...)
	if err != nil {
		return fmt.Errorf("failed to create stream manager: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		var recorder server.RecorderStatsProvider
		if pipelines.recorder != nil {
			recorder = pipelines.recorder
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, cfg, streamMgr, recorder, appMetrics)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if err := streamMgr.Start(ctx); err != nil {
		return err
	}

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-streamMgr.Done():
		logger.Info("Pipelines finished")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	runErr := streamMgr.Stop(shutdownCtx)

	for _, info := range streamMgr.GetAllPipelines() {
		logger.Info("Final pipeline statistics",
			slog.String("pipeline", info.Name),
			slog.String("state", info.State.String()),
			slog.Uint64("connects", info.Connects),
			slog.Uint64("frames", info.Frames),
			slog.Uint64("unknown_frames", info.UnknownFrames),
			slog.Uint64("decode_errors", info.DecodeErrors),
			slog.Uint64("delivered", info.Delivered),
			slog.Uint64("sync_points", info.SyncPoints),
		)
	}

	logger.Info("Service stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// initLogger builds the service logger from cfg. The returned func closes
// the log file when output is a path and is a no-op otherwise.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	closeLog := func() error { return nil }
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closeLog = file.Close
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName)), closeLog, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/djsamseng/Ray/internal/emulator"
	"github.com/djsamseng/Ray/internal/message"
)

func main() {
	var (
		host        = pflag.String("host", "127.0.0.1", "Address to listen on")
		streamPort  = pflag.Int("stream-port", 10001, "Primary stream port")
		audioPort   = pflag.Int("audio-port", 10002, "Audio side channel port")
		arMode      = pflag.Bool("armode", false, "Send AR depth (256-wide rows)")
		fps         = pflag.Float64("fps", 10, "Primary stream messages per second")
		frames      = pflag.Int("frames", 0, "Messages per connection, 0 = unlimited")
		dropAfter   = pflag.Int("drop-after", 0, "Close each connection after this many messages, 0 = never")
		noAudio     = pflag.Bool("no-audio", false, "Do not serve the audio side channel")
		depthHeight = pflag.Int("depth-height", 240, "Depth rows per sample")
		logLevel    = pflag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *host, *streamPort, *audioPort, *arMode, *fps, *frames, *dropAfter, !*noAudio, *depthHeight); err != nil {
		logger.Error("Emulator failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, host string, streamPort, audioPort int, arMode bool, fps float64, frames, dropAfter int, withAudio bool, depthHeight int) error {
	if fps <= 0 {
		return fmt.Errorf("fps must be positive, got %f", fps)
	}

	genCfg := emulator.DefaultGeneratorConfig()
	genCfg.DepthHeight = depthHeight
	if arMode {
		genCfg.Mode = message.ModeAR
	}
	gen, err := emulator.NewGenerator(genCfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	type endpoint struct {
		port   int
		server *emulator.Server
	}
	var endpoints []endpoint

	streamSrv, err := emulator.NewServer(emulator.StreamConfig{
		Name:      "stream",
		Interval:  time.Duration(float64(time.Second) / fps),
		Frames:    frames,
		DropAfter: dropAfter,
	}, gen.Sample, logger)
	if err != nil {
		return err
	}
	endpoints = append(endpoints, endpoint{port: streamPort, server: streamSrv})

	if withAudio {
		chunk := time.Duration(float64(time.Second) * float64(genCfg.ChunkSize) / float64(genCfg.SampleRate))
		audioSrv, err := emulator.NewServer(emulator.StreamConfig{
			Name:      "audio",
			Interval:  chunk,
			Frames:    frames,
			DropAfter: dropAfter,
		}, gen.Audio, logger)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, endpoint{port: audioPort, server: audioSrv})
	}

	logger.Info("Emulator starting",
		slog.String("mode", genCfg.Mode.String()),
		slog.Float64("fps", fps),
		slog.Bool("audio", withAudio),
	)

	var wg sync.WaitGroup
	errs := make([]error, len(endpoints))
	for i, ep := range endpoints {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(ep.port)))
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to listen on port %d: %w", ep.port, err)
		}

		wg.Add(1)
		go func(i int, srv *emulator.Server) {
			defer wg.Done()
			errs[i] = srv.Serve(ctx, ln)
			cancel()
		}(i, ep.server)
	}

	wg.Wait()
	logger.Info("Emulator stopped")
	return errors.Join(errs...)
}

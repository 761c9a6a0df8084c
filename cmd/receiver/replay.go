package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/djsamseng/Ray/internal/config"
	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/pipeline"
	"github.com/djsamseng/Ray/internal/sink"
)

// runReplay logs the samples of a recording at a fixed interval. When Redis is
// enabled the samples are published as if they came from the device.
func runReplay(ctx context.Context, cfg *config.Config, path string, interval time.Duration, logger *slog.Logger) error {
	reader, err := sink.OpenRecording(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	logger.Info("Replaying recording",
		slog.String("path", path),
		slog.String("compression", reader.Compression().String()),
		slog.Duration("interval", interval),
	)

	sinks := []pipeline.Sink[*message.Sample]{sink.NewLogSink(logger, slog.LevelInfo)}
	if cfg.Redis.Enabled {
		client, err := sink.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()

		publisher, err := sink.NewPublisher(client, sink.PublisherConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Pipeline:  "replay",
			TTL:       cfg.Redis.GetTTLDuration(),
		}, logger, nil)
		if err != nil {
			return err
		}
		sinks = append(sinks, publisher)
	}
	out := sink.NewFanout(sinks...)

	return replay(ctx, reader, out, interval, logger)
}

// replay delivers every record of reader to out, waiting interval between records
func replay(ctx context.Context, reader *sink.RecordingReader, out pipeline.Sink[*message.Sample], interval time.Duration, logger *slog.Logger) error {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	count := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			logger.Info("Replay finished", slog.Int("samples", count))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read record %d: %w", count, err)
		}

		sample, err := rec.Sample()
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Sequence, err)
		}

		sampleCtx := pipeline.WithSessionID(ctx, rec.SessionID)
		if err := out.Deliver(sampleCtx, sample); err != nil {
			logger.Warn("Failed to deliver replayed sample",
				slog.Uint64("seq", rec.Sequence),
				slog.String("error", err.Error()),
			)
		}
		count++

		if ticker == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

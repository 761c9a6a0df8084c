package sink

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg" // register the JPEG decoder for DecodeConfig
	"io"
	"log/slog"

	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/pipeline"
)

// LogSink logs a one-line summary of every sample
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a LogSink logging at the given level
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Deliver logs the sample summary
func (s *LogSink) Deliver(ctx context.Context, sample *message.Sample) error {
	if !s.logger.Enabled(ctx, s.level) {
		return nil
	}
	s.logger.LogAttrs(ctx, s.level, "Sample received", SampleAttrs(ctx, sample)...)
	return nil
}

// SampleAttrs describes a sample as log attributes
func SampleAttrs(ctx context.Context, sample *message.Sample) []slog.Attr {
	attrs := []slog.Attr{
		slog.Int("size", sample.Size),
		slog.Int("color_bytes", len(sample.Color)),
	}

	if id := pipeline.SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(sample.Color)); err == nil {
		attrs = append(attrs,
			slog.String("color_format", format),
			slog.Int("color_width", cfg.Width),
			slog.Int("color_height", cfg.Height),
		)
	}

	if sample.Depth != nil {
		attrs = append(attrs,
			slog.Int("depth_width", sample.Depth.Width),
			slog.Int("depth_height", sample.Depth.Height),
		)
		if min, max, ok := sample.Depth.Range(); ok {
			attrs = append(attrs,
				slog.Float64("depth_min", float64(min)),
				slog.Float64("depth_max", float64(max)),
			)
		}
	}

	if sample.Pose != nil {
		p := sample.Pose.Translation()
		attrs = append(attrs, slog.Any("position", p))
	}

	if sample.Acceleration != nil {
		attrs = append(attrs, slog.Any("acceleration", *sample.Acceleration))
	}

	return attrs
}

// Fanout delivers every sample to each of its sinks in order
type Fanout[T any] struct {
	sinks []pipeline.Sink[T]
}

// NewFanout creates a Fanout over the given sinks. Nil sinks are skipped.
func NewFanout[T any](sinks ...pipeline.Sink[T]) *Fanout[T] {
	f := &Fanout[T]{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Deliver hands the sample to every sink; one sink failing does not skip the rest
func (f *Fanout[T]) Deliver(ctx context.Context, sample T) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync runs every member's synchronization point and requests a stop if any member does
func (f *Fanout[T]) Sync(ctx context.Context) bool {
	stop := false
	for _, s := range f.sinks {
		if syncer, ok := s.(pipeline.Syncer); ok && syncer.Sync(ctx) {
			stop = true
		}
	}
	return stop
}

// Close closes every member that implements io.Closer
func (f *Fanout[T]) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

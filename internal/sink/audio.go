package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/djsamseng/Ray/internal/audio"
	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/pipeline"
)

// SampleWriter stores PCM-16 samples. *audio.WAVWriter implements it.
type SampleWriter interface {
	WriteSamples(samples []int16) error
	Close() error
}

// AudioSink forwards side channel audio to a player and/or a WAV file.
// Either output may be nil.
type AudioSink struct {
	player audio.Player
	wav    SampleWriter
	meter  *audio.LevelMeter
	logger *slog.Logger

	mu      sync.Mutex
	samples uint64
	active  bool
	wavFull bool
}

// NewAudioSink creates an AudioSink
func NewAudioSink(player audio.Player, wav SampleWriter, logger *slog.Logger) *AudioSink {
	return &AudioSink{
		player: player,
		wav:    wav,
		logger: logger,
	}
}

// WithLevelMeter measures every chunk with m and logs when sound starts and stops
func (s *AudioSink) WithLevelMeter(m *audio.LevelMeter) *AudioSink {
	s.meter = m
	return s
}

// Deliver plays and/or stores the samples
func (s *AudioSink) Deliver(ctx context.Context, sample *message.AudioSample) error {
	var errs []error

	if s.meter != nil {
		s.measure(ctx, sample.Samples)
	}

	if s.player != nil {
		if err := s.player.Play(sample.Samples); err != nil {
			errs = append(errs, fmt.Errorf("playback: %w", err))
		}
	}

	s.mu.Lock()
	writeWAV := s.wav != nil && !s.wavFull
	s.mu.Unlock()

	if writeWAV {
		err := s.wav.WriteSamples(sample.Samples)
		switch {
		case errors.Is(err, audio.ErrWAVFull):
			// playback continues; the file keeps what it has
			s.mu.Lock()
			s.wavFull = true
			s.mu.Unlock()
			s.logger.LogAttrs(ctx, slog.LevelWarn, "WAV output full, no longer recording audio",
				slog.String("session_id", pipeline.SessionID(ctx)),
			)
		case err != nil:
			errs = append(errs, fmt.Errorf("wav output: %w", err))
		}
	}

	s.mu.Lock()
	s.samples += uint64(len(sample.Samples))
	s.mu.Unlock()

	return errors.Join(errs...)
}

func (s *AudioSink) measure(ctx context.Context, samples []int16) {
	level := s.meter.Measure(samples)

	s.mu.Lock()
	changed := level.Active != s.active
	s.active = level.Active
	s.mu.Unlock()

	if changed {
		msg := "Audio became silent"
		if level.Active {
			msg = "Audio activity detected"
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, msg,
			slog.Float64("dbfs", level.DBFS),
			slog.Float64("peak", level.Peak),
			slog.String("session_id", pipeline.SessionID(ctx)),
		)
	}
}

// LevelStats returns the level meter statistics. ok is false without a meter.
func (s *AudioSink) LevelStats() (stats audio.LevelStats, ok bool) {
	if s.meter == nil {
		return audio.LevelStats{}, false
	}
	return s.meter.Stats(), true
}

// Samples returns the number of PCM samples received
func (s *AudioSink) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Close closes the player and finalizes the WAV file
func (s *AudioSink) Close() error {
	var errs []error
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.wav != nil {
		if err := s.wav.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("Audio output closed", slog.Uint64("samples", s.Samples()))
	return errors.Join(errs...)
}

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/djsamseng/Ray/internal/config"
	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/pipeline"
	"github.com/djsamseng/Ray/internal/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
		check       func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "no flags keeps file values",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Device.Host != "localhost" || cfg.Stream.Skip != 3 || cfg.Stream.Mode != "standard" {
					t.Errorf("Unexpected config %+v", cfg)
				}
				if cfg.Audio.Enabled || cfg.Recording.Enabled {
					t.Error("Expected audio and recording to stay disabled")
				}
			},
		},
		{
			name: "all overrides",
			args: []string{"--host", "10.0.0.7", "--skip", "0", "--armode", "--record", "--playaudio"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Device.Host != "10.0.0.7" {
					t.Errorf("Expected host override, got %s", cfg.Device.Host)
				}
				if cfg.Stream.Skip != 0 {
					t.Errorf("Expected skip 0, got %d", cfg.Stream.Skip)
				}
				if cfg.Stream.Mode != "ar" {
					t.Errorf("Expected ar mode, got %s", cfg.Stream.Mode)
				}
				if !cfg.Recording.Enabled || !cfg.Audio.Enabled {
					t.Error("Expected recording and audio to be enabled")
				}
			},
		},
		{
			name: "armode=false forces standard",
			args: []string{"--armode=false"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Stream.Mode != "standard" {
					t.Errorf("Expected standard mode, got %s", cfg.Stream.Mode)
				}
			},
		},
		{
			name:        "negative skip",
			args:        []string{"--skip", "-1"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, fs, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags failed: %v", err)
			}
			if opts.configPath != defaultConfigPath {
				t.Errorf("Expected default config path, got %s", opts.configPath)
			}

			cfg := config.Default()
			err = applyOverrides(cfg, opts, fs)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestParseFlagsReplay(t *testing.T) {
	opts, _, err := parseFlags([]string{"--replay", "samples.rec", "--replay-interval", "50ms", "-c", "other.yaml"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.replayPath != "samples.rec" || opts.replayInterval != 50*time.Millisecond || opts.configPath != "other.yaml" {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestBuildPipelines(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Enabled = true
	cfg.Audio.Output = filepath.Join(t.TempDir(), "audio.wav")
	cfg.Recording.Enabled = true
	cfg.Recording.Path = filepath.Join(t.TempDir(), "samples.rec")

	set, err := buildPipelines(context.Background(), cfg, false, testLogger(), nil)
	if err != nil {
		t.Fatalf("buildPipelines failed: %v", err)
	}
	defer set.Close(testLogger())

	if set.primary.Name() != streamPipeline {
		t.Errorf("Expected primary %s, got %s", streamPipeline, set.primary.Name())
	}
	if len(set.side) != 1 || set.side[0].Name() != audioPipeline {
		t.Errorf("Expected one audio side channel, got %d", len(set.side))
	}
	if set.recorder == nil {
		t.Error("Expected a recorder")
	}
	if stats := set.primary.Stats(); stats.Address != "localhost:10001" {
		t.Errorf("Unexpected stream address %s", stats.Address)
	}
}

func TestBuildAudioSinkChannels(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Enabled = true
	cfg.Audio.Channels = 2
	cfg.Audio.Output = filepath.Join(t.TempDir(), "stereo.wav")

	audioSink, err := buildAudioSink(cfg, false, testLogger())
	if err != nil {
		t.Fatalf("buildAudioSink failed: %v", err)
	}
	if err := audioSink.Deliver(context.Background(), &message.AudioSample{Samples: []int16{1, -1, 2, -2}}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := audioSink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.Audio.Output)
	if err != nil {
		t.Fatalf("failed to read WAV file: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("WAV file too short: %d bytes", len(data))
	}
	if data[22] != 2 || data[23] != 0 {
		t.Errorf("Expected a 2-channel WAV header, got % x", data[20:24])
	}
}

func TestBuildPipelinesInvalidMode(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Mode = "lidar"

	if _, err := buildPipelines(context.Background(), cfg, false, testLogger(), nil); err == nil {
		t.Error("Expected error for an unknown depth mode")
	}
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.rec")
	recorder, err := sink.NewRecorder(sink.RecorderConfig{
		Path:        path,
		Every:       1,
		Compression: sink.CompressionZstd,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	ctx := pipeline.WithSessionID(context.Background(), "session-1")
	for i := 0; i < 3; i++ {
		sample := &message.Sample{
			Color: []byte{0xFF, 0xD8, byte(i)},
			Depth: &message.DepthMap{Width: 2, Height: 1, Data: []float32{float32(i), 1}},
		}
		if err := recorder.Deliver(ctx, sample); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := sink.OpenRecording(path)
	if err != nil {
		t.Fatalf("OpenRecording failed: %v", err)
	}
	defer reader.Close()

	var got []float32
	var sessions []string
	out := pipeline.SinkFunc[*message.Sample](func(ctx context.Context, sample *message.Sample) error {
		got = append(got, sample.Depth.At(0, 0))
		sessions = append(sessions, pipeline.SessionID(ctx))
		return nil
	})

	if err := replay(context.Background(), reader, out, time.Millisecond, testLogger()); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("Unexpected replayed samples %v", got)
	}
	if sessions[1] != "session-1" {
		t.Errorf("Expected recorded session id, got %q", sessions[1])
	}
}

func TestReplayCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.rec")
	recorder, err := sink.NewRecorder(sink.RecorderConfig{Path: path, Every: 1}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	sample := &message.Sample{Depth: &message.DepthMap{Width: 1, Height: 1, Data: []float32{1}}}
	for i := 0; i < 5; i++ {
		recorder.Deliver(context.Background(), sample)
	}
	recorder.Close()

	reader, err := sink.OpenRecording(path)
	if err != nil {
		t.Fatalf("OpenRecording failed: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	delivered := 0
	out := pipeline.SinkFunc[*message.Sample](func(context.Context, *message.Sample) error {
		delivered++
		cancel()
		return nil
	})

	if err := replay(ctx, reader, out, time.Hour, testLogger()); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if delivered != 1 {
		t.Errorf("Expected replay to stop after one sample, got %d", delivered)
	}
}

func TestInitLogger(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tests := []struct {
		name        string
		cfg         config.LoggingConfig
		expectError bool
		errorMsg    string
		contains    []string
	}{
		{
			name: "stdout text",
			cfg:  config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		},
		{
			name:     "json file in new directory",
			cfg:      config.LoggingConfig{Level: "warn", Format: "json", Output: filepath.Join(dir, "logs", "receiver.log")},
			contains: []string{`"service":"ray-receiver"`, `"msg":"kept"`},
		},
		{
			name:        "unknown level",
			cfg:         config.LoggingConfig{Level: "verbose", Format: "text", Output: "stdout"},
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name:        "directory is a file",
			cfg:         config.LoggingConfig{Level: "info", Format: "text", Output: filepath.Join(blocker, "receiver.log")},
			expectError: true,
			errorMsg:    "failed to create log directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closeLog, err := initLogger(tt.cfg)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %v", tt.errorMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			logger.Info("dropped")
			logger.Warn("kept")
			if err := closeLog(); err != nil {
				t.Fatalf("closeLog failed: %v", err)
			}
			if len(tt.contains) == 0 {
				return
			}

			data, err := os.ReadFile(tt.cfg.Output)
			if err != nil {
				t.Fatalf("failed to read log file: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(string(data), want) {
					t.Errorf("Expected log file to contain %s, got %s", want, data)
				}
			}
			if strings.Contains(string(data), "dropped") {
				t.Error("Expected info records to be filtered at warn level")
			}
		})
	}
}

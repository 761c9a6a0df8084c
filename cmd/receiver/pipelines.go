package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/djsamseng/Ray/internal/audio"
	"github.com/djsamseng/Ray/internal/config"
	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/pipeline"
	"github.com/djsamseng/Ray/internal/sink"
)

const (
	streamPipeline = "stream"
	audioPipeline  = "audio"
)

// pipelineSet is everything built from the configuration that the manager runs
type pipelineSet struct {
	stop     *pipeline.StopSignal
	primary  pipeline.Runner
	side     []pipeline.Runner
	recorder *sink.Recorder
	closers  []io.Closer
}

// Close releases sinks and clients after the pipelines have exited
func (p *pipelineSet) Close(logger *slog.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			logger.Error("Error closing resource", slog.String("error", err.Error()))
		}
	}
}

// reconnectConfig converts the device section into driver reconnect settings
func reconnectConfig(cfg *config.DeviceConfig) pipeline.ReconnectConfig {
	return pipeline.ReconnectConfig{
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.GetRetryDelayDuration(),
		MaxRetryDelay: cfg.GetMaxRetryDelayDuration(),
	}
}

// streamDriverConfig builds the primary pipeline settings
func streamDriverConfig(cfg *config.Config) (pipeline.Config, error) {
	policy, err := pipeline.ParseUnknownFramePolicy(cfg.Stream.UnknownFramePolicy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Name:                  streamPipeline,
		Address:               cfg.Device.StreamAddress(),
		PreambleSize:          cfg.Stream.PreambleSize,
		Skip:                  cfg.Stream.Skip,
		DialTimeout:           cfg.Device.GetDialTimeoutDuration(),
		ReadTimeout:           cfg.Device.GetReadTimeoutDuration(),
		Reconnect:             reconnectConfig(&cfg.Device),
		MaxMessageSize:        cfg.Stream.MaxMessageSize,
		UnknownFramePolicy:    policy,
		MaxConsecutiveUnknown: cfg.Stream.MaxConsecutiveUnknown,
	}, nil
}

// audioDriverConfig builds the side channel settings. Audio chunks have no
// synchronization points of their own.
func audioDriverConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Name:               audioPipeline,
		Address:            cfg.Device.AudioAddress(),
		PreambleSize:       cfg.Audio.PreambleSize,
		DialTimeout:        cfg.Device.GetDialTimeoutDuration(),
		ReadTimeout:        cfg.Device.GetReadTimeoutDuration(),
		Reconnect:          reconnectConfig(&cfg.Device),
		MaxMessageSize:     cfg.Stream.MaxMessageSize,
		UnknownFramePolicy: pipeline.PolicyResync,
	}
}

// buildStreamSink assembles the sample sinks enabled in the configuration
func buildStreamSink(ctx context.Context, cfg *config.Config, set *pipelineSet, logger *slog.Logger, m *metrics.Metrics) (*sink.Fanout[*message.Sample], error) {
	sinks := []pipeline.Sink[*message.Sample]{sink.NewLogSink(logger, slog.LevelInfo)}

	if cfg.Recording.Enabled {
		compression, err := sink.ParseCompression(cfg.Recording.Compression)
		if err != nil {
			return nil, err
		}
		recorder, err := sink.NewRecorder(sink.RecorderConfig{
			Path:         cfg.Recording.Path,
			StartAfter:   cfg.Recording.StartAfter,
			Every:        cfg.Recording.Every,
			Limit:        cfg.Recording.Limit,
			Compression:  compression,
			StopWhenDone: cfg.Recording.StopWhenDone,
		}, logger, m)
		if err != nil {
			return nil, err
		}
		set.recorder = recorder
		set.closers = append(set.closers, recorder)
		sinks = append(sinks, recorder)
	}

	if cfg.Redis.Enabled {
		client, err := sink.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, client)

		publisher, err := sink.NewPublisher(client, sink.PublisherConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Pipeline:  streamPipeline,
			TTL:       cfg.Redis.GetTTLDuration(),
		}, logger, m)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	return sink.NewFanout(sinks...), nil
}

// buildAudioSink opens the audio outputs. Playback is only started when requested.
func buildAudioSink(cfg *config.Config, play bool, logger *slog.Logger) (*sink.AudioSink, error) {
	meter, err := audio.NewLevelMeter(cfg.Audio.ActivityThreshold, 0.3)
	if err != nil {
		return nil, err
	}

	var player audio.Player
	if play {
		p, err := audio.NewCommandPlayer(logger, audio.DefaultPlayerCommand(cfg.Audio.SampleRate, cfg.Audio.Channels))
		if err != nil {
			return nil, err
		}
		player = p
	}

	var wav sink.SampleWriter
	if cfg.Audio.Output != "" {
		w, err := audio.NewWAVWriter(cfg.Audio.Output, cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err != nil {
			if player != nil {
				player.Close()
			}
			return nil, err
		}
		wav = w
	}

	if player == nil && wav == nil {
		logger.Warn("Audio side channel enabled without playback or output file")
	}

	return sink.NewAudioSink(player, wav, logger).WithLevelMeter(meter), nil
}

// buildPipelines creates the primary stream driver and, when enabled, the audio
// side channel sharing its stop signal
func buildPipelines(ctx context.Context, cfg *config.Config, playAudio bool, logger *slog.Logger, m *metrics.Metrics) (_ *pipelineSet, err error) {
	set := &pipelineSet{stop: pipeline.NewStopSignal()}
	defer func() {
		if err != nil {
			set.Close(logger)
		}
	}()

	mode, err := message.ParseDepthMode(cfg.Stream.Mode)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}

	streamSink, err := buildStreamSink(ctx, cfg, set, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream sinks: %w", err)
	}

	streamCfg, err := streamDriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	primary, err := pipeline.NewDriver[*message.Sample](streamCfg, dialer, message.NewDecoder(mode), streamSink, set.stop, logger, m)
	if err != nil {
		return nil, err
	}
	set.primary = primary

	if cfg.Audio.Enabled {
		audioSink, err := buildAudioSink(cfg, playAudio, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build audio sink: %w", err)
		}
		set.closers = append(set.closers, audioSink)

		side, err := pipeline.NewDriver[*message.AudioSample](audioDriverConfig(cfg), dialer, message.NewAudioDecoder(), audioSink, set.stop, logger, m)
		if err != nil {
			return nil, err
		}
		set.side = append(set.side, side)
	}

	return set, nil
}

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/pipeline"
)

// PublisherConfig controls where samples are published
type PublisherConfig struct {
	KeyPrefix string
	Pipeline  string
	TTL       time.Duration // 0 keeps keys forever
}

// LatestKey returns the key holding the most recent sample
func (c PublisherConfig) LatestKey() string {
	return fmt.Sprintf("%s:%s:latest", c.KeyPrefix, c.Pipeline)
}

// SequenceKey returns the key counting published samples
func (c PublisherConfig) SequenceKey() string {
	return fmt.Sprintf("%s:%s:seq", c.KeyPrefix, c.Pipeline)
}

// Publisher stores the latest sample in Redis so other processes can poll it
type Publisher struct {
	client  redis.Cmdable
	cfg     PublisherConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	seq     atomic.Uint64
}

// NewPublisher creates a Publisher on an existing Redis client
func NewPublisher(client redis.Cmdable, cfg PublisherConfig, logger *slog.Logger, m *metrics.Metrics) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" || cfg.Pipeline == "" {
		return nil, fmt.Errorf("key prefix and pipeline name are required")
	}
	return &Publisher{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}, nil
}

// Deliver writes the sample to the latest key and bumps the sequence counter
func (p *Publisher) Deliver(ctx context.Context, sample *message.Sample) error {
	seq := p.seq.Add(1)
	data, err := NewRecord(sample, seq, pipeline.SessionID(ctx), time.Now()).Marshal()
	if err != nil {
		return err
	}

	tx := p.client.TxPipeline()
	tx.Set(ctx, p.cfg.LatestKey(), data, p.cfg.TTL)
	tx.Incr(ctx, p.cfg.SequenceKey())
	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish sample %d: %w", seq, err)
	}

	p.metrics.RecordSamplePublished()
	p.logger.Debug("Sample published",
		slog.String("key", p.cfg.LatestKey()),
		slog.Uint64("seq", seq),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Latest reads back the most recently published record
func (p *Publisher) Latest(ctx context.Context) (*Record, error) {
	data, err := p.client.Get(ctx, p.cfg.LatestKey()).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.cfg.LatestKey(), err)
	}
	return UnmarshalRecord(data)
}

// NewRedisClient connects to Redis and verifies the connection with PING
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

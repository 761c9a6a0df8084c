package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/protocol"
)

// UnknownFramePolicy selects how a Driver reacts to an unknown frame header
type UnknownFramePolicy string

const (
	// PolicyResync keeps reading headers on the same connection
	PolicyResync UnknownFramePolicy = "resync"
	// PolicyReconnect drops the connection and reconnects
	PolicyReconnect UnknownFramePolicy = "reconnect"
)

// ParseUnknownFramePolicy parses "resync" or "reconnect"
func ParseUnknownFramePolicy(name string) (UnknownFramePolicy, error) {
	switch UnknownFramePolicy(name) {
	case PolicyResync, "":
		return PolicyResync, nil
	case PolicyReconnect:
		return PolicyReconnect, nil
	default:
		return "", fmt.Errorf("unknown frame policy must be resync or reconnect, got %q", name)
	}
}

// ErrFrameSync is reported when a connection is dropped because of unknown frames
var ErrFrameSync = errors.New("lost frame synchronization")

// Config holds the settings of one Driver
type Config struct {
	Name           string
	Address        string // host:port
	PreambleSize   int
	Skip           int // samples between synchronization points
	DialTimeout    time.Duration
	ReadTimeout    time.Duration // 0 disables read deadlines
	Reconnect      ReconnectConfig
	MaxMessageSize int // 0 disables the limit

	UnknownFramePolicy    UnknownFramePolicy
	MaxConsecutiveUnknown int // resync only, 0 never drops
}

// Validate checks the driver configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if c.Address == "" {
		return fmt.Errorf("pipeline %s: address is required", c.Name)
	}
	if c.PreambleSize < 0 {
		return fmt.Errorf("pipeline %s: preamble size must be non-negative, got %d", c.Name, c.PreambleSize)
	}
	if c.Skip < 0 {
		return fmt.Errorf("pipeline %s: skip must be non-negative, got %d", c.Name, c.Skip)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("pipeline %s: max message size must be non-negative, got %d", c.Name, c.MaxMessageSize)
	}
	if c.MaxConsecutiveUnknown < 0 {
		return fmt.Errorf("pipeline %s: max consecutive unknown frames must be non-negative, got %d", c.Name, c.MaxConsecutiveUnknown)
	}
	if _, err := ParseUnknownFramePolicy(string(c.UnknownFramePolicy)); err != nil {
		return fmt.Errorf("pipeline %s: %w", c.Name, err)
	}
	return nil
}

// Driver runs the connect, preamble, demultiplex, decode and deliver loop for one
// device stream. A Driver owns its connection and its pacing counter.
type Driver[T any] struct {
	cfg     Config
	dialer  Dialer
	decoder Decoder[T]
	sink    Sink[T]
	stop    *StopSignal
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Pacing counter, touched only by the Run goroutine
	samples uint64

	mu    sync.RWMutex
	stats Stats
}

// NewDriver creates a Driver. A nil stop signal creates a private one;
// a nil metrics disables metric recording.
func NewDriver[T any](
	cfg Config,
	dialer Dialer,
	decoder Decoder[T],
	sink Sink[T],
	stop *StopSignal,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Driver[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("pipeline %s: dialer is required", cfg.Name)
	}
	if decoder == nil {
		return nil, fmt.Errorf("pipeline %s: decoder is required", cfg.Name)
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline %s: sink is required", cfg.Name)
	}
	if stop == nil {
		stop = NewStopSignal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnknownFramePolicy == "" {
		cfg.UnknownFramePolicy = PolicyResync
	}
	cfg.Reconnect = cfg.Reconnect.normalize()

	return &Driver[T]{
		cfg:     cfg,
		dialer:  dialer,
		decoder: decoder,
		sink:    sink,
		stop:    stop,
		logger:  logger.With(slog.String("pipeline", cfg.Name)),
		metrics: m,
		stats: Stats{
			Name:    cfg.Name,
			Address: cfg.Address,
			State:   StateDisconnected,
		},
	}, nil
}

// Name returns the pipeline name
func (d *Driver[T]) Name() string {
	return d.cfg.Name
}

// StopSignal returns the stop signal the driver polls
func (d *Driver[T]) StopSignal() *StopSignal {
	return d.stop
}

// Stats returns a snapshot of the pipeline statistics
func (d *Driver[T]) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats.clone()
}

// Run connects to the device and processes frames until the stop signal is
// raised, the sink requests a stop, the context is cancelled or reconnection
// gives up. It returns nil on a cooperative stop and the context error on
// cancellation.
func (d *Driver[T]) Run(ctx context.Context) error {
	d.logger.Info("Pipeline starting",
		slog.String("address", d.cfg.Address),
		slog.Int("skip", d.cfg.Skip),
		slog.String("unknown_frame_policy", string(d.cfg.UnknownFramePolicy)),
	)

	state := &ReconnectState{}
	for {
		var conn net.Conn
		connect := func(ctx context.Context) error {
			c, err := d.connect(ctx)
			conn = c
			return err
		}

		d.setState(StateConnecting)
		err := RunWithReconnect(ctx, connect, d.cfg.Reconnect, state, d.stop, d.logger)
		d.setAttempts(state.Attempts.Load())
		if err != nil {
			return d.finish(ctx, err)
		}

		sessionID := uuid.NewString()
		d.connected(sessionID)
		stopped, serveErr := d.serve(WithSessionID(ctx, sessionID), conn, d.logger.With(slog.String("session_id", sessionID)))
		conn.Close()
		d.metrics.SetConnected(d.cfg.Name, false)

		if ctx.Err() != nil {
			return d.finish(ctx, ctx.Err())
		}
		if stopped {
			return d.finish(ctx, ErrStopped)
		}

		d.disconnected(sessionID, serveErr)

		// Pause before redialing so a device that accepts and immediately closes
		// does not turn this loop into a busy spin
		if err := wait(ctx, d.cfg.Reconnect.RetryDelay, d.stop); err != nil {
			return d.finish(ctx, err)
		}
	}
}

// finish records the terminal state and maps err to Run's return value
func (d *Driver[T]) finish(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrStopped):
		d.setState(StateClosed)
		d.logger.Info("Pipeline stopped", d.summaryAttrs()...)
		return nil
	case ctx.Err() != nil:
		d.setState(StateClosed)
		d.logger.Info("Pipeline cancelled", d.summaryAttrs()...)
		return ctx.Err()
	default:
		d.setState(StateFailed)
		d.recordError(err)
		d.logger.Error("Pipeline failed", append(d.summaryAttrs(), slog.String("error", err.Error()))...)
		return fmt.Errorf("pipeline %s: %w", d.cfg.Name, err)
	}
}

// connect dials the device once
func (d *Driver[T]) connect(ctx context.Context) (net.Conn, error) {
	d.metrics.RecordConnectAttempt(d.cfg.Name)

	dialCtx := ctx
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := d.dialer.DialContext(dialCtx, "tcp", d.cfg.Address)
	if err != nil {
		d.recordError(err)
		return nil, fmt.Errorf("failed to connect to %s: %w", d.cfg.Address, err)
	}
	return conn, nil
}

// serve processes one connection. It returns stopped=true when a
// synchronization point requests a stop; otherwise it returns the reason the
// connection ended.
func (d *Driver[T]) serve(ctx context.Context, conn net.Conn, logger *slog.Logger) (bool, error) {
	// Closing the connection is the only way to interrupt a blocked read
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	var r io.Reader = conn
	if d.cfg.ReadTimeout > 0 {
		r = &deadlineReader{conn: conn, timeout: d.cfg.ReadTimeout}
	}

	if err := protocol.ConsumePreamble(r, d.cfg.PreambleSize); err != nil {
		return false, err
	}
	d.addBytes(uint64(d.cfg.PreambleSize))
	logger.Debug("Preamble consumed", slog.Int("bytes", d.cfg.PreambleSize))

	demux := protocol.NewDemuxer(r, d.cfg.MaxMessageSize)
	var lastBytes uint64
	consecutiveUnknown := 0

	for {
		buf, err := demux.Next()

		read := demux.Stats().BytesRead
		d.addBytes(read - lastBytes)
		lastBytes = read

		if err != nil {
			var unknown *protocol.UnknownFrameError
			if !errors.As(err, &unknown) {
				return false, err
			}

			consecutiveUnknown++
			d.recordUnknown(logger, unknown)

			if d.cfg.UnknownFramePolicy == PolicyReconnect {
				return false, fmt.Errorf("%w: %w", ErrFrameSync, err)
			}
			if d.cfg.MaxConsecutiveUnknown > 0 && consecutiveUnknown >= d.cfg.MaxConsecutiveUnknown {
				return false, fmt.Errorf("%w: %d consecutive unknown frames", ErrFrameSync, consecutiveUnknown)
			}
			continue
		}
		consecutiveUnknown = 0
		d.recordFrame(len(buf))

		start := time.Now()
		sample, err := d.decoder.Decode(buf)
		d.metrics.RecordDecode(d.cfg.Name, time.Since(start).Seconds())
		if err != nil {
			d.recordDecodeError(logger, err, len(buf))
			continue
		}

		if err := d.sink.Deliver(ctx, sample); err != nil {
			d.recordSinkError(logger, err)
		} else {
			d.recordDelivered()
		}

		d.samples++
		if d.samples%uint64(d.cfg.Skip+1) == 0 && d.syncPoint(ctx, logger) {
			return true, nil
		}
	}
}

// syncPoint polls the stop signal and the context and lets the sink take part.
// It returns true when the pipeline should stop.
func (d *Driver[T]) syncPoint(ctx context.Context, logger *slog.Logger) bool {
	d.mu.Lock()
	d.stats.SyncPoints++
	d.mu.Unlock()
	d.metrics.RecordSyncPoint(d.cfg.Name)

	if d.stop.Raised() || ctx.Err() != nil {
		return true
	}

	if syncer, ok := d.sink.(Syncer); ok && syncer.Sync(ctx) {
		logger.Info("Sink requested stop", slog.Uint64("samples", d.samples))
		d.stop.Raise()
		return true
	}

	return false
}

func (d *Driver[T]) setState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.State = state
	if state != StateConnected {
		d.stats.SessionID = ""
		d.stats.ConnectedSince = time.Time{}
	}
}

func (d *Driver[T]) setAttempts(attempts uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.ConnectAttempts = attempts
}

func (d *Driver[T]) connected(sessionID string) {
	d.mu.Lock()
	d.stats.State = StateConnected
	d.stats.SessionID = sessionID
	d.stats.ConnectedSince = time.Now()
	d.stats.Connects++
	connects := d.stats.Connects
	d.mu.Unlock()

	d.metrics.SetConnected(d.cfg.Name, true)
	d.logger.Info("Connected to device",
		slog.String("session_id", sessionID),
		slog.String("address", d.cfg.Address),
		slog.Uint64("connects", connects),
	)
}

func (d *Driver[T]) disconnected(sessionID string, err error) {
	d.mu.Lock()
	d.stats.State = StateDisconnected
	d.stats.SessionID = ""
	d.stats.ConnectedSince = time.Time{}
	d.stats.ConnectionsLost++
	d.mu.Unlock()

	d.metrics.RecordConnectionLost(d.cfg.Name)

	reason := "connection closed"
	if err != nil {
		reason = err.Error()
		d.recordError(err)
	}
	d.logger.Warn("Connection ended, reconnecting",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	)
}

func (d *Driver[T]) addBytes(n uint64) {
	if n == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.BytesRead += n
}

func (d *Driver[T]) recordFrame(size int) {
	d.mu.Lock()
	d.stats.Frames++
	d.mu.Unlock()
	d.metrics.RecordFrame(d.cfg.Name, size)
}

func (d *Driver[T]) recordUnknown(logger *slog.Logger, unknown *protocol.UnknownFrameError) {
	d.mu.Lock()
	d.stats.UnknownFrames++
	d.mu.Unlock()
	d.metrics.RecordUnknownFrame(d.cfg.Name)

	logger.Warn("Unknown frame header",
		slog.String("reason", unknown.Reason),
		slog.String("header", fmt.Sprintf("%q", unknown.Header)),
	)
}

func (d *Driver[T]) recordDecodeError(logger *slog.Logger, err error, size int) {
	kind := message.ErrorKind(err)

	d.mu.Lock()
	d.stats.DecodeErrors++
	if d.stats.DecodeErrorsByKind == nil {
		d.stats.DecodeErrorsByKind = make(map[string]uint64)
	}
	d.stats.DecodeErrorsByKind[kind]++
	d.mu.Unlock()
	d.metrics.RecordDecodeError(d.cfg.Name, kind)

	logger.Warn("Failed to decode message",
		slog.String("kind", kind),
		slog.Int("size", size),
		slog.String("error", err.Error()),
	)
}

func (d *Driver[T]) recordDelivered() {
	d.mu.Lock()
	d.stats.Delivered++
	d.mu.Unlock()
	d.metrics.RecordDelivered(d.cfg.Name)
}

func (d *Driver[T]) recordSinkError(logger *slog.Logger, err error) {
	d.mu.Lock()
	d.stats.SinkErrors++
	d.mu.Unlock()
	d.metrics.RecordSinkError(d.cfg.Name)
	d.recordError(err)

	logger.Error("Sink failed to accept sample", slog.String("error", err.Error()))
}

func (d *Driver[T]) recordError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.LastError = err.Error()
	d.stats.LastErrorTime = time.Now()
}

func (d *Driver[T]) summaryAttrs() []any {
	stats := d.Stats()
	return []any{
		slog.Uint64("connects", stats.Connects),
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("unknown_frames", stats.UnknownFrames),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("delivered", stats.Delivered),
		slog.Uint64("bytes_read", stats.BytesRead),
	}
}

// deadlineReader arms a read deadline before every read so a silent device
// surfaces as a lost connection
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

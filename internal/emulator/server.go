package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djsamseng/Ray/internal/protocol"
)

// PayloadFunc returns the payload of the i-th message on a connection
type PayloadFunc func(i int) ([]byte, error)

// StreamConfig controls how one port serves its messages
type StreamConfig struct {
	Name     string
	Interval time.Duration // between messages, 0 = as fast as possible
	Frames   int           // per connection, 0 = unlimited
	// DropAfter closes each connection after this many frames, 0 = never.
	// Used to exercise client reconnects.
	DropAfter int
}

// Server accepts receiver connections on one port and streams frames to each
type Server struct {
	cfg     StreamConfig
	payload PayloadFunc
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewServer creates a Server
func NewServer(cfg StreamConfig, payload PayloadFunc, logger *slog.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if payload == nil {
		return nil, fmt.Errorf("stream %s: payload function is required", cfg.Name)
	}
	if cfg.Frames < 0 || cfg.DropAfter < 0 {
		return nil, fmt.Errorf("stream %s: frame counts cannot be negative", cfg.Name)
	}
	return &Server{
		cfg:     cfg,
		payload: payload,
		logger:  logger.With(slog.String("stream", cfg.Name)),
	}, nil
}

// Serve accepts connections until ctx is cancelled. It closes ln and waits
// for open connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Emulator listening", slog.String("address", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("stream %s: accept failed: %w", s.cfg.Name, err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn writes the preamble followed by frames until the frame budget is
// spent, the client goes away or ctx is cancelled. It closes conn.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := s.logger.With(
		slog.String("connection_id", uuid.NewString()),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	logger.Info("Client connected")

	sent, err := s.stream(ctx, protocol.NewWriter(conn))
	attrs := []any{slog.Int("frames", sent)}
	if err != nil && ctx.Err() == nil {
		logger.Warn("Client stream ended", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	logger.Info("Client stream finished", attrs...)
}

func (s *Server) stream(ctx context.Context, w *protocol.Writer) (int, error) {
	if err := w.WritePreamble(); err != nil {
		return 0, err
	}

	var ticker *time.Ticker
	if s.cfg.Interval > 0 {
		ticker = time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
	}

	for i := 0; s.cfg.Frames == 0 || i < s.cfg.Frames; i++ {
		if s.cfg.DropAfter > 0 && i == s.cfg.DropAfter {
			return i, nil
		}

		payload, err := s.payload(i)
		if err != nil {
			return i, err
		}
		if err := w.WriteFrame(payload); err != nil {
			return i, err
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return i + 1, ctx.Err()
		}
	}
	return s.cfg.Frames, nil
}

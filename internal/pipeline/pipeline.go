package pipeline

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// Dialer opens the byte source. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Decoder turns one message buffer into a value of type T
type Decoder[T any] interface {
	Decode(buf []byte) (T, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc[T any] func(buf []byte) (T, error)

// Decode calls f(buf)
func (f DecoderFunc[T]) Decode(buf []byte) (T, error) {
	return f(buf)
}

// Sink consumes decoded samples in wire order
type Sink[T any] interface {
	Deliver(ctx context.Context, sample T) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc[T any] func(ctx context.Context, sample T) error

// Deliver calls f(ctx, sample)
func (f SinkFunc[T]) Deliver(ctx context.Context, sample T) error {
	return f(ctx, sample)
}

// Syncer is implemented by sinks that take part in synchronization points.
// Sync returns true to request that the pipelines stop.
type Syncer interface {
	Sync(ctx context.Context) bool
}

// Runner is the type-independent view of a Driver
type Runner interface {
	Name() string
	Run(ctx context.Context) error
	Stats() Stats
}

// StopSignal is a one-way flag shared by cooperating pipelines.
// Once raised it stays raised.
type StopSignal struct {
	raised atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// NewStopSignal creates a lowered stop signal
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Raise sets the signal. It is safe to call more than once.
func (s *StopSignal) Raise() {
	s.once.Do(func() {
		s.raised.Store(true)
		close(s.done)
	})
}

// Raised reports whether the signal has been raised
func (s *StopSignal) Raised() bool {
	return s.raised.Load()
}

// Done returns a channel that is closed when the signal is raised
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}

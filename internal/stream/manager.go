package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/djsamseng/Ray/internal/pipeline"
)

// DefaultGracePeriod is how long pipelines get to notice the stop signal
// before their context is cancelled
const DefaultGracePeriod = 2 * time.Second

// pipelineEntry tracks one running pipeline
type pipelineEntry struct {
	runner    pipeline.Runner
	primary   bool
	startTime time.Time
	endTime   time.Time
	running   bool
	err       error
}

// PipelineInfo represents the lifecycle of one pipeline together with its statistics
type PipelineInfo struct {
	pipeline.Stats
	Primary   bool      `json:"primary"`
	Running   bool      `json:"running"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Manager runs the primary pipeline and its side channels. The side channels
// share the primary's stop signal; the signal is raised when the primary exits.
type Manager struct {
	logger      *slog.Logger
	stop        *pipeline.StopSignal
	gracePeriod time.Duration

	mu       sync.RWMutex
	entries  []*pipelineEntry
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager for a primary pipeline and optional side channels.
// All runners must poll the given stop signal.
func NewManager(logger *slog.Logger, stop *pipeline.StopSignal, gracePeriod time.Duration, primary pipeline.Runner, side ...pipeline.Runner) (*Manager, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary pipeline is required")
	}
	if stop == nil {
		return nil, fmt.Errorf("stop signal is required")
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	mgr := &Manager{
		logger:      logger,
		stop:        stop,
		gracePeriod: gracePeriod,
		done:        make(chan struct{}),
	}

	names := map[string]bool{}
	for i, r := range append([]pipeline.Runner{primary}, side...) {
		if r == nil {
			continue
		}
		if names[r.Name()] {
			return nil, fmt.Errorf("duplicate pipeline name %q", r.Name())
		}
		names[r.Name()] = true
		mgr.entries = append(mgr.entries, &pipelineEntry{runner: r, primary: i == 0})
	}

	return mgr, nil
}

// Start launches every pipeline in its own goroutine
func (m *Manager) Start(parent context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("stream manager already started")
	}
	m.started = true

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	for _, entry := range m.entries {
		entry.startTime = time.Now()
		entry.running = true

		m.wg.Add(1)
		go m.run(ctx, entry)
	}

	go m.enforceGracePeriod()

	go func() {
		m.wg.Wait()
		cancel()
		close(m.done)
	}()

	m.logger.Info("Stream manager started",
		slog.Int("pipelines", len(m.entries)),
		slog.Duration("grace_period", m.gracePeriod),
	)
	return nil
}

// run executes one pipeline and records how it ended
func (m *Manager) run(ctx context.Context, entry *pipelineEntry) {
	defer m.wg.Done()

	err := entry.runner.Run(ctx)

	m.mu.Lock()
	entry.running = false
	entry.endTime = time.Now()
	entry.err = err
	m.mu.Unlock()

	attrs := []any{
		slog.String("pipeline", entry.runner.Name()),
		slog.Duration("duration", entry.endTime.Sub(entry.startTime)),
	}
	switch {
	case err == nil:
		m.logger.Info("Pipeline exited", attrs...)
	case errors.Is(err, context.Canceled):
		m.logger.Info("Pipeline cancelled", attrs...)
	default:
		m.logger.Error("Pipeline exited with error", append(attrs, slog.String("error", err.Error()))...)
	}

	if entry.primary {
		m.stop.Raise()
	}
}

// enforceGracePeriod cancels the pipelines that are still running a grace
// period after the stop signal was raised
func (m *Manager) enforceGracePeriod() {
	select {
	case <-m.stop.Done():
	case <-m.done:
		return
	}

	timer := time.NewTimer(m.gracePeriod)
	defer timer.Stop()

	select {
	case <-timer.C:
		m.logger.Warn("Pipelines did not stop within the grace period, cancelling",
			slog.Int("running", m.GetActivePipelineCount()),
		)
		m.cancel()
	case <-m.done:
	}
}

// Done returns a channel that is closed once every pipeline has exited
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until every pipeline has exited and returns the primary's error
func (m *Manager) Wait() error {
	<-m.done
	return m.primaryErr()
}

// Stop raises the stop signal and waits for the pipelines. If ctx expires
// first the pipelines are cancelled.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		m.stop.Raise()
		return nil
	}

	m.stopOnce.Do(func() {
		m.logger.Info("Stopping stream manager...")
	})
	m.stop.Raise()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.cancel()
		<-m.done
	}

	m.logger.Info("Stream manager stopped", slog.Int("pipelines", len(m.entries)))
	return m.primaryErr()
}

// StopSignal returns the shared stop signal
func (m *Manager) StopSignal() *pipeline.StopSignal {
	return m.stop
}

// GetActivePipelineCount returns the number of running pipelines
func (m *Manager) GetActivePipelineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, entry := range m.entries {
		if entry.running {
			count++
		}
	}
	return count
}

// GetAllPipelines returns information about every pipeline, primary first
func (m *Manager) GetAllPipelines() []PipelineInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]PipelineInfo, 0, len(m.entries))
	for _, entry := range m.entries {
		infos = append(infos, entry.info())
	}
	return infos
}

// GetPipeline returns information about one pipeline
func (m *Manager) GetPipeline(name string) (PipelineInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.entries {
		if entry.runner.Name() == name {
			return entry.info(), true
		}
	}
	return PipelineInfo{}, false
}

func (m *Manager) primaryErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.entries {
		if entry.primary {
			return entry.err
		}
	}
	return nil
}

func (e *pipelineEntry) info() PipelineInfo {
	info := PipelineInfo{
		Stats:     e.runner.Stats(),
		Primary:   e.primary,
		Running:   e.running,
		StartTime: e.startTime,
		EndTime:   e.endTime,
	}
	if e.err != nil {
		info.Error = e.err.Error()
	}
	return info
}

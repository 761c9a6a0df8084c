package sink

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/djsamseng/Ray/internal/message"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/pipeline"
)

// Compression identifies how a recording's record stream is compressed.
// The value is stored in the file header.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the configuration name of the compression
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd"
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Recording file layout: magic, one compression byte, then a compressed stream
// of records, each a 4-byte big-endian length followed by msgpack data.
var recordingMagic = [6]byte{'R', 'A', 'Y', 'R', 'E', 'C'}

const (
	recordingHeaderSize = len(recordingMagic) + 1
	maxRecordSize       = 256 << 20
)

// RecorderConfig controls which samples are recorded
type RecorderConfig struct {
	Path         string
	StartAfter   int // samples skipped before the first record
	Every        int // record every Nth sample after that
	Limit        int // records, 0 = unlimited
	Compression  Compression
	StopWhenDone bool // request a pipeline stop once Limit is reached
}

// RecorderStats represents recorder statistics
type RecorderStats struct {
	Path     string `json:"path"`
	Seen     uint64 `json:"seen"`
	Recorded int    `json:"recorded"`
	Bytes    uint64 `json:"bytes"`
	Done     bool   `json:"done"`
}

// Recorder writes a subset of samples to a compressed recording file
type Recorder struct {
	cfg     RecorderConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	file     *os.File
	stream   io.WriteCloser
	seen     uint64
	recorded int
	bytes    uint64
	done     bool
	closed   bool
}

// NewRecorder creates the recording file and writes its header
func NewRecorder(cfg RecorderConfig, logger *slog.Logger, m *metrics.Metrics) (*Recorder, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("recording path cannot be empty")
	}
	if cfg.Every < 1 {
		return nil, fmt.Errorf("every must be at least 1, got %d", cfg.Every)
	}
	if cfg.StartAfter < 0 || cfg.Limit < 0 {
		return nil, fmt.Errorf("start_after and limit cannot be negative")
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory %s: %w", dir, err)
		}
	}

	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", cfg.Path, err)
	}

	header := append(recordingMagic[:], byte(cfg.Compression))
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write recording header: %w", err)
	}

	stream, err := newCompressor(file, cfg.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}

	logger.Info("Recording samples",
		slog.String("path", cfg.Path),
		slog.Int("start_after", cfg.StartAfter),
		slog.Int("every", cfg.Every),
		slog.Int("limit", cfg.Limit),
		slog.String("compression", cfg.Compression.String()),
	)

	return &Recorder{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		file:    file,
		stream:  stream,
	}, nil
}

// Deliver records the sample if it falls on the recording schedule
func (r *Recorder) Deliver(ctx context.Context, sample *message.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.seen
	r.seen++

	if r.done || r.closed || !r.scheduled(index) {
		return nil
	}

	rec := NewRecord(sample, index, pipeline.SessionID(ctx), time.Now())
	data, err := rec.Marshal()
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := r.stream.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := r.stream.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	r.recorded++
	r.bytes += uint64(len(data) + len(prefix))
	r.metrics.RecordSampleRecorded()

	r.logger.Debug("Sample recorded",
		slog.Uint64("index", index),
		slog.Int("recorded", r.recorded),
	)

	if r.cfg.Limit > 0 && r.recorded >= r.cfg.Limit {
		r.done = true
		r.logger.Info("Recording complete",
			slog.String("path", r.cfg.Path),
			slog.Int("records", r.recorded),
		)
	}

	return nil
}

// scheduled reports whether the sample at index (0-based) is recorded
func (r *Recorder) scheduled(index uint64) bool {
	start := uint64(r.cfg.StartAfter)
	return index >= start && (index-start)%uint64(r.cfg.Every) == 0
}

// Sync requests a stop once the recording is complete and StopWhenDone is set
func (r *Recorder) Sync(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.StopWhenDone && r.done
}

// Stats returns recorder statistics
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStats{
		Path:     r.cfg.Path,
		Seen:     r.seen,
		Recorded: r.recorded,
		Bytes:    r.bytes,
		Done:     r.done,
	}
}

// Close flushes the compressed stream and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	streamErr := r.stream.Close()
	fileErr := r.file.Close()
	if err := errors.Join(streamErr, fileErr); err != nil {
		return fmt.Errorf("failed to close recording %s: %w", r.cfg.Path, err)
	}
	return nil
}

// RecordingReader reads records back from a recording file
type RecordingReader struct {
	file        *os.File
	stream      io.Reader
	release     func()
	compression Compression
	lenBuf      [4]byte
}

// OpenRecording opens a recording written by a Recorder
func OpenRecording(path string) (*RecordingReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording %s: %w", path, err)
	}

	var header [recordingHeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read recording header: %w", err)
	}
	if [6]byte(header[:6]) != recordingMagic {
		file.Close()
		return nil, fmt.Errorf("%s is not a recording", path)
	}

	compression := Compression(header[6])
	stream, release, err := newDecompressor(file, compression)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &RecordingReader{
		file:        file,
		stream:      stream,
		release:     release,
		compression: compression,
	}, nil
}

// Compression returns the compression used by the file
func (r *RecordingReader) Compression() Compression {
	return r.compression
}

// Next returns the next record, or io.EOF after the last one
func (r *RecordingReader) Next() (*Record, error) {
	if _, err := io.ReadFull(r.stream, r.lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read record length: %w", err)
	}

	size := binary.BigEndian.Uint32(r.lenBuf[:])
	if size > maxRecordSize {
		return nil, fmt.Errorf("record length %d exceeds maximum %d", size, maxRecordSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r.stream, data); err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	return UnmarshalRecord(data)
}

// Close releases the decompressor and closes the file
func (r *RecordingReader) Close() error {
	if r.release != nil {
		r.release()
	}
	return r.file.Close()
}

func newCompressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return &flushCloser{bufio.NewWriter(w)}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder initialization failed: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compression)
	}
}

func newDecompressor(r io.Reader, compression Compression) (io.Reader, func(), error) {
	switch compression {
	case CompressionNone:
		return bufio.NewReader(r), nil, nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decoder initialization failed: %w", err)
		}
		return dec, dec.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %s", compression)
	}
}

// flushCloser flushes a bufio.Writer on Close
type flushCloser struct {
	*bufio.Writer
}

func (f *flushCloser) Close() error {
	return f.Flush()
}

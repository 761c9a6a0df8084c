package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

const (
	wavHeaderSize = 44

	// MaxChannels is the largest interleaved channel count accepted
	MaxChannels = 2

	// maxWAVDataSize keeps the RIFF chunk size (36 + data) within 32 bits
	maxWAVDataSize = (math.MaxUint32 - 36) &^ 1
)

// ErrWAVFull is returned once a WAV file cannot take more samples
var ErrWAVFull = errors.New("WAV data chunk is full")

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds a PCM-16 header for dataSize bytes of interleaved samples
func newWAVHeader(sampleRate, channels int, dataSize uint32) WAVHeader {
	numChannels := uint16(channels)
	bitsPerSample := uint16(16)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := newWAVHeader(sampleRate, 1, uint32(len(samples)*2))
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes WAV format data back to PCM-16 samples. Multi-channel
// data is returned interleaved.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 || header.BitsPerSample != 16 || header.NumChannels < 1 || header.NumChannels > MaxChannels {
		return nil, 0, fmt.Errorf("unsupported WAV format: format=%d bits=%d channels=%d (only PCM-16, 1-2 channels)",
			header.AudioFormat, header.BitsPerSample, header.NumChannels)
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples > (len(data)-wavHeaderSize)/2 {
		return nil, 0, fmt.Errorf("WAV data truncated: header declares %d samples", numSamples)
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(buf, binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(header.SampleRate), nil
}

// WAVWriter streams interleaved PCM-16 samples into a WAV file. The RIFF and
// data sizes are written with a placeholder and patched on Close.
type WAVWriter struct {
	mu         sync.Mutex
	file       *os.File
	w          *bufio.Writer
	sampleRate int
	channels   int
	dataSize   uint32
	closed     bool
}

// NewWAVWriter creates the file at path and writes a provisional header
func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("channels must be between 1 and %d, got %d", MaxChannels, channels)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	w := &WAVWriter{
		file:       file,
		w:          bufio.NewWriter(file),
		sampleRate: sampleRate,
		channels:   channels,
	}

	if err := binary.Write(w.w, binary.LittleEndian, newWAVHeader(sampleRate, channels, 0)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return w, nil
}

// WriteSamples appends samples to the data chunk. It returns ErrWAVFull,
// writing nothing, when the samples would not fit in a 32-bit data chunk.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAV writer is closed")
	}
	if uint64(w.dataSize)+uint64(len(samples))*2 > maxWAVDataSize {
		return ErrWAVFull
	}

	if err := binary.Write(w.w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	w.dataSize += uint32(len(samples) * 2)
	return nil
}

// Samples returns the number of samples written so far
func (w *WAVWriter) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.dataSize / 2)
}

// Close flushes buffered samples, patches the header sizes and closes the file
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush audio data: %w", err)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek to WAV header: %w", err)
	}

	if err := binary.Write(w.file, binary.LittleEndian, newWAVHeader(w.sampleRate, w.channels, w.dataSize)); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}

	return w.file.Close()
}

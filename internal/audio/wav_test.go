package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// sineWave generates a 440Hz tone at half amplitude
func sineWave(sampleRate int, duration float64) []int16 {
	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 44100
	samples := sineWave(sampleRate, 0.1)

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if string(wavData[0:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" || string(wavData[36:40]) != "data" {
		t.Errorf("Invalid WAV markers")
	}

	if rate := binary.LittleEndian.Uint32(wavData[24:28]); rate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, rate)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 44100

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, 44100); err == nil {
		t.Error("Expected error for empty samples")
	}

	samples := []int16{100, 200, 300}
	if _, err := EncodeWAV(samples, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV(samples, -1000); err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{
			name: "too short",
			data: func() []byte { return []byte{1, 2, 3} },
		},
		{
			name: "bad RIFF marker",
			data: func() []byte {
				data, _ := EncodeWAV([]int16{1, 2}, 8000)
				copy(data[0:4], "FAKE")
				return data
			},
		},
		{
			name: "truncated data",
			data: func() []byte {
				data, _ := EncodeWAV([]int16{1, 2, 3, 4}, 8000)
				return data[:len(data)-2]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data()); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.wav")
	sampleRate := 44100

	writer, err := NewWAVWriter(path, sampleRate, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	chunks := [][]int16{{1, 2, 3}, {}, {-4, -5}, sineWave(sampleRate, 0.01)}
	var expected []int16
	for _, chunk := range chunks {
		if err := writer.WriteSamples(chunk); err != nil {
			t.Fatalf("WriteSamples failed: %v", err)
		}
		expected = append(expected, chunk...)
	}

	if writer.Samples() != len(expected) {
		t.Errorf("Expected %d samples written, got %d", len(expected), writer.Samples())
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if err := writer.WriteSamples([]int16{1}); err == nil {
		t.Error("Expected error writing to a closed writer")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV file: %v", err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, rate)
	}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}

	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != uint32(len(data)-8) {
		t.Errorf("Expected RIFF size %d, got %d", len(data)-8, riff)
	}
}

func TestNewWAVWriterValidation(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		expectErr  bool
	}{
		{name: "mono", sampleRate: 44100, channels: 1},
		{name: "stereo", sampleRate: 48000, channels: 2},
		{name: "zero channels", sampleRate: 44100, channels: 0, expectErr: true},
		{name: "too many channels", sampleRate: 44100, channels: 6, expectErr: true},
		{name: "zero sample rate", sampleRate: 0, channels: 1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWAVWriter(filepath.Join(t.TempDir(), "out.wav"), tt.sampleRate, tt.channels)
			if tt.expectErr {
				if err == nil {
					w.Close()
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestWAVWriterStereoHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writer, err := NewWAVWriter(path, 48000, 2)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	interleaved := []int16{1, -1, 2, -2, 3, -3}
	if err := writer.WriteSamples(interleaved); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV file: %v", err)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 2 {
		t.Errorf("Expected 2 channels, got %d", channels)
	}
	if byteRate := binary.LittleEndian.Uint32(data[28:32]); byteRate != 48000*2*2 {
		t.Errorf("Expected byte rate %d, got %d", 48000*2*2, byteRate)
	}
	if align := binary.LittleEndian.Uint16(data[32:34]); align != 4 {
		t.Errorf("Expected block align 4, got %d", align)
	}

	samples, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != len(interleaved) {
		t.Errorf("Expected %d interleaved samples, got %d", len(interleaved), len(samples))
	}
}

func TestWAVWriterFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writer, err := NewWAVWriter(path, 44100, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	// pretend hours of audio were already written
	writer.dataSize = maxWAVDataSize - 4

	if err := writer.WriteSamples([]int16{1, 2}); err != nil {
		t.Fatalf("Expected the last samples to fit, got %v", err)
	}
	if err := writer.WriteSamples([]int16{3}); !errors.Is(err, ErrWAVFull) {
		t.Fatalf("Expected ErrWAVFull, got %v", err)
	}
	if writer.dataSize != maxWAVDataSize {
		t.Errorf("Expected data size to stop at %d, got %d", uint32(maxWAVDataSize), writer.dataSize)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV file: %v", err)
	}
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != math.MaxUint32-1 {
		t.Errorf("Expected RIFF size %d, got %d", uint32(math.MaxUint32-1), riff)
	}
}

func TestEncodePCM(t *testing.T) {
	out := encodePCM(nil, []int16{1, -1, 256})
	expected := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x01}
	if string(out) != string(expected) {
		t.Errorf("Expected %v, got %v", expected, out)
	}
}

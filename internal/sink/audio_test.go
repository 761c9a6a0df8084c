package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/djsamseng/Ray/internal/audio"
	"github.com/djsamseng/Ray/internal/message"
)

type fakePlayer struct {
	played []int16
	err    error
	closed bool
}

func (p *fakePlayer) Play(samples []int16) error {
	if p.err != nil {
		return p.err
	}
	p.played = append(p.played, samples...)
	return nil
}

func (p *fakePlayer) Close() error {
	p.closed = true
	return nil
}

func TestAudioSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.wav")
	wav, err := audio.NewWAVWriter(path, 44100, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	player := &fakePlayer{}
	sink := NewAudioSink(player, wav, testLogger())

	chunks := []*message.AudioSample{
		{Samples: []int16{1, 2, 3}},
		{Samples: []int16{-1, -2}},
	}
	for _, chunk := range chunks {
		if err := sink.Deliver(context.Background(), chunk); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}

	if sink.Samples() != 5 {
		t.Errorf("Expected 5 samples, got %d", sink.Samples())
	}
	if len(player.played) != 5 || player.played[3] != -1 {
		t.Errorf("Unexpected played samples %v", player.played)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !player.closed {
		t.Error("Expected player to be closed")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read WAV: %v", err)
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 44100 || len(samples) != 5 {
		t.Errorf("Unexpected WAV contents rate=%d samples=%v", rate, samples)
	}
}

// limitedWriter accepts up to capacity samples, then reports a full file
type limitedWriter struct {
	capacity int
	written  int
	writes   int
}

func (w *limitedWriter) WriteSamples(samples []int16) error {
	w.writes++
	if w.written+len(samples) > w.capacity {
		return audio.ErrWAVFull
	}
	w.written += len(samples)
	return nil
}

func (w *limitedWriter) Close() error { return nil }

func TestAudioSinkWAVFull(t *testing.T) {
	writer := &limitedWriter{capacity: 4}
	player := &fakePlayer{}
	sink := NewAudioSink(player, writer, testLogger())

	for i := 0; i < 5; i++ {
		if err := sink.Deliver(context.Background(), &message.AudioSample{Samples: []int16{1, 2, 3}}); err != nil {
			t.Fatalf("chunk %d: a full WAV file must not fail delivery, got %v", i, err)
		}
	}

	if writer.written != 3 {
		t.Errorf("Expected 3 samples in the file, got %d", writer.written)
	}
	if writer.writes != 2 {
		t.Errorf("Expected writes to stop after the file filled up, got %d attempts", writer.writes)
	}
	if len(player.played) != 15 {
		t.Errorf("Expected playback to continue, got %d samples", len(player.played))
	}
}

func TestAudioSinkPlayerError(t *testing.T) {
	player := &fakePlayer{err: errors.New("device busy")}
	sink := NewAudioSink(player, nil, testLogger())

	err := sink.Deliver(context.Background(), &message.AudioSample{Samples: []int16{1}})
	if err == nil {
		t.Fatal("Expected playback error")
	}
	if sink.Samples() != 1 {
		t.Errorf("Samples must be counted even when playback fails, got %d", sink.Samples())
	}
}

func TestAudioSinkNoOutputs(t *testing.T) {
	sink := NewAudioSink(nil, nil, testLogger())
	if err := sink.Deliver(context.Background(), &message.AudioSample{Samples: []int16{1, 2}}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestAudioSinkLevelMeter(t *testing.T) {
	sink := NewAudioSink(nil, nil, testLogger())
	if _, ok := sink.LevelStats(); ok {
		t.Error("Expected no level stats without a meter")
	}

	meter, err := audio.NewLevelMeter(0.1, 1)
	if err != nil {
		t.Fatalf("NewLevelMeter failed: %v", err)
	}
	sink.WithLevelMeter(meter)

	chunks := []*message.AudioSample{
		{Samples: []int16{0, 0, 0, 0}},
		{Samples: []int16{16384, -16384, 16384, -16384}},
		{Samples: []int16{0, 0, 0, 0}},
	}
	for _, chunk := range chunks {
		if err := sink.Deliver(context.Background(), chunk); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}

	stats, ok := sink.LevelStats()
	if !ok {
		t.Fatal("Expected level stats")
	}
	if stats.Chunks != 3 || stats.ActiveChunks != 1 {
		t.Errorf("Unexpected level stats %+v", stats)
	}
}

package audio

import (
	"fmt"
	"math"
	"sync"
)

// MinDBFS is reported for digital silence
const MinDBFS = -120.0

// Level describes the loudness of one chunk of PCM-16 audio
type Level struct {
	RMS    float64 `json:"rms"`    // 0.0 - 1.0 of full scale
	Peak   float64 `json:"peak"`   // 0.0 - 1.0 of full scale
	DBFS   float64 `json:"dbfs"`   // floored at MinDBFS
	Active bool    `json:"active"` // smoothed RMS at or above the threshold
}

// LevelStats represents level meter statistics
type LevelStats struct {
	Chunks        uint64  `json:"chunks"`
	ActiveChunks  uint64  `json:"active_chunks"`
	ActivePercent float64 `json:"active_percent"`
	Threshold     float64 `json:"threshold"`
	LastLevel     Level   `json:"last_level"`
}

// LevelMeter measures chunk loudness and tracks whether the microphone hears
// anything. The activity decision uses an exponentially smoothed RMS.
type LevelMeter struct {
	threshold float64
	smoothing float64

	mu           sync.Mutex
	smoothed     float64
	chunks       uint64
	activeChunks uint64
	last         Level
}

// NewLevelMeter creates a LevelMeter. threshold is the RMS fraction of full
// scale above which a chunk counts as active; smoothing in (0, 1] weights the
// newest chunk.
func NewLevelMeter(threshold, smoothing float64) (*LevelMeter, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", smoothing)
	}
	return &LevelMeter{threshold: threshold, smoothing: smoothing}, nil
}

// Measure computes the level of samples and updates the activity state
func (m *LevelMeter) Measure(samples []int16) Level {
	level := MeasureLevel(samples)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chunks == 0 {
		m.smoothed = level.RMS
	} else {
		m.smoothed = m.smoothing*level.RMS + (1-m.smoothing)*m.smoothed
	}
	level.Active = m.smoothed >= m.threshold

	m.chunks++
	if level.Active {
		m.activeChunks++
	}
	m.last = level
	return level
}

// Stats returns level meter statistics
func (m *LevelMeter) Stats() LevelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	percent := 0.0
	if m.chunks > 0 {
		percent = float64(m.activeChunks) / float64(m.chunks) * 100
	}
	return LevelStats{
		Chunks:        m.chunks,
		ActiveChunks:  m.activeChunks,
		ActivePercent: percent,
		Threshold:     m.threshold,
		LastLevel:     m.last,
	}
}

// MeasureLevel computes RMS, peak and dBFS without any smoothing
func MeasureLevel(samples []int16) Level {
	if len(samples) == 0 {
		return Level{DBFS: MinDBFS}
	}

	var energy float64
	var peak float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		energy += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	dbfs := MinDBFS
	if rms > 0 {
		dbfs = math.Max(20*math.Log10(rms), MinDBFS)
	}

	return Level{
		RMS:  rms,
		Peak: peak,
		DBFS: dbfs,
	}
}

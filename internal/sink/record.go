package sink

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/djsamseng/Ray/internal/message"
)

// Record is the serialized form of a Sample used for recordings and Redis
type Record struct {
	Sequence            uint64    `msgpack:"seq"`
	SessionID           string    `msgpack:"session_id"`
	Timestamp           time.Time `msgpack:"ts"`
	Color               []byte    `msgpack:"color"`
	DepthWidth          int       `msgpack:"depth_width"`
	DepthHeight         int       `msgpack:"depth_height"`
	Depth               []float32 `msgpack:"depth"`
	Pose                []float32 `msgpack:"pose,omitempty"`
	Acceleration        []float32 `msgpack:"acceleration,omitempty"`
	Intrinsics          []float32 `msgpack:"intrinsics,omitempty"`
	ReferenceDimensions []float64 `msgpack:"reference_dimensions,omitempty"`
}

// NewRecord flattens a sample into a Record
func NewRecord(sample *message.Sample, seq uint64, sessionID string, ts time.Time) *Record {
	rec := &Record{
		Sequence:  seq,
		SessionID: sessionID,
		Timestamp: ts,
		Color:     sample.Color,
	}

	if sample.Depth != nil {
		rec.DepthWidth = sample.Depth.Width
		rec.DepthHeight = sample.Depth.Height
		rec.Depth = sample.Depth.Data
	}

	if sample.Pose != nil {
		rec.Pose = make([]float32, 0, 16)
		for _, col := range sample.Pose {
			rec.Pose = append(rec.Pose, col[:]...)
		}
	}

	if sample.Acceleration != nil {
		rec.Acceleration = append([]float32(nil), sample.Acceleration[:]...)
	}

	if sample.Intrinsics != nil {
		rec.Intrinsics = make([]float32, 0, 9)
		for _, col := range sample.Intrinsics {
			rec.Intrinsics = append(rec.Intrinsics, col[:]...)
		}
	}

	if sample.ReferenceDimensions != nil {
		rec.ReferenceDimensions = append([]float64(nil), sample.ReferenceDimensions[:]...)
	}

	return rec
}

// Sample rebuilds the sample, checking that every array has its expected shape
func (r *Record) Sample() (*message.Sample, error) {
	sample := &message.Sample{Color: r.Color}

	if r.DepthWidth < 0 || r.DepthHeight < 0 || len(r.Depth) != r.DepthWidth*r.DepthHeight {
		return nil, fmt.Errorf("record %d: depth has %d values for %dx%d", r.Sequence, len(r.Depth), r.DepthWidth, r.DepthHeight)
	}
	sample.Depth = &message.DepthMap{Width: r.DepthWidth, Height: r.DepthHeight, Data: r.Depth}

	if r.Pose != nil {
		if len(r.Pose) != 16 {
			return nil, fmt.Errorf("record %d: pose has %d values", r.Sequence, len(r.Pose))
		}
		var pose message.Pose
		for i, v := range r.Pose {
			pose[i/4][i%4] = v
		}
		sample.Pose = &pose
	}

	if r.Acceleration != nil {
		if len(r.Acceleration) != 3 {
			return nil, fmt.Errorf("record %d: acceleration has %d values", r.Sequence, len(r.Acceleration))
		}
		sample.Acceleration = &[3]float32{r.Acceleration[0], r.Acceleration[1], r.Acceleration[2]}
	}

	if r.Intrinsics != nil {
		if len(r.Intrinsics) != 9 {
			return nil, fmt.Errorf("record %d: intrinsics has %d values", r.Sequence, len(r.Intrinsics))
		}
		var intrinsics [3][3]float32
		for i, v := range r.Intrinsics {
			intrinsics[i/3][i%3] = v
		}
		sample.Intrinsics = &intrinsics
	}

	if r.ReferenceDimensions != nil {
		if len(r.ReferenceDimensions) != 2 {
			return nil, fmt.Errorf("record %d: reference dimensions has %d values", r.Sequence, len(r.ReferenceDimensions))
		}
		sample.ReferenceDimensions = &[2]float64{r.ReferenceDimensions[0], r.ReferenceDimensions[1]}
	}

	return sample, nil
}

// Marshal encodes the record with msgpack
func (r *Record) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %d: %w", r.Sequence, err)
	}
	return data, nil
}

// UnmarshalRecord decodes a msgpack record
func UnmarshalRecord(data []byte) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

package message

import (
	"fmt"
	"math"
)

// DepthMode selects the depth grid row width
type DepthMode int

const (
	// ModeStandard is the LiDAR depth camera stream (320x240)
	ModeStandard DepthMode = iota
	// ModeAR is the ARKit scene depth stream (256x192)
	ModeAR
)

// Row widths of the two depth streams
const (
	StandardRowWidth = 320
	ARRowWidth       = 256
)

// RowWidth returns the number of depth columns for the mode
func (m DepthMode) RowWidth() int {
	switch m {
	case ModeAR:
		return ARRowWidth
	default:
		return StandardRowWidth
	}
}

// String returns the configuration name of the mode
func (m DepthMode) String() string {
	switch m {
	case ModeAR:
		return "ar"
	case ModeStandard:
		return "standard"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseDepthMode parses "ar" or "standard"
func ParseDepthMode(name string) (DepthMode, error) {
	switch name {
	case "ar":
		return ModeAR, nil
	case "standard", "":
		return ModeStandard, nil
	default:
		return 0, fmt.Errorf("unknown depth mode: %q", name)
	}
}

// DepthMap is a row-major grid of depth values in meters
type DepthMap struct {
	Width  int
	Height int
	Data   []float32
}

// At returns the depth at the given row and column
func (d *DepthMap) At(row, col int) float32 {
	return d.Data[row*d.Width+col]
}

// Row returns one row of the grid
func (d *DepthMap) Row(row int) []float32 {
	return d.Data[row*d.Width : (row+1)*d.Width]
}

// Range returns the minimum and maximum finite depth values.
// ok is false when the map has no finite values.
func (d *DepthMap) Range() (min, max float32, ok bool) {
	for _, v := range d.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if !ok {
			min, max, ok = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, ok
}

// Pose is a 4x4 camera transform as sent by the device.
// The device encodes simd matrices column by column, so Pose[3] is the translation column.
type Pose [4][4]float32

// Translation returns the camera position [right/left, up/down, back/forward]
func (p *Pose) Translation() [3]float32 {
	return [3]float32{p[3][0], p[3][1], p[3][2]}
}

// Sample is one decoded message from the primary stream
type Sample struct {
	// Color is the compressed color image (JPEG), passed through undecoded
	Color []byte
	// Depth is the depth grid
	Depth *DepthMap
	// Pose is the camera transform, nil when the message has none
	Pose *Pose
	// Acceleration is the user acceleration vector, nil when the message has none
	Acceleration *[3]float32
	// Intrinsics is the 3x3 camera intrinsic matrix, nil when the message has none
	Intrinsics *[3][3]float32
	// ReferenceDimensions is the [width, height] the intrinsics refer to
	ReferenceDimensions *[2]float64
	// Size is the encoded message size in bytes
	Size int
}

// AudioSample is one decoded message from the side channel
type AudioSample struct {
	// Samples is mono signed 16-bit PCM
	Samples []int16
	// Size is the encoded message size in bytes
	Size int
}

// String returns a human-readable summary of the sample
func (s *Sample) String() string {
	depth := "none"
	if s.Depth != nil {
		depth = fmt.Sprintf("%dx%d", s.Depth.Width, s.Depth.Height)
	}
	return fmt.Sprintf("Sample{ColorLen:%d, Depth:%s, Pose:%t, Acceleration:%t, Size:%d}",
		len(s.Color), depth, s.Pose != nil, s.Acceleration != nil, s.Size)
}

package emulator

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/djsamseng/Ray/internal/message"
)

// GeneratorConfig controls the synthetic samples
type GeneratorConfig struct {
	Mode        message.DepthMode
	DepthHeight int
	ColorWidth  int
	ColorHeight int

	SampleRate int
	ToneHz     float64
	ChunkSize  int // audio samples per message
}

// DefaultGeneratorConfig returns a small standard-mode stream with a 440 Hz tone
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Mode:        message.ModeStandard,
		DepthHeight: 240,
		ColorWidth:  320,
		ColorHeight: 240,
		SampleRate:  44100,
		ToneHz:      440,
		ChunkSize:   4410,
	}
}

// Validate checks the generator configuration
func (c *GeneratorConfig) Validate() error {
	if c.DepthHeight < 1 {
		return fmt.Errorf("depth height must be positive, got %d", c.DepthHeight)
	}
	if c.ColorWidth < 1 || c.ColorHeight < 1 {
		return fmt.Errorf("color size must be positive, got %dx%d", c.ColorWidth, c.ColorHeight)
	}
	if c.SampleRate < 1 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("audio chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// samplePayload is the JSON document the device sends on the primary stream
type samplePayload struct {
	ColorImage          []byte        `json:"colorImage"`
	DepthImage          []byte        `json:"depthImage"`
	CameraTranslation   [4][4]float32 `json:"cameraTranslation"`
	UserAcceleration    [3]float32    `json:"userAcceleration"`
	CameraIntrinsics    [3][3]float32 `json:"cameraIntrinsics"`
	ReferenceDimensions [2]float64    `json:"cameraReferenceDimesnions"`
}

type audioPayload struct {
	AudioData []byte `json:"audioData"`
}

// Generator produces deterministic synthetic payloads
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator creates a Generator
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

// Sample returns the payload of the i-th primary stream message. The camera
// moves 1 cm along x per sample and the depth ramps with the row index.
func (g *Generator) Sample(i int) ([]byte, error) {
	colorImage, err := g.colorImage(i)
	if err != nil {
		return nil, err
	}

	width := g.cfg.Mode.RowWidth()
	depth := make([]byte, 4*width*g.cfg.DepthHeight)
	for row := 0; row < g.cfg.DepthHeight; row++ {
		for col := 0; col < width; col++ {
			v := 0.5 + float32(row)/float32(g.cfg.DepthHeight)*4 + float32(i%10)*0.01
			binary.LittleEndian.PutUint32(depth[4*(row*width+col):], math.Float32bits(v))
		}
	}

	payload := samplePayload{
		ColorImage: colorImage,
		DepthImage: depth,
		CameraTranslation: [4][4]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
			{float32(i) / 100, 1.5, 0, 1},
		},
		UserAcceleration: [3]float32{0, -0.01 * float32(i%3), 0},
		CameraIntrinsics: [3][3]float32{
			{float32(g.cfg.ColorWidth), 0, 0},
			{0, float32(g.cfg.ColorWidth), 0},
			{float32(g.cfg.ColorWidth) / 2, float32(g.cfg.ColorHeight) / 2, 1},
		},
		ReferenceDimensions: [2]float64{float64(g.cfg.ColorWidth), float64(g.cfg.ColorHeight)},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample %d: %w", i, err)
	}
	return data, nil
}

// Audio returns the payload of the i-th audio message, a continuous sine tone
func (g *Generator) Audio(i int) ([]byte, error) {
	pcm := make([]byte, 2*g.cfg.ChunkSize)
	offset := i * g.cfg.ChunkSize
	for n := 0; n < g.cfg.ChunkSize; n++ {
		t := float64(offset+n) / float64(g.cfg.SampleRate)
		v := int16(math.Sin(2*math.Pi*g.cfg.ToneHz*t) * 0.25 * math.MaxInt16)
		binary.LittleEndian.PutUint16(pcm[2*n:], uint16(v))
	}

	data, err := json.Marshal(audioPayload{AudioData: pcm})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio %d: %w", i, err)
	}
	return data, nil
}

// colorImage renders a moving gradient as JPEG
func (g *Generator) colorImage(i int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, g.cfg.ColorWidth, g.cfg.ColorHeight))
	for y := 0; y < g.cfg.ColorHeight; y++ {
		for x := 0; x < g.cfg.ColorWidth; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + i*4) % 256),
				G: uint8(y * 255 / g.cfg.ColorHeight),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("failed to encode color image %d: %w", i, err)
	}
	return buf.Bytes(), nil
}

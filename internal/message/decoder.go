package message

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// JSON keys sent by the device
const (
	FieldColorImage          = "colorImage"
	FieldDepthImage          = "depthImage"
	FieldCameraTranslation   = "cameraTranslation"
	FieldUserAcceleration    = "userAcceleration"
	FieldCameraIntrinsics    = "cameraIntrinsics"
	FieldReferenceDimensions = "cameraReferenceDimesnions" // spelled as the device sends it
	FieldAudioData           = "audioData"
)

// Decoder decodes primary stream messages into Samples
type Decoder struct {
	rowWidth int
}

// NewDecoder creates a decoder for the given depth mode
func NewDecoder(mode DepthMode) *Decoder {
	return &Decoder{rowWidth: mode.RowWidth()}
}

// NewDecoderWithRowWidth creates a decoder with an explicit depth row width
func NewDecoderWithRowWidth(rowWidth int) (*Decoder, error) {
	if rowWidth <= 0 {
		return nil, fmt.Errorf("row width must be positive, got %d", rowWidth)
	}
	return &Decoder{rowWidth: rowWidth}, nil
}

// RowWidth returns the configured depth row width
func (d *Decoder) RowWidth() int {
	return d.rowWidth
}

// Decode parses one message buffer. Optional fields that are absent are left nil.
func (d *Decoder) Decode(buf []byte) (*Sample, error) {
	doc, err := parseDocument(buf)
	if err != nil {
		return nil, err
	}

	color, err := requiredBase64(doc, FieldColorImage)
	if err != nil {
		return nil, err
	}

	depthBytes, err := requiredBase64(doc, FieldDepthImage)
	if err != nil {
		return nil, err
	}

	depth, err := reshapeDepth(depthBytes, d.rowWidth)
	if err != nil {
		return nil, err
	}

	sample := &Sample{
		Color: color,
		Depth: depth,
		Size:  len(buf),
	}

	if values, ok, err := optionalNumbers(doc, FieldCameraTranslation, 16); err != nil {
		return nil, err
	} else if ok {
		var pose Pose
		for i := range values {
			pose[i/4][i%4] = float32(values[i])
		}
		sample.Pose = &pose
	}

	if values, ok, err := optionalNumbers(doc, FieldUserAcceleration, 3); err != nil {
		return nil, err
	} else if ok {
		sample.Acceleration = &[3]float32{float32(values[0]), float32(values[1]), float32(values[2])}
	}

	if values, ok, err := optionalNumbers(doc, FieldCameraIntrinsics, 9); err != nil {
		return nil, err
	} else if ok {
		var intrinsics [3][3]float32
		for i := range values {
			intrinsics[i/3][i%3] = float32(values[i])
		}
		sample.Intrinsics = &intrinsics
	}

	if values, ok, err := optionalNumbers(doc, FieldReferenceDimensions, 2); err != nil {
		return nil, err
	} else if ok {
		sample.ReferenceDimensions = &[2]float64{values[0], values[1]}
	}

	return sample, nil
}

// AudioDecoder decodes side channel messages into AudioSamples
type AudioDecoder struct{}

// NewAudioDecoder creates an audio message decoder
func NewAudioDecoder() *AudioDecoder {
	return &AudioDecoder{}
}

// Decode parses one audio message buffer into little-endian PCM-16 samples
func (a *AudioDecoder) Decode(buf []byte) (*AudioSample, error) {
	doc, err := parseDocument(buf)
	if err != nil {
		return nil, err
	}

	raw, err := requiredBase64(doc, FieldAudioData)
	if err != nil {
		return nil, err
	}

	if len(raw)%2 != 0 {
		return nil, newDecodeError(ErrShapeMismatch, FieldAudioData,
			fmt.Errorf("audio data length must be even, got %d bytes", len(raw)))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return &AudioSample{Samples: samples, Size: len(buf)}, nil
}

// parseDocument parses the top-level JSON object, keeping values raw
func parseDocument(buf []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, newDecodeError(ErrMalformedMessage, "", err)
	}
	if doc == nil {
		return nil, newDecodeError(ErrMalformedMessage, "", fmt.Errorf("message is not a JSON object"))
	}
	return doc, nil
}

// requiredBase64 extracts and decodes a base64 string field. A null value counts as missing.
func requiredBase64(doc map[string]json.RawMessage, field string) ([]byte, error) {
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return nil, newDecodeError(ErrMissingField, field, nil)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, newDecodeError(ErrMalformedMessage, field, fmt.Errorf("expected base64 string: %w", err))
	}

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, newDecodeError(ErrInvalidEncoding, field, err)
	}

	return data, nil
}

// reshapeDepth reinterprets little-endian float32 bytes as a grid of rowWidth columns
func reshapeDepth(data []byte, rowWidth int) (*DepthMap, error) {
	rowBytes := 4 * rowWidth
	if len(data)%rowBytes != 0 {
		return nil, newDecodeError(ErrShapeMismatch, FieldDepthImage,
			fmt.Errorf("%d bytes is not a multiple of %d (row width %d)", len(data), rowBytes, rowWidth))
	}

	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	return &DepthMap{
		Width:  rowWidth,
		Height: len(data) / rowBytes,
		Data:   values,
	}, nil
}

// optionalNumbers flattens a nested numeric array field and checks its element count.
// ok is false when the field is absent or null.
func optionalNumbers(doc map[string]json.RawMessage, field string, count int) ([]float64, bool, error) {
	raw, present := doc[field]
	if !present || string(raw) == "null" {
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, newDecodeError(ErrMalformedMessage, field, err)
	}

	values, err := flattenNumbers(value, nil)
	if err != nil {
		return nil, false, newDecodeError(ErrShapeMismatch, field, err)
	}

	if len(values) != count {
		return nil, false, newDecodeError(ErrShapeMismatch, field,
			fmt.Errorf("expected %d numbers, got %d", count, len(values)))
	}

	return values, true, nil
}

func flattenNumbers(value any, out []float64) ([]float64, error) {
	switch v := value.(type) {
	case float64:
		return append(out, v), nil
	case []any:
		var err error
		for _, item := range v {
			if out, err = flattenNumbers(item, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected numeric array, found %T", value)
	}
}

package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
)

// makeHeader joins fields and pads the last one with spaces up to FrameHeaderSize
func makeHeader(t *testing.T, fields []string) []byte {
	t.Helper()
	text := strings.Join(fields, HeaderFieldSeparator)
	if len(text) > FrameHeaderSize {
		t.Fatalf("test header too long: %d bytes", len(text))
	}
	return []byte(text + strings.Repeat(" ", FrameHeaderSize-len(text)))
}

// makeFrame builds header + payload + trailer as the device writes it
func makeFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	header, err := EncodeFrameHeader(len(payload))
	if err != nil {
		t.Fatalf("EncodeFrameHeader failed: %v", err)
	}
	frame := append([]byte{}, header...)
	frame = append(frame, payload...)
	return append(frame, '\r', '\n')
}

// chunkReader returns at most chunk bytes per Read call
type chunkReader struct {
	data  []byte
	chunk int
	reads int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	c.reads++
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

// zeroReader returns zero bytes and no error forever
type zeroReader struct{ reads int }

func (z *zeroReader) Read(p []byte) (int, error) {
	z.reads++
	return 0, nil
}

func TestParseFrameHeader(t *testing.T) {
	deviceHeader, err := EncodeFrameHeader(1234)
	if err != nil {
		t.Fatalf("EncodeFrameHeader failed: %v", err)
	}

	tests := []struct {
		name           string
		data           []byte
		expectError    bool
		errorMsg       string
		expectedLength int
	}{
		{
			name:           "device header",
			data:           deviceHeader,
			expectedLength: 1234,
		},
		{
			name:           "label without colon",
			data:           makeHeader(t, []string{"", "", ContentTypeMarker, "Content-Length 42", "", ""}),
			expectedLength: 42,
		},
		{
			name:           "zero length",
			data:           makeHeader(t, []string{"", "--x", ContentTypeMarker, "Content-Length: 0", "", ""}),
			expectedLength: 0,
		},
		{
			name:        "too few fields",
			data:        makeHeader(t, []string{"", ContentTypeMarker, "Content-Length: 42", ""}),
			expectError: true,
			errorMsg:    "field count mismatch",
		},
		{
			name:        "too many fields",
			data:        makeHeader(t, []string{"", "", ContentTypeMarker, "Content-Length: 42", "", "", ""}),
			expectError: true,
			errorMsg:    "field count mismatch",
		},
		{
			name:        "wrong content type",
			data:        makeHeader(t, []string{"", "", "Content-Type: image/jpeg", "Content-Length: 42", "", ""}),
			expectError: true,
			errorMsg:    "unexpected content type",
		},
		{
			name:        "length not a number",
			data:        makeHeader(t, []string{"", "", ContentTypeMarker, "Content-Length: abc", "", ""}),
			expectError: true,
			errorMsg:    "malformed content length value",
		},
		{
			name:        "length without label",
			data:        makeHeader(t, []string{"", "", ContentTypeMarker, "42", "", ""}),
			expectError: true,
			errorMsg:    "malformed content length field",
		},
		{
			name:        "negative length",
			data:        makeHeader(t, []string{"", "", ContentTypeMarker, "Content-Length: -5", "", ""}),
			expectError: true,
			errorMsg:    "negative content length",
		},
		{
			name:        "short header",
			data:        []byte("\r\n\r\n"),
			expectError: true,
			errorMsg:    "frame header size mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseFrameHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.ContentLength != tt.expectedLength {
				t.Errorf("Expected length %d, got %d", tt.expectedLength, result.ContentLength)
			}
		})
	}
}

func TestEncodeFrameHeader(t *testing.T) {
	header, err := EncodeFrameHeader(42)
	if err != nil {
		t.Fatalf("EncodeFrameHeader failed: %v", err)
	}

	if len(header) != FrameHeaderSize {
		t.Errorf("Expected header size %d, got %d", FrameHeaderSize, len(header))
	}

	parsed, err := ParseFrameHeader(header)
	if err != nil {
		t.Fatalf("Encoded header does not parse: %v", err)
	}
	if parsed.ContentLength != 42 {
		t.Errorf("Expected length 42, got %d", parsed.ContentLength)
	}
	if parsed.Boundary != "--"+Boundary {
		t.Errorf("Expected boundary %q, got %q", "--"+Boundary, parsed.Boundary)
	}

	if _, err := EncodeFrameHeader(-1); err == nil {
		t.Error("Expected error for negative length")
	}
}

func TestEncodePreambleSize(t *testing.T) {
	if got := len(EncodePreamble()); got != PreambleSize {
		t.Errorf("Expected preamble size %d, got %d", PreambleSize, got)
	}
	if got := len(EncodeFrameFooter()); got != FrameFooterSize {
		t.Errorf("Expected footer size %d, got %d", FrameFooterSize, got)
	}
}

func TestConsumePreamble(t *testing.T) {
	next := []byte("NEXT")

	for _, chunk := range []int{1, 2, 7, 100, PreambleSize, 4096} {
		stream := append(append([]byte{}, EncodePreamble()...), next...)
		r := &chunkReader{data: stream, chunk: chunk}

		if err := ConsumePreamble(r, PreambleSize); err != nil {
			t.Fatalf("chunk %d: ConsumePreamble failed: %v", chunk, err)
		}

		if !bytes.Equal(r.data, next) {
			t.Errorf("chunk %d: expected stream positioned at %q, got %q", chunk, next, r.data)
		}
	}
}

func TestConsumePreambleConnectionLost(t *testing.T) {
	tests := []struct {
		name   string
		reader io.Reader
	}{
		{
			name:   "short stream",
			reader: &chunkReader{data: make([]byte, 100), chunk: 30},
		},
		{
			name:   "empty stream",
			reader: bytes.NewReader(nil),
		},
		{
			name:   "zero-length reads",
			reader: &zeroReader{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ConsumePreamble(tt.reader, PreambleSize)
			if !errors.Is(err, ErrConnectionLost) {
				t.Errorf("Expected ErrConnectionLost, got %v", err)
			}
		})
	}
}

func TestDemuxerChunkedReassembly(t *testing.T) {
	lengths := []int{0, 1, 42, 4096, 10000}
	chunks := []int{1, 3, 64, FrameHeaderSize, 1 << 20}

	for _, length := range lengths {
		payload := make([]byte, length)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		stream := makeFrame(t, payload)

		for _, chunk := range chunks {
			r := &chunkReader{data: append([]byte{}, stream...), chunk: chunk}
			d := NewDemuxer(r, 0)

			msg, err := d.Next()
			if err != nil {
				t.Fatalf("length %d chunk %d: Next failed: %v", length, chunk, err)
			}
			if !bytes.Equal(msg, payload) {
				t.Errorf("length %d chunk %d: payload mismatch (got %d bytes)", length, chunk, len(msg))
			}
			if d.State() != StateAwaitingHeader {
				t.Errorf("length %d chunk %d: expected state %s, got %s", length, chunk, StateAwaitingHeader, d.State())
			}
			if len(r.data) != 0 {
				t.Errorf("length %d chunk %d: %d bytes left unread", length, chunk, len(r.data))
			}
		}
	}
}

func TestDemuxerUnknownFrameThenValid(t *testing.T) {
	bad := makeHeader(t, []string{"", "", "Content-Type: text/plain", "Content-Length: 3", "", ""})
	payload := []byte(`{"a":1}`)
	stream := append(append([]byte{}, bad...), makeFrame(t, payload)...)

	r := &chunkReader{data: stream, chunk: 13}
	d := NewDemuxer(r, 0)

	_, err := d.Next()
	var unknown *UnknownFrameError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownFrameError, got %v", err)
	}
	if !bytes.Equal(unknown.Header, bad) {
		t.Errorf("Expected raw header bytes to be reported")
	}
	if d.State() != StateAwaitingHeader {
		t.Errorf("Expected state %s after unknown frame, got %s", StateAwaitingHeader, d.State())
	}
	if got := d.Stats().BytesRead; got != FrameHeaderSize {
		t.Errorf("Expected only %d bytes consumed by unknown frame, got %d", FrameHeaderSize, got)
	}

	msg, err := d.Next()
	if err != nil {
		t.Fatalf("Expected next frame to parse, got %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Errorf("Expected payload %q, got %q", payload, msg)
	}

	stats := d.Stats()
	if stats.Frames != 1 || stats.UnknownFrames != 1 {
		t.Errorf("Expected 1 frame and 1 unknown frame, got %+v", stats)
	}
}

// The protocol has no resynchronization marker: once the stream is shifted,
// every subsequent header read is misaligned and is surfaced as unknown.
func TestDemuxerNoResyncAfterMisalignment(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 200)
	stream := append(bytes.Repeat([]byte{0xAB}, 50), makeFrame(t, payload)...)

	d := NewDemuxer(bytes.NewReader(stream), 0)

	unknownCount := 0
	for {
		msg, err := d.Next()
		if err == nil {
			t.Fatalf("Expected misaligned stream never to yield a message, got %d bytes", len(msg))
		}
		if IsUnknownFrame(err) {
			unknownCount++
			continue
		}
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("Expected ErrConnectionLost at end of stream, got %v", err)
		}
		break
	}

	if unknownCount != 3 {
		t.Errorf("Expected 3 unknown frames, got %d", unknownCount)
	}
}

func TestDemuxerConnectionLostMidPayload(t *testing.T) {
	frame := makeFrame(t, bytes.Repeat([]byte("y"), 100))
	truncated := frame[:FrameHeaderSize+40]

	d := NewDemuxer(&chunkReader{data: truncated, chunk: 16}, 0)

	_, err := d.Next()
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost, got %v", err)
	}
	if IsUnknownFrame(err) {
		t.Error("Connection loss must not be reported as an unknown frame")
	}
	if d.State() != StateAwaitingHeader {
		t.Errorf("Expected state reset to %s, got %s", StateAwaitingHeader, d.State())
	}
}

func TestDemuxerConnectionLostInFooter(t *testing.T) {
	frame := makeFrame(t, []byte("abc"))
	truncated := frame[:len(frame)-1]

	d := NewDemuxer(bytes.NewReader(truncated), 0)
	if _, err := d.Next(); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost, got %v", err)
	}
}

func TestDemuxerZeroLengthRead(t *testing.T) {
	z := &zeroReader{}
	d := NewDemuxer(z, 0)

	_, err := d.Next()
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost, got %v", err)
	}
	if z.reads != 1 {
		t.Errorf("Expected a single read before giving up, got %d", z.reads)
	}
}

func TestDemuxerMaxMessageSize(t *testing.T) {
	hugeHeader, err := EncodeFrameHeader(math.MaxInt64)
	if err != nil {
		t.Fatalf("EncodeFrameHeader failed: %v", err)
	}
	large := bytes.Repeat([]byte("d"), 3*payloadGrowStep+17)

	tests := []struct {
		name       string
		stream     []byte
		maxSize    int
		expected   []byte
		expectLost bool
		errorMsg   string
	}{
		{
			name:     "declared length above limit",
			stream:   makeFrame(t, make([]byte, 1000)),
			maxSize:  500,
			errorMsg: "exceeds maximum",
		},
		{
			name:       "unlimited with absurd declared length",
			stream:     append(hugeHeader, bytes.Repeat([]byte("x"), 4096)...),
			maxSize:    0,
			expectLost: true,
		},
		{
			name:     "unlimited with payload spanning several growth steps",
			stream:   makeFrame(t, large),
			maxSize:  0,
			expected: large,
		},
		{
			name:     "limit equal to length",
			stream:   makeFrame(t, []byte("abc")),
			maxSize:  3,
			expected: []byte("abc"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDemuxer(&chunkReader{data: tt.stream, chunk: 5000}, tt.maxSize)

			msg, err := d.Next()
			switch {
			case tt.errorMsg != "":
				var unknown *UnknownFrameError
				if !errors.As(err, &unknown) {
					t.Fatalf("Expected UnknownFrameError, got %v", err)
				}
				if !strings.Contains(unknown.Reason, tt.errorMsg) {
					t.Errorf("Unexpected reason: %s", unknown.Reason)
				}
			case tt.expectLost:
				if !errors.Is(err, ErrConnectionLost) {
					t.Fatalf("Expected ErrConnectionLost, got %v", err)
				}
				if d.State() != StateAwaitingHeader {
					t.Errorf("Expected reset to %s, got %s", StateAwaitingHeader, d.State())
				}
			default:
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if !bytes.Equal(msg, tt.expected) {
					t.Errorf("Payload mismatch: got %d bytes, expected %d", len(msg), len(tt.expected))
				}
			}
		})
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	messages := [][]byte{
		[]byte(`{"colorImage":"AA==","depthImage":""}`),
		{},
		bytes.Repeat([]byte("z"), 70000),
	}

	if err := w.WritePreamble(); err != nil {
		t.Fatalf("WritePreamble failed: %v", err)
	}
	for _, msg := range messages {
		if err := w.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := &chunkReader{data: buf.Bytes(), chunk: 1500}
	if err := ConsumePreamble(r, PreambleSize); err != nil {
		t.Fatalf("ConsumePreamble failed: %v", err)
	}

	d := NewDemuxer(r, 0)
	for i, expected := range messages {
		msg, err := d.Next()
		if err != nil {
			t.Fatalf("message %d: Next failed: %v", i, err)
		}
		if !bytes.Equal(msg, expected) {
			t.Errorf("message %d: payload mismatch", i)
		}
	}

	if _, err := d.Next(); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Expected ErrConnectionLost at end of stream, got %v", err)
	}
}

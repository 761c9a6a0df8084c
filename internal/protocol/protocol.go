package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol constants from the device's streaming session
const (
	// Fixed block sizes
	PreambleSize    = 375 // HTTP multipart response header sent once per connection
	FrameHeaderSize = 100 // Per-frame header, space padded by the device
	FrameFooterSize = 2   // "\r\n" after every payload

	// Frame header layout
	HeaderFieldSeparator = "\r\n"
	HeaderFieldCount     = 6
	ContentTypeField     = 2
	ContentLengthField   = 3

	// ContentTypeMarker is the only content type the device sends
	ContentTypeMarker = "Content-Type: application/json"

	// Boundary used by the device in its multipart stream
	Boundary = "0123456789876543210"
)

// FrameHeader represents a parsed 100-byte frame header
// Layout: ["", "--<boundary>", "Content-Type: application/json", "Content-Length: <n>", "", "<padding>"]
type FrameHeader struct {
	Boundary      string // Field 1, not validated
	ContentType   string // Field 2, must equal ContentTypeMarker
	LengthLabel   string // Label in front of the length, e.g. "Content-Length:"
	ContentLength int    // Declared payload length in bytes
}

// ParseFrameHeader parses a frame header. Any deviation from the expected shape
// is reported as an error; callers treat it as an unknown frame.
func ParseFrameHeader(data []byte) (*FrameHeader, error) {
	if len(data) != FrameHeaderSize {
		return nil, fmt.Errorf("frame header size mismatch: expected %d bytes, got %d", FrameHeaderSize, len(data))
	}

	fields := strings.Split(string(data), HeaderFieldSeparator)
	if len(fields) != HeaderFieldCount {
		return nil, fmt.Errorf("frame header field count mismatch: expected %d, got %d", HeaderFieldCount, len(fields))
	}

	if fields[ContentTypeField] != ContentTypeMarker {
		return nil, fmt.Errorf("unexpected content type field: %q", fields[ContentTypeField])
	}

	label, length, err := parseContentLength(fields[ContentLengthField])
	if err != nil {
		return nil, err
	}

	return &FrameHeader{
		Boundary:      fields[1],
		ContentType:   fields[ContentTypeField],
		LengthLabel:   label,
		ContentLength: length,
	}, nil
}

// parseContentLength parses a "<label> <integer>" field
func parseContentLength(field string) (string, int, error) {
	parts := strings.Split(field, " ")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed content length field: %q", field)
	}

	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("malformed content length value %q: %w", parts[1], err)
	}

	if length < 0 {
		return "", 0, fmt.Errorf("negative content length: %d", length)
	}

	return parts[0], length, nil
}

// EncodeFrameHeader builds the 100-byte header for a payload of the given length,
// padded with spaces the same way the device pads it
func EncodeFrameHeader(contentLength int) ([]byte, error) {
	if contentLength < 0 {
		return nil, fmt.Errorf("negative content length: %d", contentLength)
	}

	fields := []string{
		"",
		"--" + Boundary,
		ContentTypeMarker,
		fmt.Sprintf("Content-Length: %d", contentLength),
		"",
		"",
	}

	text := strings.Join(fields, HeaderFieldSeparator)
	if len(text) > FrameHeaderSize {
		return nil, fmt.Errorf("frame header too long: %d bytes (maximum %d)", len(text), FrameHeaderSize)
	}

	return []byte(text + strings.Repeat(" ", FrameHeaderSize-len(text))), nil
}

// EncodePreamble returns the connection preamble the device sends before the first frame
func EncodePreamble() []byte {
	lines := []string{
		"HTTP/1.0 200 OK",
		"Connection: keep-alive",
		"Ma-age: 0",
		"Expires: 0",
		"Cache-Control: no-store,must-revalidate",
		"Access-Control-Allow-Origin: *",
		"Access-Control-Allow-Headers: accept,content-type",
		"Access-Control-Allow-Methods: GET",
		"Access-Control-expose-headers: Cache-Control,Content-Encoding",
		"Pragma: no-cache",
		"Content-type: multipart/x-mixed-replace; boundary=" + Boundary,
		"",
	}
	return []byte(strings.Join(lines, HeaderFieldSeparator))
}

// EncodeFrameFooter returns the 2-byte trailer written after every payload
func EncodeFrameFooter() []byte {
	return []byte(HeaderFieldSeparator)
}

// String returns a human-readable representation of the header
func (h *FrameHeader) String() string {
	return fmt.Sprintf("FrameHeader{Boundary:%q, ContentType:%q, Length:%d}",
		h.Boundary, h.ContentType, h.ContentLength)
}

package protocol

import (
	"fmt"
	"io"
	"slices"
)

// payloadGrowStep bounds how far the payload buffer grows ahead of the bytes
// actually received, so a declared length alone never sizes an allocation
const payloadGrowStep = 64 << 10

// State is the demultiplexer state
type State int

const (
	StateAwaitingHeader State = iota
	StateAwaitingPayload
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAwaitingPayload:
		return "awaiting_payload"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DemuxerStats represents demultiplexer counters for one connection
type DemuxerStats struct {
	Frames        uint64 `json:"frames"`
	UnknownFrames uint64 `json:"unknown_frames"`
	BytesRead     uint64 `json:"bytes_read"`
}

// Demuxer reconstructs message buffers from the device byte stream.
// It is not safe for concurrent use; one goroutine owns one connection.
type Demuxer struct {
	r              *countingReader
	maxMessageSize int

	state     State
	remaining int
	payload   []byte

	header [FrameHeaderSize]byte
	footer [FrameFooterSize]byte

	frames        uint64
	unknownFrames uint64
}

// NewDemuxer creates a demultiplexer reading from r. A maxMessageSize of 0
// disables the declared-length limit; the payload buffer still grows only
// with the bytes received.
func NewDemuxer(r io.Reader, maxMessageSize int) *Demuxer {
	return &Demuxer{
		r:              &countingReader{r: r},
		maxMessageSize: maxMessageSize,
		state:          StateAwaitingHeader,
	}
}

// ConsumePreamble reads and discards exactly size bytes from r.
// Short reads are accumulated; a zero-length read fails with ErrConnectionLost.
func ConsumePreamble(r io.Reader, size int) error {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	return readFull(r, buf, "preamble")
}

// Next returns the next complete message buffer.
//
// Errors:
//   - *UnknownFrameError: the header did not match; the demuxer is back in
//     StateAwaitingHeader and only the header-sized read was consumed. There is
//     no resynchronization marker in the protocol, so the next call reads the
//     following 100 bytes as a header whether or not they are aligned.
//   - ErrConnectionLost (wrapped): the source closed or failed.
func (d *Demuxer) Next() ([]byte, error) {
	for {
		switch d.state {
		case StateAwaitingHeader:
			if err := d.readHeader(); err != nil {
				return nil, err
			}
		case StateAwaitingPayload:
			return d.readPayload()
		default:
			return nil, fmt.Errorf("invalid demuxer state: %s", d.state)
		}
	}
}

// State returns the current state
func (d *Demuxer) State() State {
	return d.state
}

// Stats returns the counters for this demuxer
func (d *Demuxer) Stats() DemuxerStats {
	return DemuxerStats{
		Frames:        d.frames,
		UnknownFrames: d.unknownFrames,
		BytesRead:     d.r.n,
	}
}

// readHeader reads one header and moves to StateAwaitingPayload on success
func (d *Demuxer) readHeader() error {
	if err := readFull(d.r, d.header[:], "frame header"); err != nil {
		return err
	}

	header, err := ParseFrameHeader(d.header[:])
	if err != nil {
		return d.unknown(err.Error())
	}

	if d.maxMessageSize > 0 && header.ContentLength > d.maxMessageSize {
		return d.unknown(fmt.Sprintf("declared length %d exceeds maximum %d", header.ContentLength, d.maxMessageSize))
	}

	d.payload = make([]byte, 0, min(header.ContentLength, payloadGrowStep))
	d.remaining = header.ContentLength
	d.state = StateAwaitingPayload
	return nil
}

// readPayload accumulates the declared number of bytes, consumes the trailer
// and returns the completed buffer
func (d *Demuxer) readPayload() ([]byte, error) {
	for d.remaining > 0 {
		if len(d.payload) == cap(d.payload) {
			// double what has arrived, never more than is still owed
			d.payload = slices.Grow(d.payload, min(d.remaining, max(len(d.payload), payloadGrowStep)))
		}
		end := min(cap(d.payload), len(d.payload)+d.remaining)
		n, err := d.r.Read(d.payload[len(d.payload):end])
		d.payload = d.payload[:len(d.payload)+n]
		d.remaining -= n
		if d.remaining == 0 {
			break
		}
		if n == 0 || err != nil {
			d.reset()
			return nil, connectionLost("frame payload", err)
		}
	}

	if err := readFull(d.r, d.footer[:], "frame footer"); err != nil {
		d.reset()
		return nil, err
	}

	payload := d.payload
	d.reset()
	d.frames++
	return payload, nil
}

func (d *Demuxer) unknown(reason string) error {
	d.unknownFrames++
	raw := make([]byte, len(d.header))
	copy(raw, d.header[:])
	return &UnknownFrameError{Header: raw, Reason: reason}
}

func (d *Demuxer) reset() {
	d.state = StateAwaitingHeader
	d.payload = nil
	d.remaining = 0
}

// readFull fills buf, reading at most the missing byte count per call so that
// nothing past buf is consumed from the source
func readFull(r io.Reader, buf []byte, stage string) error {
	filled := 0
	for filled < len(buf) {
		n, err := r.Read(buf[filled:])
		filled += n
		if filled == len(buf) {
			return nil
		}
		if n == 0 || err != nil {
			return connectionLost(stage, err)
		}
	}
	return nil
}

// countingReader counts bytes read from the source
type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

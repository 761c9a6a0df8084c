package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// Writer produces the device side of the stream: one preamble, then frames.
// Used by the emulator and by tests.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a frame writer on top of out
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(out, 64*1024)}
}

// WritePreamble writes the connection preamble and flushes it
func (wr *Writer) WritePreamble() error {
	if _, err := wr.w.Write(EncodePreamble()); err != nil {
		return fmt.Errorf("failed to write preamble: %w", err)
	}
	return wr.w.Flush()
}

// WriteFrame writes header, payload and trailer for one message and flushes them
func (wr *Writer) WriteFrame(payload []byte) error {
	header, err := EncodeFrameHeader(len(payload))
	if err != nil {
		return err
	}

	if _, err := wr.w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := wr.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	if _, err := wr.w.Write(EncodeFrameFooter()); err != nil {
		return fmt.Errorf("failed to write frame footer: %w", err)
	}

	return wr.w.Flush()
}

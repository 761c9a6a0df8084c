package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// Player renders PCM-16 samples on an audio device
type Player interface {
	Play(samples []int16) error
	Close() error
}

// CommandPlayer pipes raw little-endian PCM-16 into an external player process
// such as aplay or ffplay
type CommandPlayer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger
	buf    []byte
}

// DefaultPlayerCommand returns an aplay invocation for interleaved PCM-16
func DefaultPlayerCommand(sampleRate, channels int) []string {
	return []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-c", strconv.Itoa(channels), "-r", strconv.Itoa(sampleRate)}
}

// NewCommandPlayer starts the player process. command[0] is the executable.
// The process outlives terminal signals sent to the receiver and ends when
// Close shuts its input.
func NewCommandPlayer(logger *slog.Logger, command []string) (*CommandPlayer, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("player command cannot be empty")
	}

	cmd := exec.Command(command[0], command[1:]...)
	detachProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open player stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player %s: %w", command[0], err)
	}

	logger.Info("Audio player started",
		slog.String("command", command[0]),
		slog.Int("pid", cmd.Process.Pid),
	)

	return &CommandPlayer{
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
	}, nil
}

// Play writes samples to the player process
func (p *CommandPlayer) Play(samples []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = encodePCM(p.buf[:0], samples)
	if _, err := p.stdin.Write(p.buf); err != nil {
		return fmt.Errorf("failed to write to player: %w", err)
	}
	return nil
}

// Close closes the player's input and waits for it to exit
func (p *CommandPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stdin.Close(); err != nil {
		p.logger.Warn("Error closing player input", slog.String("error", err.Error()))
	}
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("player exited: %w", err)
	}
	return nil
}

// encodePCM appends samples to dst as little-endian PCM-16
func encodePCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

//go:build linux || darwin

package audio

import (
	"syscall"
	"testing"
)

func TestCommandPlayerOwnProcessGroup(t *testing.T) {
	p := newCatPlayer(t)
	defer p.Close()

	pid := p.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		t.Fatalf("Getpgid failed: %v", err)
	}
	if pgid != pid {
		t.Errorf("Expected player to lead its own process group, pgid %d pid %d", pgid, pid)
	}
	if pgid == syscall.Getpgrp() {
		t.Error("Player shares the receiver's process group and would get its terminal signals")
	}
}

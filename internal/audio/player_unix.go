//go:build unix

package audio

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup moves the player out of the terminal's foreground group
// so Ctrl-C reaches only the receiver
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

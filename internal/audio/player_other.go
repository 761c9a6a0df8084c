//go:build !unix

package audio

import "os/exec"

func detachProcessGroup(cmd *exec.Cmd) {}

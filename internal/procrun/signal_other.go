//go:build !unix

package procrun

import (
	"errors"
	"os"
	"os/exec"
)

const suspendSupported = false

func configureProcess(*exec.Cmd) {}

func killProcess(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return ErrProcessDone
	}
	return err
}

// There is no graceful signal to send, so terminating is killing.
func terminateProcess(cmd *exec.Cmd) error { return killProcess(cmd) }

func suspendProcess(*exec.Cmd) error { return errors.ErrUnsupported }
func resumeProcess(*exec.Cmd) error  { return errors.ErrUnsupported }

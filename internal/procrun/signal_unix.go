//go:build unix

package procrun

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const suspendSupported = true

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the process group led by cmd.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return ErrProcessDone
	}
	return err
}

func terminateProcess(cmd *exec.Cmd) error {
	if err := signalGroup(cmd, unix.SIGTERM); err != nil {
		return err
	}
	// A suspended group never acts on SIGTERM until continued.
	if err := signalGroup(cmd, unix.SIGCONT); err != nil && !errors.Is(err, ErrProcessDone) {
		return err
	}
	return nil
}

func killProcess(cmd *exec.Cmd) error    { return signalGroup(cmd, unix.SIGKILL) }
func suspendProcess(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGSTOP) }
func resumeProcess(cmd *exec.Cmd) error  { return signalGroup(cmd, unix.SIGCONT) }

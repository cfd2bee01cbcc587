// Package procrun starts and supervises the external programs reed drives:
// the speech synthesizer, the audio player and clipboard tools.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

var (
	// ErrProcessDone is returned when a signal targets a process that has already exited.
	ErrProcessDone = errors.New("process already finished")
	// ErrWaitTimeout is returned by Process.Wait when the timeout elapses first.
	ErrWaitTimeout = errors.New("timed out waiting for process")
	// ErrEmptyCommand is returned for an empty argv.
	ErrEmptyCommand = errors.New("command is empty")
)

// Result is the outcome of a synchronous Run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// SpawnOptions wires the standard streams of a spawned process. Nil streams
// are connected to the null device.
type SpawnOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner invokes external programs.
type Runner interface {
	// Run executes argv to completion. A non-zero exit status is reported in
	// Result.ExitCode, not as an error; errors mean the program could not run.
	Run(ctx context.Context, argv []string, input []byte) (Result, error)

	// Spawn starts argv and returns immediately.
	Spawn(argv []string, opts SpawnOptions) (Process, error)

	// SupportsSuspend reports whether Process.Suspend and Process.Resume work
	// on this host.
	SupportsSuspend() bool
}

// Process is a handle on a spawned program.
type Process interface {
	Pid() int
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forcefully ends the process.
	Kill() error
	// Wait blocks until the process exits and returns its exit code. A
	// timeout of zero waits forever; otherwise ErrWaitTimeout is returned
	// when the process is still running after timeout.
	Wait(timeout time.Duration) (int, error)
	// Poll reports whether the process has exited.
	Poll() bool
	Suspend() error
	Resume() error
}

// ToolError reports an external program that failed to launch or exited
// with a non-zero status.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	if e.Err != nil {
		b.WriteString(" failed: ")
		b.WriteString(e.Err.Error())
	} else {
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// ParseCommand splits a configured command line into argv using shell quoting rules.
func ParseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// ExecRunner runs programs with os/exec. Spawned processes get their own
// process group where the platform supports it so that signals reach the
// whole tree and terminal interrupts do not.
type ExecRunner struct {
	logger *slog.Logger
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecRunner{logger: logger.With(slog.String("component", "procrun"))}
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, input []byte) (Result, error) {
	if len(argv) == 0 {
		return Result{}, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("run", slog.String("argv", strings.Join(argv, " ")))
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return res, nil
}

func (r *ExecRunner) Spawn(argv []string, opts SpawnOptions) (Process, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	r.logger.Debug("spawned", slog.String("argv", strings.Join(argv, " ")), slog.Int("pid", cmd.Process.Pid))

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

func (r *ExecRunner) SupportsSuspend() bool { return suspendSupported }

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
	err  error
}

func (p *execProcess) reap() {
	defer close(p.done)
	err := p.cmd.Wait()
	p.code = -1
	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Poll() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Wait(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		<-p.done
		return p.code, p.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.code, p.err
	case <-timer.C:
		return -1, ErrWaitTimeout
	}
}

func (p *execProcess) Terminate() error { return p.signal(terminateProcess) }
func (p *execProcess) Kill() error      { return p.signal(killProcess) }
func (p *execProcess) Suspend() error   { return p.signal(suspendProcess) }
func (p *execProcess) Resume() error    { return p.signal(resumeProcess) }

func (p *execProcess) signal(send func(*exec.Cmd) error) error {
	if p.Poll() {
		return ErrProcessDone
	}
	return send(p.cmd)
}

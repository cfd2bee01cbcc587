package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/reed/internal/procrun"
	"github.com/loqalabs/reed/internal/tts"
)

type call struct {
	argv  []string
	input string
}

// fakeRunner stands in for piper, the audio player and the clipboard tool.
// piper writes a small WAV to --output-file and exits with synthExit. The
// player exits at once unless holdPlayer is set, in which case it runs until
// terminated.
type fakeRunner struct {
	t          *testing.T
	synthExit  int
	holdPlayer bool
	clipboard  string

	mu      sync.Mutex
	runs    []call
	spawns  []call
	players chan *heldProcess
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{t: t, players: make(chan *heldProcess, 4)}
}

func (r *fakeRunner) Run(_ context.Context, argv []string, input []byte) (procrun.Result, error) {
	r.mu.Lock()
	r.runs = append(r.runs, call{argv: argv, input: string(input)})
	r.mu.Unlock()

	switch argv[0] {
	case "clip":
		return procrun.Result{Stdout: []byte(r.clipboard + "\n")}, nil
	case "piper":
		if r.synthExit != 0 {
			return procrun.Result{ExitCode: r.synthExit, Stderr: []byte("bad model")}, nil
		}
		writeWAV(r.t, flagValue(argv, "--output-file"))
	}
	return procrun.Result{}, nil
}

func (r *fakeRunner) Spawn(argv []string, opts procrun.SpawnOptions) (procrun.Process, error) {
	var input string
	if opts.Stdin != nil {
		data, _ := io.ReadAll(opts.Stdin)
		input = string(data)
	}
	r.mu.Lock()
	r.spawns = append(r.spawns, call{argv: argv, input: input})
	r.mu.Unlock()

	if argv[0] == "piper" {
		if r.synthExit != 0 {
			if opts.Stderr != nil {
				_, _ = io.WriteString(opts.Stderr, "bad model")
			}
			return exitedProcess(r.synthExit), nil
		}
		writeWAV(r.t, flagValue(argv, "--output-file"))
		return exitedProcess(0), nil
	}
	if r.holdPlayer {
		p := &heldProcess{done: make(chan struct{})}
		r.players <- p
		return p, nil
	}
	return exitedProcess(0), nil
}

func (r *fakeRunner) SupportsSuspend() bool { return false }

// synthInputs returns the text piper received, in order.
func (r *fakeRunner) synthInputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.spawns {
		if c.argv[0] == "piper" {
			out = append(out, c.input)
		}
	}
	return out
}

func (r *fakeRunner) spawned(name string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.spawns {
		if c.argv[0] == name {
			out = append(out, c)
		}
	}
	return out
}

func (r *fakeRunner) ran(name string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.runs {
		if c.argv[0] == name {
			out = append(out, c)
		}
	}
	return out
}

type doneProcess struct{ code int }

func exitedProcess(code int) *doneProcess { return &doneProcess{code: code} }

func (p *doneProcess) Pid() int                        { return 1 }
func (p *doneProcess) Terminate() error                { return procrun.ErrProcessDone }
func (p *doneProcess) Kill() error                     { return procrun.ErrProcessDone }
func (p *doneProcess) Wait(time.Duration) (int, error) { return p.code, nil }
func (p *doneProcess) Poll() bool                      { return true }
func (p *doneProcess) Suspend() error                  { return procrun.ErrProcessDone }
func (p *doneProcess) Resume() error                   { return procrun.ErrProcessDone }

type heldProcess struct {
	once       sync.Once
	done       chan struct{}
	mu         sync.Mutex
	terminated bool
}

func (p *heldProcess) Pid() int { return 2 }

func (p *heldProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *heldProcess) Kill() error { return p.Terminate() }

func (p *heldProcess) Wait(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		<-p.done
		return 143, nil
	}
	select {
	case <-p.done:
		return 143, nil
	case <-time.After(timeout):
		return 0, procrun.ErrWaitTimeout
	}
}

func (p *heldProcess) Poll() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *heldProcess) Suspend() error { return nil }
func (p *heldProcess) Resume() error  { return nil }

func (p *heldProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type staticPlayer struct{}

func (staticPlayer) PlayCommand() ([]string, error) { return []string{"player"}, nil }

type staticClipboard struct{}

func (staticClipboard) ClipboardCommand() ([]string, error) { return []string{"clip"}, nil }

func flagValue(argv []string, name string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == name {
			return argv[i+1]
		}
	}
	return ""
}

func writeWAV(t *testing.T, path string) {
	if path == "" {
		t.Errorf("piper called without --output-file")
		return
	}
	file, err := os.Create(path)
	if err != nil {
		t.Errorf("create wav: %v", err)
		return
	}
	defer file.Close()
	if err := tts.WritePCM(file, make([]byte, 1600), 16000, 1); err != nil {
		t.Errorf("write wav: %v", err)
	}
}

// harness isolates config and data directories and captures output. stdin is
// nil unless a test pipes input, so positional arguments are read.
type harness struct {
	t       *testing.T
	dir     string
	voices  string
	runner  *fakeRunner
	stdout  bytes.Buffer
	stdin   io.Reader
	tty     bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:      t,
		dir:    dir,
		voices: filepath.Join(dir, "voices"),
		runner: newFakeRunner(t),
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("REED_VOICES_DATA_DIR", h.voices)
	if err := os.MkdirAll(h.voices, 0o755); err != nil {
		t.Fatalf("mkdir voices: %v", err)
	}
	h.installVoice("en_US-kristin-medium")
	return h
}

func (h *harness) installVoice(name string) {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.voices, name+".onnx"), []byte("model"), 0o644); err != nil {
		h.t.Fatalf("write model: %v", err)
	}
}

func (h *harness) run(ctx context.Context, args ...string) int {
	h.t.Helper()
	h.stdout.Reset()
	return Run(ctx, args, Env{
		Stdin:     h.stdin,
		Stdout:    &h.stdout,
		Stderr:    io.Discard,
		StdinTTY:  h.tty,
		StdoutTTY: false,
		Version:   "test",
		Runner:    h.runner,
		Player:    staticPlayer{},
		Clipboard: staticClipboard{},
	})
}

func (h *harness) output() string {
	return h.stdout.String()
}

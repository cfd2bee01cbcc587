package playback

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/reed/internal/procrun"
	"github.com/loqalabs/reed/internal/tts"
)

type fakeProcess struct {
	runner *fakeRunner
	argv   []string
	pid    int
	input  string

	mu              sync.Mutex
	exited          bool
	code            int
	ignoreTerminate bool
	terminateCalls  int
	killCalls       int
	suspendCalls    int
	resumeCalls     int
	done            chan struct{}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.code = code
	close(p.done)
	p.mu.Unlock()
	p.runner.exited()
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminateCalls++
	if p.exited {
		p.mu.Unlock()
		return procrun.ErrProcessDone
	}
	ignore := p.ignoreTerminate
	p.mu.Unlock()
	if !ignore {
		p.exit(143)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killCalls++
	if p.exited {
		p.mu.Unlock()
		return procrun.ErrProcessDone
	}
	p.mu.Unlock()
	p.exit(137)
	return nil
}

func (p *fakeProcess) Wait(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		<-p.done
		return p.exitCode(), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.exitCode(), nil
	case <-timer.C:
		return 0, procrun.ErrWaitTimeout
	}
}

func (p *fakeProcess) exitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) Poll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *fakeProcess) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspendCalls++
	return nil
}

func (p *fakeProcess) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeCalls++
	return nil
}

func (p *fakeProcess) counts() (terminate, kill, suspend, resume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminateCalls, p.killCalls, p.suspendCalls, p.resumeCalls
}

// fakeRunner treats argv[0] "piper" as the synthesizer and anything else as
// the player. The synthesizer writes a short WAV to the path after
// --output-file and exits with synthExit unless holdSynth is set. Players run
// until the test ends them.
type fakeRunner struct {
	t *testing.T

	suspend          bool
	synthExit        int
	holdSynth        bool
	stubbornPlayer   bool
	playerSpawnError error

	mu       sync.Mutex
	nextPid  int
	alive    int
	maxAlive int
	procs    []*fakeProcess

	synths  chan *fakeProcess
	players chan *fakeProcess
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{
		t:       t,
		suspend: true,
		nextPid: 100,
		synths:  make(chan *fakeProcess, 16),
		players: make(chan *fakeProcess, 16),
	}
}

func (r *fakeRunner) Run(context.Context, []string, []byte) (procrun.Result, error) {
	return procrun.Result{}, errors.New("not used by the controller")
}

func (r *fakeRunner) SupportsSuspend() bool { return r.suspend }

func (r *fakeRunner) Spawn(argv []string, opts procrun.SpawnOptions) (procrun.Process, error) {
	isSynth := len(argv) > 0 && argv[0] == "piper"
	if !isSynth && r.playerSpawnError != nil {
		return nil, r.playerSpawnError
	}

	r.mu.Lock()
	r.nextPid++
	p := &fakeProcess{runner: r, argv: argv, pid: r.nextPid, done: make(chan struct{})}
	r.alive++
	if r.alive > r.maxAlive {
		r.maxAlive = r.alive
	}
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	if !isSynth {
		p.ignoreTerminate = r.stubbornPlayer
		r.players <- p
		return p, nil
	}

	if opts.Stdin != nil {
		data, err := io.ReadAll(opts.Stdin)
		if err != nil {
			r.t.Errorf("read synth stdin: %v", err)
		}
		p.input = string(data)
	}
	r.synths <- p
	if r.holdSynth {
		return p, nil
	}
	if r.synthExit != 0 {
		if opts.Stderr != nil {
			_, _ = io.WriteString(opts.Stderr, "voice model could not be loaded\n")
		}
		p.exit(r.synthExit)
		return p, nil
	}
	writeFixtureWAV(r.t, outputPath(argv))
	p.exit(0)
	return p, nil
}

func (r *fakeRunner) exited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive--
}

func (r *fakeRunner) peakAlive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAlive
}

func (r *fakeRunner) aliveNow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *fakeRunner) nextPlayer(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-r.players:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("player was not spawned")
		return nil
	}
}

func (r *fakeRunner) nextSynth(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-r.synths:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("synthesizer was not spawned")
		return nil
	}
}

func outputPath(argv []string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == "--output-file" {
			return argv[i+1]
		}
	}
	return ""
}

func writeFixtureWAV(t *testing.T, path string) {
	file, err := os.Create(path)
	if err != nil {
		t.Errorf("create wav: %v", err)
		return
	}
	defer file.Close()
	if err := tts.WritePCM(file, make([]byte, 3200), 16000, 1); err != nil {
		t.Errorf("write wav: %v", err)
	}
}

type fakeSynth struct{}

func (fakeSynth) Command(o tts.Options, output string) []string {
	return []string{"piper", "--model", o.Model, "--output-file", output}
}

type fakePlayer struct {
	err error
}

func (p fakePlayer) PlayCommand() ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []string{"player", "--quiet"}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
	notify   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) Emit(status Status) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

func (s *recordingSink) kinds() []Kind {
	var kinds []Kind
	for _, st := range s.snapshot() {
		kinds = append(kinds, st.Kind)
	}
	return kinds
}

func (s *recordingSink) waitFor(t *testing.T, kind Kind) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, st := range s.snapshot() {
			if st.Kind == kind {
				return st
			}
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no %s status; got %v", kind, s.kinds())
			return Status{}
		}
	}
}

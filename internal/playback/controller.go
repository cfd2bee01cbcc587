// Package playback runs speech synthesis and audio playback in the background
// and exposes transport controls to a foreground caller.
//
// A Controller owns at most one session at a time. Play hands the text to a
// worker goroutine that spawns the synthesizer, then the audio player, and
// reports progress to a Sink. Pause, Resume and Stop act on the running player
// without waiting for synthesis or playback, except that Stop waits for the
// worker's cleanup so that no child process outlives it.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/reed/internal/procrun"
	"github.com/loqalabs/reed/internal/tts"
)

const instrumentationName = "github.com/loqalabs/reed/internal/playback"

// DefaultStopTimeout bounds the wait between a graceful terminate and a kill.
const DefaultStopTimeout = 2 * time.Second

// Options is the per-session synthesis configuration.
type Options = tts.Options

// SynthCommand builds the synthesizer argv for a session writing to output.
type SynthCommand interface {
	Command(o tts.Options, output string) []string
}

// PlayerResolver returns the audio player argv prefix.
type PlayerResolver interface {
	PlayCommand() ([]string, error)
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithTempDir sets the directory for session audio artifacts.
func WithTempDir(dir string) Option {
	return func(c *Controller) { c.tempDir = dir }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Controller) {
		if meter != nil {
			c.meter = meter
		}
	}
}

type session struct {
	id   string
	text string
	opts Options

	// guarded by Controller.mu
	stopRequested bool
	synth         procrun.Process
	player        procrun.Process

	// owned by the worker
	artifact string

	done chan struct{}
}

type Controller struct {
	runner      procrun.Runner
	synth       SynthCommand
	player      PlayerResolver
	sink        Sink
	logger      *slog.Logger
	stopTimeout time.Duration
	tempDir     string
	tracer      trace.Tracer
	meter       metric.Meter
	metrics     metrics

	mu      sync.Mutex
	state   State
	current *session
	last    *session
	text    string
	lastErr error
}

func New(runner procrun.Runner, synth SynthCommand, player PlayerResolver, sink Sink, opts ...Option) *Controller {
	c := &Controller{
		runner:      runner,
		synth:       synth,
		player:      player,
		sink:        sink,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		stopTimeout: DefaultStopTimeout,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "playback"))
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

// Play starts speaking text in the background. A session that is still
// active is stopped and fully torn down first. Play returns as soon as the
// new worker is scheduled.
func (c *Controller) Play(text string, o Options) {
	c.mu.Lock()
	for c.current != nil {
		prev := c.current
		synth, player := c.requestStopLocked(prev)
		c.mu.Unlock()
		c.teardown(prev, synth, player)
		c.mu.Lock()
	}
	sess := &session{
		id:   uuid.NewString(),
		text: text,
		opts: o,
		done: make(chan struct{}),
	}
	c.current = sess
	c.last = sess
	c.text = text
	c.state = Playing
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Debug("session started", slog.String("session_id", sess.id), slog.Int("chars", len(text)))
	go c.run(sess)
}

// Pause suspends the player. It reports false when nothing is playing, the
// player has not started yet, or the runner cannot suspend processes.
func (c *Controller) Pause() bool {
	if !c.runner.SupportsSuspend() {
		return false
	}
	c.mu.Lock()
	sess := c.current
	if c.state != Playing || sess == nil || sess.player == nil {
		c.mu.Unlock()
		return false
	}
	if err := sess.player.Suspend(); err != nil {
		c.mu.Unlock()
		c.logger.Warn("suspend player failed", slog.String("session_id", sess.id), slogError(err))
		return false
	}
	c.state = Paused
	c.mu.Unlock()

	c.emit(sess, KindPaused, "Paused", nil)
	return true
}

// Resume continues a paused player.
func (c *Controller) Resume() bool {
	if !c.runner.SupportsSuspend() {
		return false
	}
	c.mu.Lock()
	sess := c.current
	if c.state != Paused || sess == nil || sess.player == nil {
		c.mu.Unlock()
		return false
	}
	if err := sess.player.Resume(); err != nil {
		c.mu.Unlock()
		c.logger.Warn("resume player failed", slog.String("session_id", sess.id), slogError(err))
		return false
	}
	c.state = Playing
	c.mu.Unlock()

	c.emit(sess, KindPlaying, "Playing...", nil)
	return true
}

// Stop terminates the active session and waits for its cleanup. It returns
// false when the controller is idle.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	sess := c.current
	if sess == nil {
		c.mu.Unlock()
		return false
	}
	synth, player := c.requestStopLocked(sess)
	c.mu.Unlock()

	c.teardown(sess, synth, player)
	return true
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Playing
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the most recently started session has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	sess := c.last
	c.mu.Unlock()
	if sess == nil {
		return
	}
	<-sess.done
}

// CurrentText returns the text of the most recently started session.
func (c *Controller) CurrentText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Err returns the error of the most recently finished session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) requestStopLocked(sess *session) (procrun.Process, procrun.Process) {
	sess.stopRequested = true
	c.state = Stopped
	return sess.synth, sess.player
}

func (c *Controller) teardown(sess *session, synth, player procrun.Process) {
	c.terminate(sess, "player", player)
	c.terminate(sess, "synthesizer", synth)
	<-sess.done
}

// terminate asks p to exit, waits up to the stop timeout and kills it when it
// is still around. A process that already exited is not an error.
func (c *Controller) terminate(sess *session, role string, p procrun.Process) {
	if p == nil || p.Poll() {
		return
	}
	err := p.Terminate()
	if err == nil {
		if _, err = p.Wait(c.stopTimeout); err == nil {
			return
		}
	}
	if err != nil && !errors.Is(err, procrun.ErrProcessDone) && !errors.Is(err, procrun.ErrWaitTimeout) {
		c.logger.Warn("terminate failed", slog.String("session_id", sess.id), slog.String("process", role), slogError(err))
	}
	if err := p.Kill(); err != nil && !errors.Is(err, procrun.ErrProcessDone) {
		c.logger.Warn("kill failed", slog.String("session_id", sess.id), slog.String("process", role), slogError(err))
		return
	}
	c.logger.Debug("process killed", slog.String("session_id", sess.id), slog.String("process", role))
}

func (c *Controller) run(sess *session) {
	ctx, span := c.tracer.Start(context.Background(), "playback.session",
		trace.WithAttributes(
			attribute.String("session.id", sess.id),
			attribute.Int("text.length", len(sess.text)),
		))

	kind, message, err := c.perform(ctx, sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("session failed", slog.String("session_id", sess.id), slogError(err))
	}
	span.SetAttributes(attribute.String("outcome", string(kind)))
	c.emit(sess, kind, message, err)

	c.cleanup(sess, err)
	c.metrics.recordSession(ctx, kind)
	span.End()
	close(sess.done)
}

func (c *Controller) perform(ctx context.Context, sess *session) (Kind, string, error) {
	c.emit(sess, KindGenerating, "Generating speech...", nil)

	artifact, err := c.createArtifact()
	if err != nil {
		return KindError, "", fmt.Errorf("create audio file: %w", err)
	}
	sess.artifact = artifact

	start := time.Now()
	err = c.synthesize(ctx, sess)
	elapsed := time.Since(start)
	c.metrics.recordSynthesis(ctx, elapsed)
	if c.stopped(sess) {
		return KindStopped, "Stopped", nil
	}
	if err != nil {
		return KindError, "", err
	}

	argv, err := c.player.PlayCommand()
	if err != nil {
		return KindError, "", err
	}

	message := fmt.Sprintf("Playing... (generated in %.1fs)", elapsed.Seconds())
	if info, err := tts.Inspect(artifact); err == nil {
		message = fmt.Sprintf("Playing %.1fs of audio... (generated in %.1fs)", info.Duration.Seconds(), elapsed.Seconds())
	}
	err = c.play(ctx, sess, argv, message)
	if c.stopped(sess) {
		return KindStopped, "Stopped", nil
	}
	if err != nil {
		return KindError, "", err
	}
	return KindDone, "Done", nil
}

func (c *Controller) synthesize(ctx context.Context, sess *session) error {
	_, span := c.tracer.Start(ctx, "playback.synthesize")
	defer span.End()

	argv := c.synth.Command(sess.opts, sess.artifact)
	var stderr bytes.Buffer

	c.mu.Lock()
	if sess.stopRequested {
		c.mu.Unlock()
		return nil
	}
	proc, err := c.runner.Spawn(argv, procrun.SpawnOptions{
		Stdin:  strings.NewReader(sess.text),
		Stderr: &stderr,
	})
	if err == nil {
		sess.synth = proc
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: -1, Err: err}
	}
	c.logger.Debug("synthesizer started", slog.String("session_id", sess.id), slog.Int("pid", proc.Pid()))

	code, err := proc.Wait(0)
	span.SetAttributes(attribute.Int("exit_code", code))
	if err != nil {
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: code, Err: err}
	}
	if code != 0 {
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: code, Stderr: stderr.String()}
	}
	return nil
}

func (c *Controller) play(ctx context.Context, sess *session, base []string, message string) error {
	_, span := c.tracer.Start(ctx, "playback.play")
	defer span.End()

	argv := append(append([]string{}, base...), sess.artifact)
	var stderr bytes.Buffer

	c.mu.Lock()
	if sess.stopRequested {
		c.mu.Unlock()
		return nil
	}
	proc, err := c.runner.Spawn(argv, procrun.SpawnOptions{Stderr: &stderr})
	if err == nil {
		sess.player = proc
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: -1, Err: err}
	}
	c.emit(sess, KindPlaying, message, nil)

	code, err := proc.Wait(0)
	span.SetAttributes(attribute.Int("exit_code", code))
	if err != nil {
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: code, Err: err}
	}
	if code != 0 {
		return &procrun.ToolError{Tool: toolName(argv), ExitCode: code, Stderr: stderr.String()}
	}
	return nil
}

func (c *Controller) cleanup(sess *session, err error) {
	if sess.artifact != "" {
		if rmErr := os.Remove(sess.artifact); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Debug("remove audio file failed", slog.String("path", sess.artifact), slogError(rmErr))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == sess {
		c.current = nil
		c.state = Idle
		c.lastErr = err
	}
	sess.synth = nil
	sess.player = nil
}

func (c *Controller) createArtifact() (string, error) {
	file, err := os.CreateTemp(c.tempDir, "reed-*.wav")
	if err != nil {
		return "", err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func (c *Controller) stopped(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sess.stopRequested
}

func (c *Controller) emit(sess *session, kind Kind, message string, err error) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(Status{
		SessionID: sess.id,
		Kind:      kind,
		Text:      sess.text,
		Message:   message,
		Err:       err,
		Time:      time.Now(),
	})
}

func toolName(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

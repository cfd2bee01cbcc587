// Package tts builds piper command lines and inspects the WAV files piper
// produces.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loqalabs/reed/internal/procrun"
)

// DefaultCommand is used when no synth command is configured.
const DefaultCommand = "piper"

// DefaultSilence is the pause inserted between sentences, in seconds.
const DefaultSilence = 0.6

var ErrNoModel = errors.New("voice model not set")

// Options is the per-utterance synthesis configuration. When Output is set the
// speech is written to that path instead of being played.
type Options struct {
	Model   string
	Speed   float64
	Volume  float64
	Silence float64
	Output  string
}

// DefaultOptions returns neutral speed and volume with the default silence.
func DefaultOptions(model string) Options {
	return Options{Model: model, Speed: 1, Volume: 1, Silence: DefaultSilence}
}

type Piper struct {
	base   []string
	runner procrun.Runner
	logger *slog.Logger
}

// NewPiper parses command with shell quoting so that multi-word launchers such
// as "python3 -m piper" work.
func NewPiper(command string, runner procrun.Runner, logger *slog.Logger) (*Piper, error) {
	if command == "" {
		command = DefaultCommand
	}
	base, err := procrun.ParseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Piper{
		base:   base,
		runner: runner,
		logger: logger.With(slog.String("component", "piper")),
	}, nil
}

// Command returns the piper argv writing to output. An empty output leaves the
// --output-file flag off.
func (p *Piper) Command(o Options, output string) []string {
	argv := append([]string{}, p.base...)
	argv = append(argv,
		"--model", o.Model,
		"--length-scale", formatFloat(o.Speed),
		"--volume", formatFloat(o.Volume),
		"--sentence-silence", formatFloat(o.Silence),
	)
	if output != "" {
		argv = append(argv, "--output-file", output)
	}
	return argv
}

// Name is the base name of the synthesizer executable.
func (p *Piper) Name() string {
	return filepath.Base(p.base[0])
}

// SaveToFile synthesizes text straight into o.Output and blocks until piper
// exits.
func (p *Piper) SaveToFile(ctx context.Context, text string, o Options) (time.Duration, error) {
	if o.Output == "" {
		return 0, errors.New("output path not set")
	}
	if o.Model == "" {
		return 0, ErrNoModel
	}
	start := time.Now()
	res, err := p.runner.Run(ctx, p.Command(o, o.Output), []byte(text))
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, &procrun.ToolError{Tool: p.Name(), ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		p.logger.Warn("synthesis failed", slog.Int("exit_code", res.ExitCode), slog.String("output", o.Output))
		return elapsed, &procrun.ToolError{Tool: p.Name(), ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	p.logger.Debug("synthesis complete", slog.String("output", o.Output), slog.Duration("elapsed", elapsed))
	return elapsed, nil
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if s == strconv.Itoa(int(v)) {
		return s + ".0"
	}
	return s
}

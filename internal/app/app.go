// Package app implements the reed command line.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/reed/internal/bus"
	"github.com/loqalabs/reed/internal/config"
	"github.com/loqalabs/reed/internal/console"
	"github.com/loqalabs/reed/internal/history"
	"github.com/loqalabs/reed/internal/interactive"
	"github.com/loqalabs/reed/internal/platform"
	"github.com/loqalabs/reed/internal/playback"
	"github.com/loqalabs/reed/internal/procrun"
	"github.com/loqalabs/reed/internal/source"
	"github.com/loqalabs/reed/internal/telemetry"
	"github.com/loqalabs/reed/internal/tts"
	"github.com/loqalabs/reed/internal/voices"
)

// ExitInterrupted is returned when SIGINT or SIGTERM ends a non-interactive run.
const ExitInterrupted = 130

const instrumentationName = "github.com/loqalabs/reed"

var errNoText = errors.New("no text to read.")

// Env is what Run needs from the process. The optional collaborators default
// to the real implementations when nil.
type Env struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	StdinTTY  bool
	StdoutTTY bool
	Version   string

	Runner     procrun.Runner
	Player     playback.PlayerResolver
	Clipboard  source.ClipboardResolver
	HTTPClient *http.Client
}

// errReported wraps an error the output sink has already shown.
type errReported struct{ err error }

func (e errReported) Error() string { return e.err.Error() }
func (e errReported) Unwrap() error { return e.err }

type app struct {
	env     Env
	opts    Options
	cfg     config.Config
	logger  *slog.Logger
	printer *console.Printer
	tel     *telemetry.Telemetry

	runner     procrun.Runner
	resolver   *platform.Resolver
	voices     *voices.Manager
	piper      *tts.Piper
	controller *playback.Controller
	speech     tts.Options
	closers    []func()
}

// Run executes the reed command line and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	opts, err := parseArgs(args, env.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if opts.Version {
		fmt.Fprintln(env.Stdout, env.Version)
		return 0
	}

	printer := console.New(env.Stdout, env.StdoutTTY)
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		printer.Error(err.Error())
		return 1
	}
	logger := telemetry.NewLogger(cfg.Telemetry, env.Stderr)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, env.Version, logger)
	if err != nil {
		printer.Error(fmt.Sprintf("failed to set up telemetry: %v", err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	opts.applyConfigDefaults(cfg.Voice)
	a := &app{
		env:     env,
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		printer: printer,
		tel:     tel,
	}
	return a.run(ctx)
}

// loadConfig reads the config file and an optional reed.env beside it.
// Without an explicit path the user config directory is used when it holds a
// config.yaml.
func loadConfig(path string) (config.Config, error) {
	var envFile string
	if path != "" {
		envFile = filepath.Join(filepath.Dir(path), "reed.env")
	} else if dir, err := config.Dir(); err == nil {
		envFile = filepath.Join(dir, "reed.env")
		path = config.Discover()
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func (a *app) run(ctx context.Context) int {
	if a.opts.Pages != "" {
		if a.opts.File == "" {
			a.printer.Error("--pages requires --file <PDF or EPUB>")
			return 1
		}
		if source.KindOf(a.opts.File) == source.KindText {
			a.printer.Error(source.ErrPagesNeedDocument.Error())
			return 1
		}
	}

	dataDir := a.cfg.Voices.DataDir
	if dataDir == "" {
		dir, err := voices.DefaultDataDir()
		if err != nil {
			a.printer.Error(err.Error())
			return 1
		}
		dataDir = dir
	}
	a.voices = &voices.Manager{
		Dir:     dataDir,
		BaseURL: a.cfg.Voices.BaseURL,
		Client:  a.env.HTTPClient,
		Notify:  a.downloadProgress,
		Logger:  a.logger,
	}

	if code, ok := a.subcommand(ctx); ok {
		return code
	}

	model := a.voices.Resolve(a.opts.Model)
	if err := a.voices.Ensure(ctx, model); err != nil {
		a.printer.Error(err.Error())
		return 1
	}

	defer a.shutdown()
	if err := a.wire(ctx); err != nil {
		a.printer.Error(err.Error())
		return 1
	}

	a.speech = tts.Options{
		Model:   model,
		Speed:   a.opts.Speed,
		Volume:  a.opts.Volume,
		Silence: a.opts.Silence,
		Output:  a.opts.Output,
	}

	if a.opts.interactive(a.env.StdinTTY) {
		loop := &interactive.Loop{
			Input:      a.env.Stdin,
			Speak:      func(text string) error { return a.speak(ctx, text) },
			Controller: a.controller,
			UI:         a.printer,
			Logger:     a.logger,
		}
		// A paste into a terminal arrives as a burst of lines.
		if f, ok := a.env.Stdin.(*os.File); ok {
			loop.PasteWindow = interactive.DefaultPasteWindow
			lines, err := interactive.NewTerminalReader(f, a.env.Stdout, interactive.DefaultPrompt, interactive.DefaultQuitWords)
			if err != nil {
				a.logger.Warn("line editing unavailable", slog.String("error", err.Error()))
			} else {
				loop.Lines = lines
				a.printer.SetOutput(lines.Output())
			}
		}
		return loop.Run(ctx)
	}

	var err error
	switch {
	case a.opts.File != "" && source.KindOf(a.opts.File) == source.KindPDF:
		err = a.readPDF(ctx)
	case a.opts.File != "" && source.KindOf(a.opts.File) == source.KindEPUB:
		err = a.readEPUB(ctx)
	default:
		err = a.readText(ctx)
	}
	return a.exitCode(ctx, err)
}

// subcommand runs "voices", "download" or "history" when the positional text
// names one.
func (a *app) subcommand(ctx context.Context) (int, bool) {
	text := a.opts.Text
	if len(text) == 0 {
		return 0, false
	}
	switch text[0] {
	case "voices":
		if len(text) == 1 {
			return a.listVoices(), true
		}
	case "download":
		return a.download(ctx), true
	case "history":
		switch len(text) {
		case 1:
			return a.history(ctx, 20), true
		case 2:
			if n, err := strconv.Atoi(text[1]); err == nil && n > 0 {
				return a.history(ctx, n), true
			}
			if _, err := uuid.Parse(text[1]); err == nil {
				return a.sessionTimeline(ctx, text[1]), true
			}
		}
	}
	return 0, false
}

// wire builds the process runner, the synthesizer and the playback
// controller with its sinks. Sinks that fail to start are logged and left
// out.
func (a *app) wire(ctx context.Context) error {
	a.runner = a.env.Runner
	if a.runner == nil {
		a.runner = procrun.NewExecRunner(a.logger)
	}
	a.resolver = platform.NewResolver(a.cfg.Player.Command, a.cfg.Clipboard.Command)

	piper, err := tts.NewPiper(a.cfg.Synth.Command, a.runner, a.logger)
	if err != nil {
		return err
	}
	a.piper = piper

	var player playback.PlayerResolver = a.resolver
	if a.env.Player != nil {
		player = a.env.Player
	}

	sinks := playback.MultiSink{a.printer}
	store, err := history.Open(ctx, a.cfg.History, a.logger)
	if err != nil {
		a.logger.Warn("history disabled", slog.String("error", err.Error()))
	} else {
		a.closers = append(a.closers, func() { _ = store.Close() })
		if store.Enabled() {
			sinks = append(sinks, store)
		}
	}
	if a.cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, a.cfg.Bus, a.logger)
		if err != nil {
			a.logger.Warn("status bus disabled", slog.String("error", err.Error()))
		} else {
			a.closers = append(a.closers, client.Close)
			sinks = append(sinks, bus.NewPublisher(client, a.cfg.Bus.Subject))
		}
	}

	a.controller = playback.New(a.runner, a.piper, player, sinks,
		playback.WithLogger(a.logger),
		playback.WithStopTimeout(time.Duration(a.cfg.Player.StopTimeoutMS)*time.Millisecond),
		playback.WithTempDir(a.cfg.Player.TempDir),
		playback.WithTracer(a.tel.Tracer(instrumentationName)),
		playback.WithMeter(a.tel.Meter(instrumentationName)),
	)
	return nil
}

// shutdown stops any playback, then releases the sinks in reverse order.
func (a *app) shutdown() {
	if a.controller != nil {
		a.controller.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

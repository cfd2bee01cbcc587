// Package interactive implements the line-at-a-time reading mode.
package interactive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/reed/internal/console"
)

// DefaultPrompt is shown before each line of input.
const DefaultPrompt = "> "

// DefaultPasteWindow suits terminal input, where a multi-line paste arrives
// as a burst of lines.
const DefaultPasteWindow = 30 * time.Millisecond

var DefaultQuitWords = []string{"/quit", "/exit"}

// Commands lists every command the loop understands.
var Commands = []console.Command{
	{Name: "/quit", Description: "Exit interactive mode"},
	{Name: "/exit", Description: "Exit interactive mode"},
	{Name: "/help", Description: "Show this help"},
	{Name: "/clear", Description: "Clear screen"},
	{Name: "/replay", Description: "Replay last text"},
	{Name: "/pause", Description: "Pause playback"},
	{Name: "/resume", Description: "Resume paused playback"},
	{Name: "/stop", Description: "Stop playback"},
}

// Controller is the subset of the playback controller the loop drives.
type Controller interface {
	CurrentText() string
	Pause() bool
	Resume() bool
	Stop() bool
}

type UI interface {
	Banner()
	Help([]console.Command)
	Clear()
	Notice(string)
	Error(string)
	Println(string)
	Prompt(string)
}

type Loop struct {
	Input io.Reader
	// Lines, when set, is read instead of Input. It draws its own prompt.
	Lines LineReader
	// Speak starts speaking text. It must not wait for playback to finish.
	Speak      func(text string) error
	Controller Controller
	UI         UI
	Prompt     string
	QuitWords  []string
	// PasteWindow, when positive, is how long the loop keeps collecting lines
	// that follow the first one so they are spoken as one utterance.
	PasteWindow time.Duration
	Logger      *slog.Logger

	lastText string
}

// Run reads lines until a quit word, end of input, or ctx is done. All three
// end the loop with exit code 0.
func (l *Loop) Run(ctx context.Context) int {
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "interactive"))

	prompt := l.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	quit := make(map[string]bool)
	words := l.QuitWords
	if len(words) == 0 {
		words = DefaultQuitWords
	}
	for _, w := range words {
		quit[strings.ToLower(w)] = true
	}

	reader := l.Lines
	ownPrompt := reader != nil
	if reader == nil {
		reader = newScanReader(l.Input)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go readLines(ctx, reader, lines, logger)

	l.UI.Banner()
	for {
		if !ownPrompt {
			l.UI.Prompt(prompt)
		}
		var line string
		select {
		case <-ctx.Done():
			l.UI.Println("")
			return 0
		case next, ok := <-lines:
			if !ok {
				l.UI.Println("")
				return 0
			}
			line = next
		}
		text := line
		if l.PasteWindow > 0 {
			text = collectPaste(ctx, line, lines, l.PasteWindow)
		}
		if l.handle(text, quit) {
			return 0
		}
	}
}

// handle processes one input and reports whether the loop should exit.
func (l *Loop) handle(input string, quit map[string]bool) bool {
	text := strings.TrimSpace(input)
	if text == "" {
		return false
	}
	cmd := strings.ToLower(text)
	switch {
	case quit[cmd]:
		return true
	case cmd == "/help":
		l.UI.Help(Commands)
		l.UI.Println("")
	case cmd == "/clear":
		l.UI.Clear()
		l.UI.Banner()
	case cmd == "/replay":
		replay := l.lastText
		if l.Controller != nil {
			replay = l.Controller.CurrentText()
		}
		if replay == "" {
			l.UI.Notice("No text to replay.")
			l.UI.Println("")
			return false
		}
		l.speak(replay)
	case cmd == "/pause":
		if l.Controller == nil || !l.Controller.Pause() {
			l.UI.Notice("Nothing to pause.")
		}
	case cmd == "/resume":
		if l.Controller == nil || !l.Controller.Resume() {
			l.UI.Notice("Nothing to resume.")
		}
	case cmd == "/stop":
		if l.Controller == nil || !l.Controller.Stop() {
			l.UI.Notice("Nothing to stop.")
		}
	default:
		var kept []string
		for _, ln := range strings.Split(text, "\n") {
			if ln = strings.TrimSpace(ln); ln != "" {
				kept = append(kept, ln)
			}
		}
		if len(kept) == 0 {
			return false
		}
		l.lastText = strings.Join(kept, "\n")
		l.speak(l.lastText)
	}
	return false
}

func (l *Loop) speak(text string) {
	if err := l.Speak(text); err != nil {
		l.UI.Error(err.Error())
	}
	l.UI.Println("")
}

func readLines(ctx context.Context, r LineReader, out chan<- string, logger *slog.Logger) {
	defer close(out)
	for {
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("read input failed", slog.String("error", err.Error()))
			}
			return
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}

func collectPaste(ctx context.Context, first string, lines <-chan string, window time.Duration) string {
	parts := []string{first}
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case next, ok := <-lines:
			if !ok {
				return strings.Join(parts, "\n")
			}
			parts = append(parts, next)
			timer.Reset(window)
		case <-timer.C:
			return strings.Join(parts, "\n")
		case <-ctx.Done():
			return strings.Join(parts, "\n")
		}
	}
}

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/loqalabs/reed/internal/procrun"
)

type clipboardRunner struct {
	argv   []string
	result procrun.Result
	err    error
}

func (r *clipboardRunner) Run(_ context.Context, argv []string, _ []byte) (procrun.Result, error) {
	r.argv = argv
	return r.result, r.err
}

func (r *clipboardRunner) Spawn([]string, procrun.SpawnOptions) (procrun.Process, error) {
	return nil, errors.New("not implemented")
}

func (r *clipboardRunner) SupportsSuspend() bool { return false }

type staticClipboard struct {
	argv []string
	err  error
}

func (s staticClipboard) ClipboardCommand() ([]string, error) { return s.argv, s.err }

func TestClipboardWins(t *testing.T) {
	runner := &clipboardRunner{result: procrun.Result{Stdout: []byte("  copied text \n")}}
	a := &Acquirer{Runner: runner, Clipboard: staticClipboard{argv: []string{"pbpaste"}}}

	got, err := a.Text(t.Context(), Request{Clipboard: true, Args: []string{"ignored"}, File: "ignored.txt"})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "copied text" {
		t.Fatalf("expected trimmed clipboard text, got %q", got)
	}
	if !reflect.DeepEqual(runner.argv, []string{"pbpaste"}) {
		t.Fatalf("unexpected clipboard argv %v", runner.argv)
	}
}

func TestClipboardFailures(t *testing.T) {
	a := &Acquirer{
		Runner:    &clipboardRunner{result: procrun.Result{ExitCode: 1}},
		Clipboard: staticClipboard{argv: []string{"xclip"}},
	}
	if _, err := a.Text(t.Context(), Request{Clipboard: true}); !errors.Is(err, ErrClipboard) {
		t.Fatalf("expected ErrClipboard, got %v", err)
	}

	unsupported := errors.New("no supported clipboard tool found on linux")
	a.Clipboard = staticClipboard{err: unsupported}
	if _, err := a.Text(t.Context(), Request{Clipboard: true}); !errors.Is(err, unsupported) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestFileThenStdinThenArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("from file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := &Acquirer{}

	got, err := a.Text(t.Context(), Request{File: path, Stdin: strings.NewReader("piped"), Args: []string{"x"}})
	if err != nil || got != "from file\n" {
		t.Fatalf("expected file contents, got %q, %v", got, err)
	}

	got, err = a.Text(t.Context(), Request{Stdin: strings.NewReader("  piped text\n"), Args: []string{"x"}})
	if err != nil || got != "piped text" {
		t.Fatalf("expected piped stdin, got %q, %v", got, err)
	}

	got, err = a.Text(t.Context(), Request{Stdin: strings.NewReader("tty"), StdinTTY: true, Args: []string{"hello", "world"}})
	if err != nil || got != "hello world" {
		t.Fatalf("expected joined args, got %q, %v", got, err)
	}

	if _, err := a.Text(t.Context(), Request{Stdin: strings.NewReader(""), StdinTTY: true}); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestFileErrors(t *testing.T) {
	a := &Acquirer{}
	if _, err := a.Text(t.Context(), Request{File: "notes.txt", Pages: "1"}); !errors.Is(err, ErrPagesNeedDocument) {
		t.Fatalf("expected ErrPagesNeedDocument, got %v", err)
	}
	if _, err := a.Text(t.Context(), Request{File: filepath.Join(t.TempDir(), "missing.txt")}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"book.EPUB":    KindEPUB,
		"paper.pdf":    KindPDF,
		"notes.txt":    KindText,
		"README":       KindText,
		"dir.pdf/x.md": KindText,
	}
	for path, want := range cases {
		if got := KindOf(path); got != want {
			t.Fatalf("%s: expected %d, got %d", path, want, got)
		}
	}
}

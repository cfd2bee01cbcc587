// Package source collects the text to read from arguments, files, the
// clipboard or standard input, including PDF pages and EPUB chapters.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/reed/internal/procrun"
)

var (
	ErrNoInput           = errors.New("no input provided. Use --help for usage.")
	ErrClipboard         = errors.New("failed to read clipboard")
	ErrPagesNeedDocument = errors.New("--pages can only be used with PDF or EPUB files")
)

// ClipboardResolver returns the argv printing the clipboard contents.
type ClipboardResolver interface {
	ClipboardCommand() ([]string, error)
}

// Request describes where the user asked text to come from.
type Request struct {
	Clipboard bool
	File      string
	Pages     string
	Args      []string
	Stdin     io.Reader
	StdinTTY  bool
}

type Acquirer struct {
	Runner    procrun.Runner
	Clipboard ClipboardResolver
}

// Text returns the input text. Sources are tried in order: clipboard, file,
// piped standard input, then positional arguments.
func (a *Acquirer) Text(ctx context.Context, req Request) (string, error) {
	if req.Clipboard {
		return a.clipboard(ctx)
	}
	if req.File != "" {
		if req.Pages != "" {
			return "", ErrPagesNeedDocument
		}
		data, err := os.ReadFile(req.File)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", req.File, err)
		}
		return string(data), nil
	}
	if req.Stdin != nil && !req.StdinTTY {
		data, err := io.ReadAll(req.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(req.Args) > 0 {
		return strings.Join(req.Args, " "), nil
	}
	return "", ErrNoInput
}

func (a *Acquirer) clipboard(ctx context.Context) (string, error) {
	argv, err := a.Clipboard.ClipboardCommand()
	if err != nil {
		return "", err
	}
	res, err := a.Runner.Run(ctx, argv, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClipboard, err)
	}
	if res.ExitCode != 0 {
		return "", ErrClipboard
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Kind classifies a file by extension.
type Kind int

const (
	KindText Kind = iota
	KindPDF
	KindEPUB
)

func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF
	case ".epub":
		return KindEPUB
	default:
		return KindText
	}
}

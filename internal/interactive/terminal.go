package interactive

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/chzyer/readline"
)

// LineReader supplies input one line at a time. ReadLine returns io.EOF once
// input ends.
type LineReader interface {
	ReadLine() (string, error)
	Close() error
}

type lineEditor interface {
	Readline() (string, error)
	SaveHistory(content string) error
	Stdout() io.Writer
	Close() error
}

// TerminalReader reads from a terminal with line editing, in-memory history
// and command completion. It draws its own prompt.
type TerminalReader struct {
	ed lineEditor
}

// NewTerminalReader opens a line editor on in. The history starts out holding
// the quit words.
func NewTerminalReader(in *os.File, out io.Writer, prompt string, quitWords []string) (*TerminalReader, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	ed, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		Stdin:           in,
		Stdout:          out,
		HistoryLimit:    1000,
		AutoComplete:    commandCompleter(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, err
	}
	return newTerminalReader(ed, quitWords), nil
}

func newTerminalReader(ed lineEditor, quitWords []string) *TerminalReader {
	if len(quitWords) == 0 {
		quitWords = DefaultQuitWords
	}
	for _, w := range quitWords {
		_ = ed.SaveHistory(w)
	}
	return &TerminalReader{ed: ed}
}

// ReadLine returns the next edited line. Ctrl-C ends input like Ctrl-D.
func (r *TerminalReader) ReadLine() (string, error) {
	line, err := r.ed.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

// Output is a writer that keeps the prompt intact while status lines are
// printed underneath it.
func (r *TerminalReader) Output() io.Writer {
	return r.ed.Stdout()
}

func (r *TerminalReader) Close() error {
	return r.ed.Close()
}

func commandCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(Commands))
	for _, c := range Commands {
		items = append(items, readline.PcItem(c.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner}
}

func (r *scanReader) ReadLine() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

package app

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/loqalabs/reed/internal/config"
	"github.com/loqalabs/reed/internal/tts"
	"github.com/loqalabs/reed/internal/voices"
)

// Options holds the parsed command line.
type Options struct {
	Text       []string
	File       string
	Pages      string
	Clipboard  bool
	Model      string
	Speed      float64
	Volume     float64
	Silence    float64
	Output     string
	ConfigPath string
	Version    bool

	set map[string]bool
}

// short flag -> long flag
var aliases = map[string]string{
	"f": "file",
	"c": "clipboard",
	"m": "model",
	"s": "speed",
	"v": "volume",
	"o": "output",
}

func newFlagSet(opts *Options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("reed", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.File, "file", "", "Read text from a file (.txt, .pdf or .epub)")
	fs.StringVar(&opts.Pages, "pages", "", "PDF pages or EPUB chapters to read (1-based), e.g. 1,3-5")
	fs.BoolVar(&opts.Clipboard, "clipboard", false, "Read text from clipboard")
	fs.StringVar(&opts.Model, "model", "", "Voice name or path to voice model (default: "+voices.DefaultVoice+")")
	fs.Float64Var(&opts.Speed, "speed", 1.0, "Speech speed (default: 1.0, lower=slower)")
	fs.Float64Var(&opts.Volume, "volume", 1.0, "Volume multiplier")
	fs.StringVar(&opts.Output, "output", "", "Save to WAV file instead of playing")
	fs.Float64Var(&opts.Silence, "silence", tts.DefaultSilence, "Seconds of silence between sentences")
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (default: <user config dir>/reed/config.yaml)")
	fs.BoolVar(&opts.Version, "version", false, "Print version and exit")

	for short, long := range aliases {
		f := fs.Lookup(long)
		fs.Var(f.Value, short, "Shorthand for --"+long)
	}

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: reed [flags] [text ...]")
		fmt.Fprintln(fs.Output(), "       reed voices | reed download <voice> | reed history [n | session-id]")
		fmt.Fprintln(fs.Output(), "\nRead text aloud using piper-tts.\n\nFlags:")
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses args, allowing flags before and after positional text as
// in "reed hello world -s 1.2". Everything after "--" is text.
func parseArgs(args []string, stderr io.Writer) (Options, error) {
	var opts Options
	fs := newFlagSet(&opts, stderr)

	for {
		if err := fs.Parse(args); err != nil {
			return opts, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		if stoppedAtTerminator(fs, args, len(args)-len(rest)) {
			opts.Text = append(opts.Text, rest...)
			break
		}
		opts.Text = append(opts.Text, rest[0])
		args = rest[1:]
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := aliases[name]; ok {
			name = long
		}
		opts.set[name] = true
	})
	return opts, nil
}

// stoppedAtTerminator reports whether the first n args, all consumed by fs,
// end with a "--" terminator rather than a "--" given as a flag value.
func stoppedAtTerminator(fs *flag.FlagSet, args []string, n int) bool {
	for i := 0; i < n; i++ {
		arg := args[i]
		if arg == "--" {
			return i == n-1
		}
		if len(arg) < 2 || arg[0] != '-' || strings.Contains(arg, "=") {
			continue
		}
		f := fs.Lookup(strings.TrimLeft(arg, "-"))
		if f == nil {
			continue
		}
		if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
			continue
		}
		i++
	}
	return false
}

// applyConfigDefaults fills in values from the config file for flags the
// user did not set explicitly.
func (o *Options) applyConfigDefaults(cfg config.VoiceConfig) {
	if !o.set["model"] && cfg.Model != "" {
		o.Model = cfg.Model
	}
	if !o.set["speed"] && cfg.Speed > 0 {
		o.Speed = cfg.Speed
	}
	if !o.set["volume"] {
		o.Volume = cfg.Volume
	}
	if !o.set["silence"] {
		o.Silence = cfg.Silence
	}
}

func (o *Options) interactive(stdinTTY bool) bool {
	if len(o.Text) > 0 || o.File != "" || o.Clipboard || o.Pages != "" {
		return false
	}
	return stdinTTY
}

// Package platform picks the audio player and clipboard programs available on
// the host.
package platform

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/loqalabs/reed/internal/procrun"
)

// ErrUnsupported matches every *UnsupportedError.
var ErrUnsupported = errors.New("no supported tool found")

// UnsupportedError reports that none of the known programs for a tool is
// installed on the host.
type UnsupportedError struct {
	Tool string
	GOOS string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("no supported %s found on %s", e.Tool, e.GOOS)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

type candidate struct {
	name string
	args []string
}

var linuxPlayers = []candidate{
	{name: "paplay"},
	{name: "aplay"},
	{name: "ffplay", args: []string{"-nodisp", "-autoexit"}},
}

var linuxClipboards = []candidate{
	{name: "wl-paste"},
	{name: "xclip", args: []string{"-selection", "clipboard", "-o"}},
	{name: "xsel", args: []string{"--clipboard", "--output"}},
}

// Resolver resolves tool command lines. Overrides, when set, win over
// detection and are parsed with shell quoting rules.
type Resolver struct {
	GOOS              string
	LookPath          func(file string) (string, error)
	PlayOverride      string
	ClipboardOverride string
}

func NewResolver(playOverride, clipboardOverride string) *Resolver {
	return &Resolver{
		GOOS:              runtime.GOOS,
		LookPath:          exec.LookPath,
		PlayOverride:      playOverride,
		ClipboardOverride: clipboardOverride,
	}
}

// PlayCommand returns the argv prefix of the audio player; the audio file
// path is appended by the caller.
func (r *Resolver) PlayCommand() ([]string, error) {
	if r.PlayOverride != "" {
		return procrun.ParseCommand(r.PlayOverride)
	}
	switch r.GOOS {
	case "darwin":
		return []string{"afplay"}, nil
	case "linux":
		if argv, ok := r.first(linuxPlayers); ok {
			return argv, nil
		}
	case "windows":
		if r.has("powershell") {
			return []string{
				"powershell", "-NoProfile", "-NonInteractive", "-c",
				"(New-Object System.Media.SoundPlayer $args[0]).PlaySync()",
			}, nil
		}
		if r.has("ffplay") {
			return []string{"ffplay", "-nodisp", "-autoexit", "-hide_banner"}, nil
		}
	}
	return nil, &UnsupportedError{Tool: "audio player", GOOS: r.GOOS}
}

// ClipboardCommand returns the argv that prints the clipboard contents.
func (r *Resolver) ClipboardCommand() ([]string, error) {
	if r.ClipboardOverride != "" {
		return procrun.ParseCommand(r.ClipboardOverride)
	}
	switch r.GOOS {
	case "darwin":
		return []string{"pbpaste"}, nil
	case "linux":
		if argv, ok := r.first(linuxClipboards); ok {
			return argv, nil
		}
	case "windows":
		return []string{"powershell", "-Command", "Get-Clipboard"}, nil
	}
	return nil, &UnsupportedError{Tool: "clipboard tool", GOOS: r.GOOS}
}

func (r *Resolver) first(candidates []candidate) ([]string, bool) {
	for _, c := range candidates {
		if r.has(c.name) {
			return append([]string{c.name}, c.args...), true
		}
	}
	return nil, false
}

func (r *Resolver) has(name string) bool {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(name)
	return err == nil
}

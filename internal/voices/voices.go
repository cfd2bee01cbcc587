// Package voices locates, lists and downloads piper voice models.
package voices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

const (
	DefaultVoice   = "en_US-kristin-medium"
	DefaultBaseURL = "https://huggingface.co/rhasspy/piper-voices/resolve/main"

	modelExt  = ".onnx"
	configExt = ".onnx.json"
)

var ErrModelNotFound = errors.New("model not found")

// DataDir returns the per-user directory holding voice models:
// %LOCALAPPDATA%\reed on Windows, otherwise $XDG_DATA_HOME/reed or
// ~/.local/share/reed.
func DataDir(goos string, getenv func(string) string, home string) string {
	if goos == "windows" {
		base := getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, "reed")
	}
	base := getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "reed")
}

func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return DataDir(runtime.GOOS, os.Getenv, home), nil
}

// ModelURLs maps a voice name such as "en_US-lessac-high" to the URLs of its
// model and config files in the piper-voices repository.
func ModelURLs(baseURL, name string) (model string, config string, err error) {
	parts := strings.Split(name, "-")
	if len(parts) < 3 || len(parts[0]) < 2 {
		return "", "", fmt.Errorf("invalid voice name %q (expected <lang>-<voice>-<quality>)", name)
	}
	lang := parts[0]
	quality := parts[len(parts)-1]
	voice := strings.Join(parts[1:len(parts)-1], "_")
	family := lang[:2]
	base := strings.TrimRight(baseURL, "/") + "/" + strings.Join([]string{family, lang, voice, quality, name}, "/")
	return base + modelExt, base + configExt, nil
}

// EventKind describes download progress.
type EventKind int

const (
	EventDownloading EventKind = iota
	EventSaved
)

type Event struct {
	Kind EventKind
	Path string
}

// Voice is an installed model.
type Voice struct {
	Name    string
	Path    string
	Size    int64
	Default bool
}

type Manager struct {
	Dir     string
	BaseURL string
	Client  *http.Client
	Notify  func(Event)
	Logger  *slog.Logger
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger.With(slog.String("component", "voices"))
}

// Resolve turns the --model argument into a model path. An empty model means
// the default voice; a bare name that is not an existing file refers to the
// data directory.
func (m *Manager) Resolve(model string) string {
	if model == "" {
		return filepath.Join(m.Dir, DefaultVoice+modelExt)
	}
	if _, err := os.Stat(model); err == nil {
		return model
	}
	if strings.ContainsAny(model, `/\`) {
		return model
	}
	if !strings.HasSuffix(model, modelExt) {
		model += modelExt
	}
	return filepath.Join(m.Dir, model)
}

// Ensure makes sure the model at path exists, downloading it when it is
// missing from the data directory. Models elsewhere are never downloaded.
func (m *Manager) Ensure(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(m.Dir) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	name := strings.TrimSuffix(filepath.Base(path), modelExt)
	_, err := m.Download(ctx, name)
	return err
}

// Download fetches the model and config of voice name into the data
// directory and returns the model path.
func (m *Manager) Download(ctx context.Context, name string) (string, error) {
	name = strings.TrimSuffix(name, modelExt)
	modelURL, configURL, err := ModelURLs(m.baseURL(), name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	dest := filepath.Join(m.Dir, name+modelExt)
	if err := m.fetch(ctx, modelURL, dest); err != nil {
		return "", err
	}
	if err := m.fetch(ctx, configURL, filepath.Join(m.Dir, name+configExt)); err != nil {
		return "", err
	}
	return dest, nil
}

// Installed lists the models in the data directory sorted by name.
func (m *Manager) Installed() ([]Voice, error) {
	entries, err := os.ReadDir(m.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	var out []Voice
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), modelExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), modelExt)
		out = append(out, Voice{
			Name:    name,
			Path:    filepath.Join(m.Dir, e.Name()),
			Size:    info.Size(),
			Default: name == DefaultVoice,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Manager) fetch(ctx context.Context, url, dest string) error {
	m.notify(Event{Kind: EventDownloading, Path: dest})
	logger := m.logger()
	logger.Debug("downloading", slog.String("url", url), slog.String("dest", dest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", filepath.Base(dest), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", filepath.Base(dest), resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install %s: %w", filepath.Base(dest), err)
	}
	logger.Info("voice file saved", slog.String("path", dest))
	m.notify(Event{Kind: EventSaved, Path: dest})
	return nil
}

func (m *Manager) baseURL() string {
	if m.BaseURL == "" {
		return DefaultBaseURL
	}
	return m.BaseURL
}

func (m *Manager) notify(e Event) {
	if m.Notify != nil {
		m.Notify(e)
	}
}

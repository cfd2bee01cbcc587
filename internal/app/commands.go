package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loqalabs/reed/internal/console"
	"github.com/loqalabs/reed/internal/history"
	"github.com/loqalabs/reed/internal/voices"
)

func (a *app) listVoices() int {
	installed, err := a.voices.Installed()
	if err != nil {
		a.printer.Error(err.Error())
		return 1
	}
	if len(installed) == 0 {
		a.printer.Dim("No voices installed.")
		a.printer.Dim("Download one with: reed download " + voices.DefaultVoice)
		return 0
	}
	rows := make([]console.VoiceRow, 0, len(installed))
	for _, v := range installed {
		rows = append(rows, console.VoiceRow{
			Name:    v.Name,
			SizeMB:  float64(v.Size) / 1_048_576,
			Default: v.Default,
		})
	}
	a.printer.Voices(rows)
	return 0
}

func (a *app) download(ctx context.Context) int {
	if len(a.opts.Text) < 2 {
		a.printer.Error("Usage: reed download <voice-name>")
		return 1
	}
	name := strings.TrimSuffix(a.opts.Text[1], ".onnx")
	if _, err := a.voices.Download(ctx, name); err != nil {
		a.printer.Error(fmt.Sprintf("download failed: %v", err))
		return 1
	}
	a.printer.Println("")
	a.printer.Success(fmt.Sprintf("Voice ready! Use with: reed -m %s \"Hello\"", name))
	return 0
}

func (a *app) downloadProgress(e voices.Event) {
	switch e.Kind {
	case voices.EventDownloading:
		a.printer.Println("⬇ Downloading " + filepath.Base(e.Path) + "…")
	case voices.EventSaved:
		a.printer.Success("Saved " + e.Path)
	}
}

// openHistory opens the history store, printing why when it is unusable.
func (a *app) openHistory(ctx context.Context) (*history.Store, bool) {
	store, err := history.Open(ctx, a.cfg.History, a.logger)
	if err != nil {
		a.printer.Error(err.Error())
		return nil, false
	}
	if !store.Enabled() {
		store.Close()
		a.printer.Dim("History is disabled. Set history.retention_mode to session or persistent to record sessions.")
		return nil, true
	}
	return store, true
}

func (a *app) history(ctx context.Context, limit int) int {
	store, ok := a.openHistory(ctx)
	if store == nil {
		return exitStatus(ok)
	}
	defer store.Close()

	sessions, err := store.Recent(ctx, limit)
	if err != nil {
		a.printer.Error(fmt.Sprintf("failed to read history: %v", err))
		return 1
	}
	if len(sessions) == 0 {
		a.printer.Dim("No sessions recorded yet.")
		return 0
	}
	rows := make([]console.HistoryRow, 0, len(sessions))
	for _, s := range sessions {
		row := console.HistoryRow{ID: s.ID, Started: s.StartedAt, Outcome: s.Outcome, Text: s.Text}
		if !s.FinishedAt.IsZero() {
			row.Duration = s.FinishedAt.Sub(s.StartedAt)
		}
		rows = append(rows, row)
	}
	a.printer.History(rows)
	return 0
}

// sessionTimeline prints every status update recorded for one session.
func (a *app) sessionTimeline(ctx context.Context, id string) int {
	store, ok := a.openHistory(ctx)
	if store == nil {
		return exitStatus(ok)
	}
	defer store.Close()

	sess, err := store.Session(ctx, id)
	if errors.Is(err, history.ErrSessionNotFound) {
		a.printer.Error("no session " + id + " in history")
		return 1
	}
	if err != nil {
		a.printer.Error(fmt.Sprintf("failed to read history: %v", err))
		return 1
	}
	events, err := store.SessionEvents(ctx, id, 0)
	if err != nil {
		a.printer.Error(fmt.Sprintf("failed to read history: %v", err))
		return 1
	}
	rows := make([]console.TimelineRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, console.TimelineRow{At: e.CreatedAt, Kind: e.Kind, Message: e.Message})
	}
	a.printer.Timeline(fmt.Sprintf("Session %s (%s)", sess.ID, orRunning(sess.Outcome)), rows)
	if sess.Error != "" {
		a.printer.Notice(sess.Error)
	}
	return 0
}

func orRunning(outcome string) string {
	if outcome == "" {
		return "unfinished"
	}
	return outcome
}

func exitStatus(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

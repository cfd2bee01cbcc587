// Package history records playback sessions in a SQLite timeline.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/reed/internal/config"
	"github.com/loqalabs/reed/internal/playback"
	_ "modernc.org/sqlite"
)

const writeTimeout = 2 * time.Second

var ErrSessionNotFound = errors.New("session not found")

// Session is one recorded playback session.
type Session struct {
	ID         string
	Text       string
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Event is one status update within a session.
type Event struct {
	ID        int64
	SessionID string
	Kind      string
	Message   string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed history of playback sessions. It implements
// playback.Sink so it can be attached to a controller directly.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// DefaultPath is where history lives when history.path is unset.
func DefaultPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "reed", "history.db")
	}
	return "reed-history.db"
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(2000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    outcome TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Emit records a status update. Failures are logged, never returned, so a
// broken database cannot interrupt playback.
func (s *Store) Emit(status playback.Status) {
	if s.db == nil || status.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.record(ctx, status); err != nil {
		s.log.Warn("failed to record playback status",
			slog.String("session_id", status.SessionID),
			slog.String("kind", string(status.Kind)),
			slog.String("error", err.Error()))
	}
}

func (s *Store) record(ctx context.Context, status playback.Status) error {
	at := status.Time
	if at.IsZero() {
		at = s.clock()
	}
	if status.Kind == playback.KindGenerating {
		if err := s.AppendSession(ctx, status.SessionID, status.Text, at); err != nil {
			return err
		}
	}
	if err := s.AppendEvent(ctx, Event{
		SessionID: status.SessionID,
		Kind:      string(status.Kind),
		Message:   status.Message,
		CreatedAt: at,
	}); err != nil {
		return err
	}
	if status.Kind.Terminal() {
		errText := ""
		if status.Err != nil {
			errText = status.Err.Error()
		}
		return s.Finish(ctx, status.SessionID, string(status.Kind), errText, at)
	}
	return nil
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID, text string, startedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, text, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET text=excluded.text`,
		sessionID, text, startedAt.UnixNano())
	return err
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, kind, message, created_at) VALUES(?, ?, ?, ?)`,
		evt.SessionID, evt.Kind, evt.Message, evt.CreatedAt.UnixNano())
	return err
}

// Finish stores the outcome of a session.
func (s *Store) Finish(ctx context.Context, sessionID, outcome, errText string, finishedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET outcome = ?, error = ?, finished_at = ? WHERE session_id = ?`,
		outcome, errText, finishedAt.UnixNano(), sessionID)
	return err
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, text, outcome, error, started_at, finished_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started, finished int64
		if err := rows.Scan(&sess.ID, &sess.Text, &sess.Outcome, &sess.Error, &started, &finished); err != nil {
			return nil, err
		}
		sess.StartedAt = time.Unix(0, started)
		if finished > 0 {
			sess.FinishedAt = time.Unix(0, finished)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Session looks up one session by ID.
func (s *Store) Session(ctx context.Context, sessionID string) (Session, error) {
	if s.db == nil {
		return Session{}, ErrSessionNotFound
	}
	var sess Session
	var started, finished int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, text, outcome, error, started_at, finished_at
		 FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.ID, &sess.Text, &sess.Outcome, &sess.Error, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.Unix(0, started)
	if finished > 0 {
		sess.FinishedAt = time.Unix(0, finished)
	}
	return sess, nil
}

// SessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, message, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

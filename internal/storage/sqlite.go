package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/session"
	"github.com/bull/drugbot/internal/storage/migrations"
)

// SQLiteStore persists sessions, their messages and the recent-question list.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ session.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// migrate applies every *.up.sql file newer than the recorded schema version.
func (s *SQLiteStore) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// LoadSession returns the session with its messages in order.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM sessions WHERE id = ?", id).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, drug.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	sess := &session.Session{ID: id}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, text, sources, created_at FROM messages WHERE session_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg     session.Message
			role    string
			sources string
			ts      string
		)
		if err := rows.Scan(&role, &msg.Text, &sources, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = session.Role(role)
		if err := json.Unmarshal([]byte(sources), &msg.Sources); err != nil {
			return nil, fmt.Errorf("unmarshalling sources: %w", err)
		}
		if msg.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return sess, nil
}

// SaveTurn stores the session row and appends both messages in one transaction.
// sess holds the messages before the turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sess *session.Session, user, assistant session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sess.ID, formatTime(sess.CreatedAt), formatTime(assistant.Timestamp))
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	position := len(sess.Messages)
	for _, msg := range []session.Message{user, assistant} {
		sources := msg.Sources
		if sources == nil {
			sources = []drug.Source{}
		}
		sourcesJSON, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshalling sources: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, position, role, text, sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, position, string(msg.Role), msg.Text, string(sourcesJSON), formatTime(msg.Timestamp))
		if err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
		position++
	}

	return tx.Commit()
}

// ClearMessages deletes the messages of one session, or of all sessions when
// sessionID is empty. Returns the number of deleted messages.
func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if sessionID == "" {
		res, err = s.db.ExecContext(ctx, "DELETE FROM messages")
	} else {
		res, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted messages: %w", err)
	}
	return int(n), nil
}

// LoadRecentQuestions returns the stored questions, newest first.
func (s *SQLiteStore) LoadRecentQuestions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT question FROM recent_questions ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("querying recent questions: %w", err)
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scanning recent question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SaveRecentQuestions replaces the stored list.
func (s *SQLiteStore) SaveRecentQuestions(ctx context.Context, questions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM recent_questions"); err != nil {
		return fmt.Errorf("clearing recent questions: %w", err)
	}
	for i, q := range questions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO recent_questions (position, question) VALUES (?, ?)", i, q); err != nil {
			return fmt.Errorf("saving recent question: %w", err)
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

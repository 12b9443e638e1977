package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Session is one client connection as recorded in the history table.
type Session struct {
	ID             int64      `json:"id"`
	ClientID       uint32     `json:"client_id"`
	IP             string     `json:"ip"`
	Port           int        `json:"port"`
	LoginName      string     `json:"login_name,omitempty"`
	FinalState     string     `json:"final_state,omitempty"`
	Messages       uint64     `json:"messages"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// SessionStart describes a newly connected client.
type SessionStart struct {
	ClientID uint32
	IP       string
	Port     int
	At       time.Time
}

// SessionEnd describes how a client session finished.
type SessionEnd struct {
	LoginName  string
	FinalState string
	Messages   uint64
	At         time.Time
}

// SessionStore records client sessions.
type SessionStore struct {
	db *Database
}

// NewSessionStore opens the database at dbPath and migrates the schema.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SessionStore{db: database}
	if err := store.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}

	return store, nil
}

func (s *SessionStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			login_name TEXT NOT NULL DEFAULT '',
			final_state TEXT NOT NULL DEFAULT '',
			messages INTEGER NOT NULL DEFAULT 0,
			connected_at DATETIME NOT NULL,
			disconnected_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_client_id ON sessions(client_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("session schema migrated")
	return nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// RecordConnect inserts an open session and returns its row id.
func (s *SessionStore) RecordConnect(ctx context.Context, start SessionStart) (int64, error) {
	res, err := s.db.Exec(ctx,
		"INSERT INTO sessions (client_id, ip, port, connected_at) VALUES (?, ?, ?, ?)",
		start.ClientID, start.IP, start.Port, start.At.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record connect of client %d: %w", start.ClientID, err)
	}
	return res.LastInsertId()
}

// RecordDisconnect closes the session with the given row id.
func (s *SessionStore) RecordDisconnect(ctx context.Context, id int64, end SessionEnd) error {
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET login_name = ?, final_state = ?, messages = ?, disconnected_at = ?
		 WHERE id = ? AND disconnected_at IS NULL`,
		end.LoginName, end.FinalState, int64(end.Messages), end.At.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record disconnect of session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d not found or already closed", id)
	}
	return nil
}

// Recent returns the latest sessions, newest first.
func (s *SessionStore) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, client_id, ip, port, login_name, final_state, messages, connected_at, disconnected_at
		 FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess         Session
			messages     int64
			disconnected sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.ClientID, &sess.IP, &sess.Port, &sess.LoginName,
			&sess.FinalState, &messages, &sess.ConnectedAt, &disconnected); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Messages = uint64(messages)
		if disconnected.Valid {
			t := disconnected.Time
			sess.DisconnectedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Count returns the total number of recorded sessions and how many of
// them are still open.
func (s *SessionStore) Count(ctx context.Context) (total, open int64, err error) {
	err = s.db.QueryRow(ctx,
		"SELECT COUNT(*), COUNT(*) - COUNT(disconnected_at) FROM sessions").Scan(&total, &open)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return total, open, nil
}

// CloseDangling marks sessions left open by a previous process as ended
// at the given time and returns how many were closed.
func (s *SessionStore) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		"UPDATE sessions SET disconnected_at = ?, final_state = 'abandoned' WHERE disconnected_at IS NULL",
		at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling sessions: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished sessions older than the cutoff.
func (s *SessionStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		"DELETE FROM sessions WHERE disconnected_at IS NOT NULL AND disconnected_at < ?",
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

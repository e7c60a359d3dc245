package dialog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/empi-systems/agentcore/coreengine/envelope"
)

//go:embed schema.sql
var schema string

// SQLiteStore persists dialog records in a SQLite database. The file is
// opened in WAL mode so a reader (history export) can run alongside the
// recording loop.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("dialog: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dialog: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	raw, err := rec.Envelope.ToJSON()
	if err != nil {
		return fmt.Errorf("dialog: marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialog_messages (session_id, seq, message_id, role, hash, parent_hash, envelope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Seq, rec.MessageID, rec.Role, rec.Hash, rec.ParentHash, string(raw), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("dialog: insert record: %w", err)
	}
	return nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	query := `
		SELECT session_id, seq, message_id, role, hash, parent_hash, envelope, created_at
		FROM dialog_messages WHERE session_id = ?
		ORDER BY seq ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		// Newest N, still returned in ascending order.
		query = `
			SELECT session_id, seq, message_id, role, hash, parent_hash, envelope, created_at
			FROM dialog_messages WHERE session_id = ?
			AND seq > (SELECT COALESCE(MAX(seq), 0) - ? FROM dialog_messages WHERE session_id = ?)
			ORDER BY seq ASC
		`
		args = []any{sessionID, limit, sessionID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialog: query history: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Last implements Store.
func (s *SQLiteStore) Last(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, seq, message_id, role, hash, parent_hash, envelope, created_at
		FROM dialog_messages WHERE session_id = ?
		ORDER BY seq DESC LIMIT 1
	`, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dialog_messages WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dialog: count records: %w", err)
	}
	return n, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM dialog_messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("dialog: clear session: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var raw string
	if err := row.Scan(&rec.SessionID, &rec.Seq, &rec.MessageID, &rec.Role,
		&rec.Hash, &rec.ParentHash, &raw, &rec.CreatedAt); err != nil {
		return nil, err
	}
	env, err := envelope.FromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("dialog: decode envelope: %w", err)
	}
	rec.Envelope = env
	return &rec, nil
}

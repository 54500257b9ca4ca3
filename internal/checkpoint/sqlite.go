// Package checkpoint persists units after every stage transition: locally in
// SQLite and, debounced, to a remote mirror.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/slideflow/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS units (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	stage          TEXT NOT NULL,
	updated_at     INTEGER NOT NULL,
	data           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_units_order ON units (document_id, sequence_index);`

// SQLiteStore is the local durable copy of every unit.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the checkpoint database in dataDir.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "slideflow.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection avoids "database is locked" and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts a unit. A write carrying an older UpdatedAt than the stored row
// is ignored, so out-of-order asynchronous saves cannot roll a unit back.
func (s *SQLiteStore) Put(ctx context.Context, u models.Unit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding unit %s: %w", u.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO units (id, document_id, sequence_index, stage, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			sequence_index = excluded.sequence_index,
			stage = excluded.stage,
			updated_at = excluded.updated_at,
			data = excluded.data
		WHERE excluded.updated_at >= units.updated_at`,
		u.ID, u.DocumentID, u.SequenceIndex, string(u.Stage), u.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("writing unit %s: %w", u.ID, err)
	}
	return nil
}

// GetAll returns every stored unit in document order.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]models.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM units ORDER BY document_id, sequence_index`)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		var u models.Unit
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			return nil, fmt.Errorf("decoding unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// DeleteDocument deletes the units of one document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting units of document %s: %w", documentID, err)
	}
	return nil
}

// Clear deletes every stored unit.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM units`); err != nil {
		return fmt.Errorf("clearing units: %w", err)
	}
	return nil
}

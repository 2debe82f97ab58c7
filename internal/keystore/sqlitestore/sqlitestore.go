// Package sqlitestore is a KeyStore backed by a local SQLite database, for
// hosts that keep other structured state next to the key record.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/securestore"
	"recall254/go-core/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS key_records (
    namespace   TEXT PRIMARY KEY,
    record      BLOB NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath is the database location inside a data directory.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "keys.db")
}

// Open opens or creates the database at path and applies the schema. The
// database and its WAL side files are kept owner-only.
func Open(path string) (*Store, error) {
	if err := securestore.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	// SQLite creates -wal and -shm with the mode of the main file.
	if err := restrictFiles(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func restrictFiles(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("create database file: %w", err)
	}
	_ = f.Close()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Chmod(p, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("chmod %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*models.KeyRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM key_records WHERE namespace = ?`, keystore.Namespace).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, keystore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query key record: %w", err)
	}
	var rec models.KeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode key record: %w", err)
	}
	return &rec, nil
}

// Save replaces the record in a single statement.
func (s *Store) Save(ctx context.Context, rec *models.KeyRecord) error {
	if rec == nil {
		return errors.New("sqlitestore: nil record")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_records (namespace, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		keystore.Namespace, raw, s.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert key record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM key_records WHERE namespace = ?`, keystore.Namespace); err != nil {
		return fmt.Errorf("delete key record: %w", err)
	}
	return nil
}

var _ keystore.KeyStore = (*Store)(nil)

package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/synchrony-labs/synchrony/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id   TEXT PRIMARY KEY,
	body BLOB NOT NULL
);`

// SQLite store. Apply is one SQL transaction
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err = db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRow(ctx context.Context, q queryRower, k ledger.Key) (float64, error) {
	var ret float64
	err := q.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", string(k)).Scan(&ret)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ret, err
}

func (s *SQLite) Read(ctx context.Context, k ledger.Key) (float64, error) {
	return readRow(ctx, s.db, k)
}

func (s *SQLite) Apply(ctx context.Context, deltas ledger.DeltaSet, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range deltas {
		stored, err := readRow(ctx, tx, d.Key)
		if err != nil {
			return err
		}
		if !ledger.ValuesEqual(stored, d.Before) {
			return staleError(d.Key, stored, d.Before)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			string(d.Key), d.After)
		if err != nil {
			return fmt.Errorf("write '%s': %w", d.Key, err)
		}
	}
	if rec != nil {
		if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO records (id, body) VALUES (?, ?)", rec.ID, rec.Bytes()); err != nil {
			return fmt.Errorf("write batch record: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Record(ctx context.Context, id string) (*Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM records WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recordNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return RecordFromBytes(body)
}

func (s *SQLite) Snapshot(ctx context.Context) (ledger.State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(ledger.State)
	for rows.Next() {
		var k string
		var v float64
		if err = rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		ret[ledger.Key(k)] = v
	}
	return ret, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

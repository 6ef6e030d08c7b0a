// Package sqlite persists the published record set in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
	"github.com/tuhinx/bubt-annex-routine/internal/store"
)

// RecordStore replaces the stored record set on every index rebuild.
type RecordStore struct {
	db    *sql.DB
	table string
}

// Open opens dsn and creates the record table when missing.
func Open(ctx context.Context, dsn, table string) (*RecordStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := New(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	table, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, table: table}, nil
}

// Close closes the database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the record table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id   TEXT    NOT NULL,
	position INTEGER NOT NULL PRIMARY KEY,
	program  TEXT    NOT NULL,
	intake   TEXT    NOT NULL,
	section  TEXT    NOT NULL,
	image    TEXT    NOT NULL,
	pdf      TEXT    NOT NULL,
	tables   TEXT    NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// ReplaceRecords swaps the stored set for records in one transaction.
func (s *RecordStore) ReplaceRecords(ctx context.Context, runID string, records []routine.Record) error {
	rows, err := store.Rows(runID, records)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?)", s.table, store.Columns))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		args := row.Args()
		args[7] = string(row.Tables)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d: %w", row.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// Records loads the stored set in index order.
func (s *RecordStore) Records(ctx context.Context) ([]routine.Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT program, intake, section, image, pdf, tables FROM %s ORDER BY position", s.table))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []routine.Record
	for rows.Next() {
		var (
			rec    routine.Record
			tables string
		)
		if err := rows.Scan(&rec.Program, &rec.Intake, &rec.Section, &rec.Image, &rec.PDF, &tables); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(tables), &rec.Tables); err != nil {
			return nil, fmt.Errorf("decode tables: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

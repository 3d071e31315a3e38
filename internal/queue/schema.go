package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed release_queue.sql
var schemaDDL string

// schemaVersion tracks the shape of the release_queue table. There is
// no migration path: a bump means operators clear the queue database.
const schemaVersion = 1

// ErrSchemaMismatch reports a queue database written by an
// incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema brings a fresh database up to the current schema or
// verifies an existing one, refusing to touch a mismatched version.
func (s *Store) initSchema(ctx context.Context) error {
	initialized, err := s.schemaPresent(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'capstan queue clear' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// schemaPresent reports whether the version table exists, the marker
// for an initialized database.
func (s *Store) schemaPresent(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check schema_version table: %w", err)
	}
	return n > 0, nil
}

// createSchema applies release_queue.sql and stamps the version marker
// inside one transaction, so a failed init leaves nothing behind.
func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		op   string
		stmt string
		args []any
	}{
		{"create schema", schemaDDL, nil},
		{"record schema version", "INSERT INTO schema_version (version) VALUES (?)", []any{schemaVersion}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.stmt, step.args...); err != nil {
			return fmt.Errorf("%s: %w", step.op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

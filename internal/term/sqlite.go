package term

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"
)

// SQLiteSchema is the DDL applied by [OpenSQLite]. Lookup keys live in their
// own table so each folded key is an indexed equality match.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS sutra_terms (
    canonical_key    TEXT PRIMARY KEY,
    canonical        TEXT NOT NULL,
    transliteration  TEXT NOT NULL,
    category         TEXT NOT NULL DEFAULT 'generic',
    confidence       REAL NOT NULL DEFAULT 0,
    compound         INTEGER NOT NULL DEFAULT 0,
    variants         TEXT NOT NULL DEFAULT '[]',
    context_clues    TEXT NOT NULL DEFAULT '[]',
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sutra_term_keys (
    lookup_key     TEXT NOT NULL,
    canonical_key  TEXT NOT NULL REFERENCES sutra_terms(canonical_key) ON DELETE CASCADE,
    PRIMARY KEY (lookup_key, canonical_key)
);
CREATE INDEX IF NOT EXISTS idx_sutra_term_keys_canonical ON sutra_term_keys(canonical_key);
`

// SQLiteStore is a [Store] backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies [SQLiteSchema].
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("term: sqlite: open %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("term: sqlite: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("term: sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Lookup implements [Store.Lookup]. A row whose JSON columns cannot be
// decoded is skipped with a warning and reported as not found.
func (s *SQLiteStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	key = Fold(key)
	if key == "" {
		return Entry{}, false, nil
	}

	const query = `
		SELECT t.canonical, t.transliteration, t.category, t.confidence, t.compound,
		       t.variants, t.context_clues
		FROM sutra_term_keys k
		JOIN sutra_terms t ON t.canonical_key = k.canonical_key
		WHERE k.lookup_key = ?
		ORDER BY t.confidence DESC
		LIMIT 1`

	var (
		e                      Entry
		category               string
		variantsJSON, clueJSON string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&e.Canonical, &e.Transliteration, &category, &e.Confidence, &e.Compound,
		&variantsJSON, &clueJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("term: sqlite: lookup %q: %w", key, err)
	}
	e.Category = Category(category)

	if err := json.Unmarshal([]byte(variantsJSON), &e.Variants); err != nil {
		slog.Warn("term: sqlite: skipping unparseable row", "canonical", e.Canonical, "column", "variants", "err", err)
		return Entry{}, false, nil
	}
	if err := json.Unmarshal([]byte(clueJSON), &e.ContextClues); err != nil {
		slog.Warn("term: sqlite: skipping unparseable row", "canonical", e.Canonical, "column", "context_clues", "err", err)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Upsert implements [Store.Upsert]. All entries are written in a single
// transaction; invalid entries are skipped with a warning.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []Entry) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("term: sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			n = 0
		}
	}()

	const upsertTerm = `
		INSERT INTO sutra_terms (
			canonical_key, canonical, transliteration, category, confidence,
			compound, variants, context_clues, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (canonical_key) DO UPDATE SET
			canonical       = excluded.canonical,
			transliteration = excluded.transliteration,
			category        = excluded.category,
			confidence      = excluded.confidence,
			compound        = excluded.compound,
			variants        = excluded.variants,
			context_clues   = excluded.context_clues,
			updated_at      = CURRENT_TIMESTAMP`

	for _, e := range entries {
		e = normalize(e)
		if verr := Validate(e); verr != nil {
			slog.Warn("term: sqlite: skipping invalid entry", "canonical", e.Canonical, "err", verr)
			continue
		}
		variantsJSON, err := json.Marshal(emptySlice(e.Variants))
		if err != nil {
			return 0, fmt.Errorf("term: sqlite: marshal variants: %w", err)
		}
		clueJSON, err := json.Marshal(emptySlice(e.ContextClues))
		if err != nil {
			return 0, fmt.Errorf("term: sqlite: marshal context_clues: %w", err)
		}

		ck := Fold(e.Canonical)
		if _, err = tx.ExecContext(ctx, upsertTerm,
			ck, e.Canonical, e.Transliteration, string(e.Category), e.Confidence,
			e.Compound, string(variantsJSON), string(clueJSON),
		); err != nil {
			return 0, fmt.Errorf("term: sqlite: upsert %q: %w", e.Canonical, err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sutra_term_keys WHERE canonical_key = ?`, ck); err != nil {
			return 0, fmt.Errorf("term: sqlite: clear keys %q: %w", e.Canonical, err)
		}
		for _, k := range e.Keys() {
			if _, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO sutra_term_keys (lookup_key, canonical_key) VALUES (?, ?)`, k, ck,
			); err != nil {
				return 0, fmt.Errorf("term: sqlite: insert key %q: %w", k, err)
			}
		}
		n++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("term: sqlite: commit: %w", err)
	}
	return n, nil
}

// Ping implements [Store.Ping].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("term: sqlite: ping: %w", err)
	}
	return nil
}

// Close implements [Store.Close].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package term

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the SQL DDL for the sutra_terms table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS sutra_terms (
    canonical_key    TEXT PRIMARY KEY,
    canonical        TEXT NOT NULL,
    transliteration  TEXT NOT NULL,
    category         TEXT NOT NULL DEFAULT 'generic',
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    compound         BOOLEAN NOT NULL DEFAULT false,
    variants         JSONB NOT NULL DEFAULT '[]',
    context_clues    JSONB NOT NULL DEFAULT '[]',
    lookup_keys      TEXT[] NOT NULL DEFAULT '{}',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sutra_terms_lookup_keys ON sutra_terms USING GIN (lookup_keys);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Variants and
// context clues are stored as JSONB; every folded lookup key is kept in a
// GIN-indexed text array.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on top of an existing
// connection or pool. The caller owns db; [PostgresStore.Close] is a no-op.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, verifies connectivity and applies
// [PostgresSchema]. The returned store owns the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("term: postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("term: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("term: postgres: ping: %w", err)
	}

	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema] against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("term: postgres: migrate: %w", err)
	}
	return nil
}

// Lookup implements [Store.Lookup]. A row whose JSON columns cannot be
// decoded is skipped with a warning and reported as not found.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	key = Fold(key)
	if key == "" {
		return Entry{}, false, nil
	}

	const query = `
		SELECT canonical, transliteration, category, confidence, compound,
		       variants, context_clues
		FROM sutra_terms
		WHERE lookup_keys @> ARRAY[$1]::text[]
		ORDER BY confidence DESC
		LIMIT 1`

	var (
		e                      Entry
		category               string
		variantsJSON, clueJSON []byte
	)
	err := s.db.QueryRow(ctx, query, key).Scan(
		&e.Canonical, &e.Transliteration, &category, &e.Confidence, &e.Compound,
		&variantsJSON, &clueJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("term: postgres: lookup %q: %w", key, err)
	}
	e.Category = Category(category)

	if err := json.Unmarshal(variantsJSON, &e.Variants); err != nil {
		slog.Warn("term: postgres: skipping unparseable row", "canonical", e.Canonical, "column", "variants", "err", err)
		return Entry{}, false, nil
	}
	if err := json.Unmarshal(clueJSON, &e.ContextClues); err != nil {
		slog.Warn("term: postgres: skipping unparseable row", "canonical", e.Canonical, "column", "context_clues", "err", err)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Upsert implements [Store.Upsert]. Invalid entries are skipped with a
// warning; a database error aborts the upsert and returns the count so far.
func (s *PostgresStore) Upsert(ctx context.Context, entries []Entry) (int, error) {
	const query = `
		INSERT INTO sutra_terms (
			canonical_key, canonical, transliteration, category, confidence,
			compound, variants, context_clues, lookup_keys, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (canonical_key) DO UPDATE SET
			canonical       = EXCLUDED.canonical,
			transliteration = EXCLUDED.transliteration,
			category        = EXCLUDED.category,
			confidence      = EXCLUDED.confidence,
			compound        = EXCLUDED.compound,
			variants        = EXCLUDED.variants,
			context_clues   = EXCLUDED.context_clues,
			lookup_keys     = EXCLUDED.lookup_keys,
			updated_at      = now()`

	n := 0
	for _, e := range entries {
		e = normalize(e)
		if err := Validate(e); err != nil {
			slog.Warn("term: postgres: skipping invalid entry", "canonical", e.Canonical, "err", err)
			continue
		}
		variantsJSON, err := json.Marshal(emptySlice(e.Variants))
		if err != nil {
			return n, fmt.Errorf("term: postgres: marshal variants: %w", err)
		}
		clueJSON, err := json.Marshal(emptySlice(e.ContextClues))
		if err != nil {
			return n, fmt.Errorf("term: postgres: marshal context_clues: %w", err)
		}
		if _, err := s.db.Exec(ctx, query,
			Fold(e.Canonical), e.Canonical, e.Transliteration, string(e.Category), e.Confidence,
			e.Compound, variantsJSON, clueJSON, e.Keys(),
		); err != nil {
			return n, fmt.Errorf("term: postgres: upsert %q: %w", e.Canonical, err)
		}
		n++
	}
	return n, nil
}

// Ping implements [Store.Ping].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("term: postgres: ping: %w", err)
	}
	return nil
}

// Close implements [Store.Close]. It closes the pool only when the store
// was created by [OpenPostgres].
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

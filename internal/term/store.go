package term

import (
	"context"
	"fmt"
)

// Store is a structured backing store of term entries.
//
// Implementations must be safe for concurrent use. Lookup returns
// (Entry{}, false, nil) when no entry matches; an error always means the
// store itself could not answer (unreachable, timed out, closed).
type Store interface {
	// Lookup returns the highest-confidence entry whose canonical form,
	// variants or transliteration fold to key.
	Lookup(ctx context.Context, key string) (Entry, bool, error)

	// Upsert inserts or replaces entries keyed by folded canonical form and
	// returns the number written.
	Upsert(ctx context.Context, entries []Entry) (int, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the resources held by the store.
	Close() error
}

// OpenStore opens the structured store for driver ("sqlite" or
// "postgres"). An empty driver yields (nil, nil): no structured store.
func OpenStore(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return nil, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("term: unknown store driver %q", driver)
	}
}

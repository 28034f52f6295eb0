package term

import (
	"context"
	"fmt"
)

// Import upserts every entry loaded from the flat files at paths into store.
// Returns the number of entries written. A store error aborts the import and
// returns the count so far.
func Import(ctx context.Context, store Store, paths ...string) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("term: import: store must not be nil")
	}
	total := 0
	for _, p := range paths {
		entries, err := LoadFile(p)
		if err != nil {
			return total, err
		}
		n, err := store.Upsert(ctx, entries)
		total += n
		if err != nil {
			return total, fmt.Errorf("term: import %q: %w", p, err)
		}
	}
	return total, nil
}

package termsrc

import (
	"log/slog"

	"github.com/MrWong99/sutra/internal/cache"
	"github.com/MrWong99/sutra/internal/term"
)

// NewCache returns a lookup cache for term entries. Entry sizes are estimated
// with [term.Entry.EstimateBytes]. When reload is set and table is non-nil,
// a flat file invalidated by the cache is reloaded into table unless table
// already holds its current content.
func NewCache(cfg cache.Config, table *term.Table, reload bool) *cache.Cache[term.Entry] {
	cfg.SizeOf = func(v any) int64 {
		if e, ok := v.(term.Entry); ok {
			return e.EstimateBytes()
		}
		return 0
	}
	if reload && table != nil {
		next := cfg.OnInvalidate
		cfg.OnInvalidate = func(path string) {
			if table.Stale(path) {
				if err := table.ReloadFile(path); err != nil {
					slog.Warn("termsrc: reload of invalidated term file failed", "path", path, "err", err)
				} else {
					slog.Info("termsrc: term file reloaded", "path", path)
				}
			}
			if next != nil {
				next(path)
			}
		}
	}
	return cache.New[term.Entry](cfg)
}

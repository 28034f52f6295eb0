package term

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// ErrNoTermData is returned when a table would be built without any term
// data at all.
var ErrNoTermData = errors.New("term: no term data available")

// Table is an in-memory, flat-file backed term index.
//
// Every entry is indexed under its folded keys and, as a secondary index,
// under the same keys with combining marks stripped. Exact folded keys take
// priority over stripped keys. When two entries claim the same key the one
// with the higher confidence wins.
//
// Reads never observe a partially built index: loads build a fresh index and
// swap it in under the write lock.
type Table struct {
	mu       sync.RWMutex
	files    []string
	byFile   map[string][]Entry
	modTimes map[string]time.Time
	exact    map[string]Entry
	stripped map[string]Entry
	maxWords int
	gen      uint64
}

// NewTable returns an empty [Table].
func NewTable() *Table {
	return &Table{
		byFile:   make(map[string][]Entry),
		modTimes: make(map[string]time.Time),
		exact:    make(map[string]Entry),
		stripped: make(map[string]Entry),
	}
}

// LoadTable loads every file in paths into a new table. It fails when a file
// cannot be read or when no entry could be loaded from any of them.
func LoadTable(paths ...string) (*Table, error) {
	t := NewTable()
	for _, p := range paths {
		if err := t.ReloadFile(p); err != nil {
			return nil, err
		}
	}
	if t.Len() == 0 {
		return nil, ErrNoTermData
	}
	return t, nil
}

// Add indexes entries that were not loaded from a file. Entries are
// validated; invalid ones are skipped with a warning.
func (t *Table) Add(entries ...Entry) {
	valid := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e = normalize(e)
		if err := Validate(e); err != nil {
			slog.Warn("term: skipping invalid entry", "canonical", e.Canonical, "err", err)
			continue
		}
		valid = append(valid, e)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byFile[""] = append(slices.Clone(t.byFile[""]), valid...)
	t.rebuildLocked()
}

// ReloadFile (re)loads the entries of path, replacing whatever the table
// previously held for that file.
//
// When a known file fails to load, the attempt is recorded so [Table.Stale]
// reports false until the file changes again. A known file that no longer
// exists has its entries dropped; the path stays tracked and loads again
// once it reappears.
func (t *Table) ReloadFile(path string) error {
	// Stat before reading so a write racing the load leaves the file stale.
	mtime := modTime(path)
	entries, err := LoadFile(path)
	if err != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, known := t.byFile[path]; known {
			t.modTimes[path] = mtime
			if errors.Is(err, fs.ErrNotExist) {
				t.byFile[path] = nil
				t.rebuildLocked()
				slog.Debug("term: table file missing, entries dropped", "path", path)
			}
		}
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.byFile[path]; !known {
		t.files = append(t.files, path)
	}
	t.byFile[path] = entries
	t.modTimes[path] = mtime
	t.rebuildLocked()
	slog.Debug("term: table file loaded", "path", path, "entries", len(entries))
	return nil
}

// modTime returns the modification time of path, or the zero time when it
// cannot be inspected.
func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// RemoveFile drops every entry loaded from path. It reports whether path was
// known to the table.
func (t *Table) RemoveFile(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.byFile[path]; !known {
		return false
	}
	delete(t.byFile, path)
	delete(t.modTimes, path)
	t.files = slices.DeleteFunc(t.files, func(f string) bool { return f == path })
	t.rebuildLocked()
	return true
}

// rebuildLocked recomputes the indexes from byFile. The caller must hold the
// write lock.
func (t *Table) rebuildLocked() {
	exact := make(map[string]Entry, len(t.exact))
	stripped := make(map[string]Entry, len(t.stripped))
	maxWords := 0

	put := func(idx map[string]Entry, key string, e Entry) {
		if prev, ok := idx[key]; ok && prev.Confidence >= e.Confidence {
			return
		}
		idx[key] = e
	}

	// Files in load order, then programmatic entries.
	sources := append(slices.Clone(t.files), "")
	for _, src := range sources {
		for _, e := range t.byFile[src] {
			for _, k := range e.Keys() {
				put(exact, k, e)
				put(stripped, Strip(k), e)
				if n := wordsIn(k); n > maxWords {
					maxWords = n
				}
			}
		}
	}

	t.exact = exact
	t.stripped = stripped
	t.maxWords = maxWords
	t.gen++
}

// Stale reports whether path changed on disk since the last load attempt.
// A file that disappears or becomes unreadable counts as a change. Unknown
// paths are never stale.
func (t *Table) Stale(path string) bool {
	t.mu.RLock()
	loaded, ok := t.modTimes[path]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return !modTime(path).Equal(loaded)
}

// Lookup returns the entry registered under s (case-insensitive, diacritic
// insensitive as a fallback).
func (t *Table) Lookup(s string) (Entry, bool) {
	key := Fold(s)
	if key == "" {
		return Entry{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.exact[key]; ok {
		return e, true
	}
	e, ok := t.stripped[Strip(key)]
	return e, ok
}

// Entries returns a copy of every entry held by the table.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, src := range append(slices.Clone(t.files), "") {
		out = append(out, t.byFile[src]...)
	}
	return out
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, es := range t.byFile {
		n += len(es)
	}
	return n
}

// MaxWords returns the word count of the longest indexed key.
func (t *Table) MaxWords() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxWords
}

// Generation returns a counter that advances every time the index is
// rebuilt. Callers deriving data from [Table.Entries] use it to notice
// reloads.
func (t *Table) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

// Files returns the flat files loaded into the table, in load order.
func (t *Table) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.files)
}

// String implements [fmt.Stringer].
func (t *Table) String() string {
	return fmt.Sprintf("term.Table{files: %d, entries: %d}", len(t.Files()), t.Len())
}

func wordsIn(s string) int {
	n := 0
	in := false
	for _, r := range s {
		if r == ' ' {
			in = false
			continue
		}
		if !in {
			n++
			in = true
		}
	}
	return n
}

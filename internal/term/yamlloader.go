package term

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a sutra term table YAML file.
//
// Example:
//
//	terms:
//	  - canonical: "srimad bhagavad gita"
//	    variants: ["bhagavad gita", "bhagavat gita"]
//	    transliteration: "Śrīmad Bhagavad Gītā"
//	    category: scripture-title
//	    confidence: 0.95
//	  - canonical: "krishna"
//	    variants: ["krsna", "krishn"]
//	    transliteration: "Kṛṣṇa"
//	    category: deity-name
//	    confidence: 0.9
//
// Records are decoded one at a time so a malformed record is skipped with a
// warning instead of failing the whole file.
type File struct {
	Terms []yaml.Node `yaml:"terms"`
}

// LoadFile reads and parses a term table from disk. Every returned entry has
// its SourceFile set to path.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("term: open table %q: %w", path, err)
	}
	defer f.Close()

	entries, err := LoadFromReader(f, path)
	if err != nil {
		return nil, fmt.Errorf("term: parse table %q: %w", path, err)
	}
	return entries, nil
}

// LoadFromReader parses a term table from r. source is recorded on every
// entry and used in log messages; it may be empty. Records that fail to
// decode or validate are logged and skipped. An empty document yields no
// entries and no error.
func LoadFromReader(r io.Reader, source string) ([]Entry, error) {
	entries, skipped, err := decodeTable(r, source)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		slog.Warn("term: skipping record", "source", source, "line", s.Line, "err", s.Err)
	}
	return entries, nil
}

// RecordError describes a record skipped while loading a term table.
type RecordError struct {
	// Line is the 1-based line of the record in its file.
	Line int
	Err  error
}

func (e RecordError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e RecordError) Unwrap() error { return e.Err }

// CheckFile parses the term table at path like [LoadFile] but returns the
// skipped records instead of logging them.
func CheckFile(path string) ([]Entry, []RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("term: open table %q: %w", path, err)
	}
	defer f.Close()

	entries, skipped, err := decodeTable(f, path)
	if err != nil {
		return nil, nil, fmt.Errorf("term: parse table %q: %w", path, err)
	}
	return entries, skipped, nil
}

func decodeTable(r io.Reader, source string) ([]Entry, []RecordError, error) {
	var tf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("term: decode table yaml: %w", err)
	}

	var skipped []RecordError
	entries := make([]Entry, 0, len(tf.Terms))
	for i := range tf.Terms {
		node := &tf.Terms[i]
		var e Entry
		if err := node.Decode(&e); err != nil {
			skipped = append(skipped, RecordError{Line: node.Line, Err: fmt.Errorf("malformed record: %w", err)})
			continue
		}
		e = normalize(e)
		if err := Validate(e); err != nil {
			skipped = append(skipped, RecordError{Line: node.Line, Err: fmt.Errorf("invalid record: %w", err)})
			continue
		}
		e.SourceFile = source
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

// normalize fills derived defaults on a freshly decoded entry.
func normalize(e Entry) Entry {
	if e.Category == "" {
		e.Category = CategoryGeneric
	}
	if e.Transliteration == "" {
		e.Transliteration = e.Canonical
	}
	if !e.Compound && e.WordCount() > 1 {
		e.Compound = true
	}
	return e
}

// Package term defines the correction/reference units used by sutra and the
// stores that hold them.
//
// Entries come from two kinds of backing data:
//   - Flat-file tables: human-editable YAML files loaded into an in-memory
//     [Table] at startup ([LoadFile], [LoadFromReader]).
//   - Structured stores: a [Store] backed by SQLite ([SQLiteStore]) or
//     PostgreSQL ([PostgresStore]) exposing lookup-by-term-or-variant.
//
// Entries are immutable once loaded. All lookups are case-insensitive: keys
// are folded with [Fold], while the entry itself keeps its original casing.
//
// All store operations are safe for concurrent use.
package term

import "strings"

// Category classifies a term entry.
type Category string

const (
	CategoryScriptureTitle       Category = "scripture-title"
	CategoryPhilosophicalConcept Category = "philosophical-concept"
	CategoryDeityName            Category = "deity-name"
	CategoryPersonName           Category = "person-name"
	CategoryPlaceName            Category = "place-name"
	CategoryRitualTerm           Category = "ritual-term"
	CategoryGeneric              Category = "generic"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryScriptureTitle, CategoryPhilosophicalConcept, CategoryDeityName,
		CategoryPersonName, CategoryPlaceName, CategoryRitualTerm, CategoryGeneric:
		return true
	}
	return false
}

// IsProperNoun reports whether terms of this category are always rendered
// with their canonical capitalisation.
func (c Category) IsProperNoun() bool {
	switch c {
	case CategoryScriptureTitle, CategoryDeityName, CategoryPersonName, CategoryPlaceName:
		return true
	}
	return false
}

// Entry is a single correction/reference unit.
type Entry struct {
	// Canonical is the canonical (usually ASCII) form, e.g. "srimad bhagavad gita".
	Canonical string `yaml:"canonical" json:"canonical"`

	// Variants are known alternative spellings, matched case-insensitively.
	Variants []string `yaml:"variants,omitempty" json:"variants,omitempty"`

	// Transliteration is the target IAST rendering, e.g. "Śrīmad Bhagavad Gītā".
	Transliteration string `yaml:"transliteration" json:"transliteration"`

	// Category classifies the term.
	Category Category `yaml:"category" json:"category"`

	// Confidence is the trust placed in this entry (0.0–1.0).
	Confidence float64 `yaml:"confidence" json:"confidence"`

	// ContextClues are optional keywords that indicate this term is meant.
	ContextClues []string `yaml:"context_clues,omitempty" json:"context_clues,omitempty"`

	// Compound marks entries spanning two or more words. It is derived from
	// Canonical when left unset in a flat file.
	Compound bool `yaml:"compound,omitempty" json:"compound,omitempty"`

	// SourceFile is the flat file this entry was loaded from. Empty for
	// entries returned by a structured store.
	SourceFile string `yaml:"-" json:"source_file,omitempty"`
}

// Keys returns the folded lookup keys of e: canonical form, variants and
// transliteration, without duplicates.
func (e Entry) Keys() []string {
	seen := make(map[string]struct{}, len(e.Variants)+2)
	keys := make([]string, 0, len(e.Variants)+2)
	add := func(s string) {
		k := Fold(s)
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	add(e.Canonical)
	for _, v := range e.Variants {
		add(v)
	}
	add(e.Transliteration)
	return keys
}

// WordCount returns the number of words in the canonical form.
func (e Entry) WordCount() int {
	return len(strings.Fields(e.Canonical))
}

// EstimateBytes returns a cheap estimate of the memory held by e.
func (e Entry) EstimateBytes() int64 {
	n := len(e.Canonical) + len(e.Transliteration) + len(e.Category) + len(e.SourceFile) + 64
	for _, v := range e.Variants {
		n += len(v) + 16
	}
	for _, c := range e.ContextClues {
		n += len(c) + 16
	}
	return int64(n)
}

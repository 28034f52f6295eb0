// Package types defines the shared types used across all sutra packages.
//
// These types are shared between the correction stages and the orchestrator.
// Each package defines its own domain types; only cross-cutting data
// structures live here.
package types

// Stage names used in [Correction.Stage].
const (
	StageCompound = "compound"
	StageTerm     = "term"
	StageFuzzy    = "fuzzy"
)

// Correction captures a single substitution made while processing a segment.
// Corrections are created once and never mutated afterwards.
type Correction struct {
	// Original is the text span as it appeared in the input.
	Original string `json:"original"`

	// Corrected is the replacement that was substituted for Original.
	Corrected string `json:"corrected"`

	// Stage names the pipeline stage that produced the substitution.
	// Well-known values: [StageCompound], [StageTerm], [StageFuzzy].
	Stage string `json:"stage"`

	// Confidence is the confidence of the underlying term entry (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// Span is a half-open byte range [Start, End) within a text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by s.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// StageResult is the output of a specialised processing stage.
type StageResult struct {
	// Text is the stage output. It equals the stage input when nothing changed.
	Text string

	// Corrections lists the substitutions in left-to-right order.
	Corrections []Correction

	// Covered lists the byte ranges of Text produced by substitutions. Later
	// stages must leave these ranges untouched.
	Covered []Span

	// Metadata carries stage-specific annotations. May be nil.
	Metadata map[string]string
}

// Package pipeline routes subtitle segments through the term-correction
// stages.
//
// For each segment the [Pipeline] runs, in this fixed order:
//
//  1. classification ([classify.Classifier]);
//  2. sacred glyph protection, when the classification asks for it;
//  3. the compound stage, when the classification asks for it;
//  4. the single-term pass, which always runs and never touches ranges the
//     compound stage produced;
//  5. restoration of the protected glyphs.
//
// A stage that fails or panics never yields a half-corrected segment: the
// original text is returned with an "error" metadata annotation, and the
// next segment is processed normally.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sutra/internal/classify"
	"github.com/MrWong99/sutra/internal/compound"
	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/phonetic"
	"github.com/MrWong99/sutra/internal/sacred"
	"github.com/MrWong99/sutra/internal/term"
	"github.com/MrWong99/sutra/internal/termsrc"
	"github.com/MrWong99/sutra/pkg/types"
)

// Stage is a specialised processor that rewrites a segment.
// Implementations must be safe for concurrent use.
type Stage interface {
	// Name identifies the stage in corrections, metrics and logs.
	Name() string

	// Process returns the rewritten text. Covered spans in the result are
	// left alone by later stages.
	Process(ctx context.Context, text string) (types.StageResult, error)
}

var _ Stage = (*compound.Matcher)(nil)

// ErrGlyphsLost is reported when a stage dropped or duplicated a shielded
// sacred glyph.
var ErrGlyphsLost = errors.New("pipeline: sacred glyphs not preserved")

// Result is the outcome of processing one segment.
type Result struct {
	// Text is the corrected segment, or the original text if processing
	// failed.
	Text string `json:"text"`

	// Original is the segment as received.
	Original string `json:"original"`

	Classification classify.Result `json:"classification"`

	// Corrections lists every substitution in stage order. Empty, never nil.
	Corrections []types.Correction `json:"corrections"`

	// Metadata carries annotations such as "degraded" and "error".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Failed reports whether processing fell back to the original text.
func (r *Result) Failed() bool { return r.Metadata["error"] != "" }

// Changed reports whether the corrected text differs from the original.
func (r *Result) Changed() bool { return r.Text != r.Original }

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.classifier = c
		}
	}
}

// WithCompoundStage replaces the compound stage. The default is a
// [compound.Matcher] over the pipeline's term source.
func WithCompoundStage(s Stage) Option {
	return func(p *Pipeline) { p.compound = s }
}

// WithSacredProtection enables or disables glyph protection. Default: on.
func WithSacredProtection(enabled bool) Option {
	return func(p *Pipeline) { p.sacred = enabled }
}

// WithFuzzy enables the phonetic fallback for words that miss every lookup.
// When nil (the default) the fallback is skipped.
func WithFuzzy(m *phonetic.Matcher) Option {
	return func(p *Pipeline) { p.fuzzy = m }
}

// WithMetrics records segment and stage metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the segment orchestrator. It is safe for concurrent use; all
// workers of a batch share one Pipeline and the cache behind its source.
type Pipeline struct {
	src        *termsrc.Source
	classifier *classify.Classifier
	compound   Stage
	sacred     bool
	fuzzy      *phonetic.Matcher
	metrics    *observe.Metrics

	fuzzyIdx atomic.Pointer[fuzzyIndex]
}

// New returns a [Pipeline] over src.
func New(src *termsrc.Source, opts ...Option) (*Pipeline, error) {
	if src == nil {
		return nil, errors.New("pipeline: term source is required")
	}
	p := &Pipeline{
		src:        src,
		classifier: classify.New(),
		sacred:     true,
	}
	p.compound = compound.New(src)
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Source returns the term source behind p.
func (p *Pipeline) Source() *termsrc.Source { return p.src }

// Process corrects a single segment. It never fails: errors are reported
// in the result metadata and the original text is returned.
func (p *Pipeline) Process(ctx context.Context, text string) *Result {
	start := time.Now()
	ctx, span := observe.StartSegment(ctx, len(text))

	cls := p.classifier.Classify(text)
	mixed := make([]string, 0, len(cls.Mixed))
	for _, t := range cls.Mixed {
		mixed = append(mixed, string(t))
	}
	span.Classified(string(cls.Type), mixed)

	res := &Result{
		Text:           text,
		Original:       text,
		Classification: cls,
		Corrections:    []types.Correction{},
		Metadata:       map[string]string{},
	}

	out, err := p.run(ctx, text, cls)
	status := "ok"
	if err != nil {
		status = "error"
		res.Metadata["error"] = err.Error()
		observe.Logger(ctx).Error("pipeline: segment failed, keeping original text",
			"content_type", cls.Type, "length", len(text), "err", err)
	} else {
		res.Text = out.Text
		res.Corrections = append(res.Corrections, out.Corrections...)
		maps.Copy(res.Metadata, out.Metadata)
		p.recordCorrections(ctx, out.Corrections)
	}
	span.End(len(res.Corrections), res.Metadata["degraded"] == "true", err)
	if len(res.Metadata) == 0 {
		res.Metadata = nil
	}
	p.metrics.RecordSegment(ctx, string(cls.Type), status, time.Since(start))
	return res
}

// run executes the stages. Panics inside a stage are converted to errors.
func (p *Pipeline) run(ctx context.Context, text string, cls classify.Result) (out types.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: stage panic: %v", r)
		}
	}()

	out = types.StageResult{Text: text, Metadata: map[string]string{}}

	var (
		rest      sacred.Restoration
		protected bool
	)
	if p.sacred && cls.Has(classify.ProcessorSacred) {
		shielded, r, err := sacred.Protect(text)
		if err != nil {
			return out, fmt.Errorf("pipeline: sacred: %w", err)
		}
		out.Text, rest, protected = shielded, r, true
		out.Metadata["protected_glyphs"] = strconv.Itoa(r.Len())
	}

	if p.compound != nil && cls.Has(classify.ProcessorCompound) {
		sr, err := p.runStage(ctx, p.compound, out.Text)
		if err != nil {
			return out, err
		}
		out.Text = sr.Text
		out.Covered = sr.Covered
		out.Corrections = append(out.Corrections, sr.Corrections...)
		maps.Copy(out.Metadata, sr.Metadata)
	}

	tr, err := p.runStage(ctx, termStage{p: p, covered: out.Covered, title: cls.Type == classify.TypeTitle}, out.Text)
	if err != nil {
		return out, err
	}
	out.Text = tr.Text
	out.Corrections = append(out.Corrections, tr.Corrections...)
	maps.Copy(out.Metadata, tr.Metadata)

	if protected {
		out.Text = sacred.Restore(out.Text, rest)
		if countGlyphs(out.Text) != countGlyphs(text) || strings.ContainsFunc(out.Text, sacred.IsPlaceholderRune) {
			return out, ErrGlyphsLost
		}
		for i, c := range out.Corrections {
			out.Corrections[i].Original = sacred.Restore(c.Original, rest)
			out.Corrections[i].Corrected = sacred.Restore(c.Corrected, rest)
		}
	}
	return out, nil
}

func (p *Pipeline) runStage(ctx context.Context, s Stage, text string) (types.StageResult, error) {
	start := time.Now()
	res, err := s.Process(ctx, text)
	p.metrics.RecordStage(ctx, s.Name(), time.Since(start))
	if err != nil {
		return res, fmt.Errorf("pipeline: %s: %w", s.Name(), err)
	}
	return res, nil
}

func (p *Pipeline) recordCorrections(ctx context.Context, cs []types.Correction) {
	if len(cs) == 0 {
		return
	}
	byStage := make(map[string]int, 3)
	for _, c := range cs {
		byStage[c.Stage]++
	}
	for stage, n := range byStage {
		p.metrics.RecordCorrections(ctx, stage, n)
	}
}

func countGlyphs(s string) int {
	n := 0
	for _, r := range s {
		if sacred.IsProtected(r) {
			n++
		}
	}
	return n
}

// fuzzyIndex is the phonetic candidate set derived from one generation of
// the flat table.
type fuzzyIndex struct {
	gen     uint64
	set     *phonetic.Set
	entries []term.Entry
}

// fuzzyCandidates returns the candidate set for the current table
// generation, rebuilding it after a reload.
func (p *Pipeline) fuzzyCandidates() *fuzzyIndex {
	table := p.src.Table()
	gen := table.Generation()
	if idx := p.fuzzyIdx.Load(); idx != nil && idx.gen == gen {
		return idx
	}

	var (
		words   []string
		entries []term.Entry
	)
	for _, e := range table.Entries() {
		if e.Compound || e.WordCount() != 1 {
			continue
		}
		words = append(words, term.Strip(e.Canonical))
		entries = append(entries, e)
	}
	idx := &fuzzyIndex{gen: gen, set: phonetic.Prepare(words), entries: entries}
	p.fuzzyIdx.Store(idx)
	return idx
}

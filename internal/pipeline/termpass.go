package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrWong99/sutra/internal/sacred"
	"github.com/MrWong99/sutra/internal/term"
	"github.com/MrWong99/sutra/pkg/types"
)

// termStage is the single-term pass: every word outside the covered spans
// is looked up on its own and, on a hit, replaced by the rendered
// transliteration. Misses go to the phonetic fallback when one is set.
type termStage struct {
	p       *Pipeline
	covered []types.Span
	title   bool
}

func (s termStage) Name() string { return types.StageTerm }

func (s termStage) Process(ctx context.Context, text string) (types.StageResult, error) {
	res := types.StageResult{Text: text}
	mode := term.RenderCasual
	if s.title {
		mode = term.RenderTitle
	}

	var (
		b        strings.Builder
		prev     int
		degraded bool
		fuzzy    *fuzzyIndex
	)
	for _, tok := range term.Tokenize(text) {
		if !tok.HasCore() {
			continue
		}
		core := tok.Core(text)
		span := types.Span{Start: tok.CoreStart, End: tok.CoreEnd}
		if s.isCovered(span) || strings.ContainsFunc(core, sacred.IsPlaceholderRune) {
			continue
		}

		var (
			entry      term.Entry
			stage      = types.StageTerm
			confidence float64
			found      bool
		)
		lr, ok := s.p.src.Lookup(ctx, core)
		degraded = degraded || lr.Degraded
		if ok && !lr.Entry.Compound {
			entry, confidence, found = lr.Entry, lr.Entry.Confidence, true
		} else if !ok && s.p.fuzzy != nil {
			if fuzzy == nil {
				fuzzy = s.p.fuzzyCandidates()
			}
			if i, score, ok := s.p.fuzzy.MatchSet(term.Strip(core), fuzzy.set); ok {
				entry, stage, confidence, found = fuzzy.entries[i], types.StageFuzzy, score, true
			}
		}
		if !found {
			continue
		}

		replacement := term.Render(entry, "", core, mode)
		if replacement == core {
			continue
		}
		b.WriteString(text[prev:tok.CoreStart])
		b.WriteString(replacement)
		prev = tok.CoreEnd
		res.Corrections = append(res.Corrections, types.Correction{
			Original:   core,
			Corrected:  replacement,
			Stage:      stage,
			Confidence: confidence,
		})
	}
	if len(res.Corrections) > 0 {
		b.WriteString(text[prev:])
		res.Text = b.String()
	}

	res.Metadata = map[string]string{}
	if n := len(res.Corrections); n > 0 {
		res.Metadata["term_corrections"] = strconv.Itoa(n)
	}
	if degraded {
		res.Metadata["degraded"] = "true"
	}
	return res, nil
}

func (s termStage) isCovered(span types.Span) bool {
	for _, c := range s.covered {
		if c.Overlaps(span) {
			return true
		}
	}
	return false
}

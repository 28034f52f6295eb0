// Package compound resolves multi-word terms, such as scripture titles, as
// single units before any word-by-word correction runs.
//
// For every compound match the surrounding words decide the styling: a
// match at the start of a sentence, or near citation words like "chapter"
// and "verse", is title-cased (and a directly preceding "the" becomes
// "The"); a casual mid-sentence reference keeps the term's canonical
// capitalisation and leaves the surrounding words alone.
//
// All spans are computed against the original text and the output is
// rebuilt left to right, so earlier replacements never shift later ones.
package compound

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/sutra/internal/term"
	"github.com/MrWong99/sutra/internal/termsrc"
	"github.com/MrWong99/sutra/pkg/types"
)

const (
	defaultContextWindow = 3

	// alignThreshold is the mean Jaro-Winkler similarity a partial variant
	// needs to be rendered as a sub-window of the transliteration.
	alignThreshold = 0.85
)

// Finder locates compound terms in a text. [*termsrc.Source] satisfies it.
type Finder interface {
	LookupCompounds(ctx context.Context, text string) []termsrc.Match
}

// titleBefore are words that introduce a title or citation.
var titleBefore = map[string]bool{
	"according": true, "quoting": true, "quoted": true, "quotes": true,
	"titled": true, "entitled": true, "scripture": true, "text": true,
	"book": true, "chant": true, "recite": true, "recites": true,
}

// titleAfter are words that mark the match as a cited work.
var titleAfter = map[string]bool{
	"chapter": true, "verse": true, "verses": true, "canto": true,
	"sloka": true, "shloka": true, "adhyaya": true, "text": true,
	"states": true, "says": true, "teaches": true, "declares": true,
	"explains": true, "describes": true,
}

// casualWords mark an informal, conversational reference.
var casualWords = map[string]bool{
	"reading": true, "read": true, "was": true, "were": true, "my": true,
	"his": true, "her": true, "their": true, "our": true, "your": true,
	"some": true, "about": true, "like": true, "love": true, "yesterday": true,
	"today": true, "tomorrow": true, "copy": true, "again": true,
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithContextWindow sets how many words on each side of a match are
// inspected to pick the styling. Default: 3.
func WithContextWindow(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.window = n
		}
	}
}

// Matcher is the compound term correction stage. It is safe for concurrent
// use.
type Matcher struct {
	finder Finder
	window int
}

// New returns a [Matcher] that finds compounds through f.
func New(f Finder, opts ...Option) *Matcher {
	m := &Matcher{finder: f, window: defaultContextWindow}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name returns the stage name.
func (m *Matcher) Name() string { return types.StageCompound }

// Process substitutes every compound term in text with its transliteration.
// The Covered spans of the result mark the replaced ranges in the output.
func (m *Matcher) Process(ctx context.Context, text string) (types.StageResult, error) {
	res := types.StageResult{Text: text}
	matches := m.finder.LookupCompounds(ctx, text)
	if len(matches) == 0 {
		return res, nil
	}

	toks := term.Tokenize(text)
	var (
		b        strings.Builder
		prev     int
		degraded bool
	)
	b.Grow(len(text) + len(text)/4)

	for _, match := range matches {
		if match.Span.Start < prev {
			continue
		}
		degraded = degraded || match.Degraded

		original := text[match.Span.Start:match.Span.End]
		mode := m.styleFor(text, toks, match)
		replacement := term.Render(match.Entry, alignForm(match.Entry, toks[match.First:match.Last+1], text), original, mode)

		start := match.Span.Start
		if mode == term.RenderTitle && match.First > 0 {
			art := toks[match.First-1]
			if core := art.Core(text); strings.EqualFold(core, "the") && !art.TrailingPunct() && art.CoreStart >= prev {
				if !term.IsAllUpper(core) {
					core = "The"
				}
				replacement = core + text[art.CoreEnd:match.Span.Start] + replacement
				original = text[art.CoreStart:match.Span.End]
				start = art.CoreStart
			}
		}

		b.WriteString(text[prev:start])
		covStart := b.Len()
		b.WriteString(replacement)
		res.Covered = append(res.Covered, types.Span{Start: covStart, End: b.Len()})
		prev = match.Span.End

		if replacement != original {
			res.Corrections = append(res.Corrections, types.Correction{
				Original:   original,
				Corrected:  replacement,
				Stage:      types.StageCompound,
				Confidence: match.Entry.Confidence,
			})
		}
	}
	b.WriteString(text[prev:])
	res.Text = b.String()

	res.Metadata = map[string]string{"compound_matches": strconv.Itoa(len(res.Covered))}
	if degraded {
		res.Metadata["degraded"] = "true"
	}
	return res, nil
}

// styleFor picks the rendering of match from its position and the words
// around it.
func (m *Matcher) styleFor(text string, toks []term.Token, match termsrc.Match) term.Rendering {
	if match.First == 0 {
		return term.RenderTitle
	}
	if before := toks[match.First-1]; !before.HasCore() || term.EndsSentence(text, before) {
		return term.RenderTitle
	}

	titleScore, casualScore := 0, 0
	for i := max(0, match.First-m.window); i < match.First; i++ {
		w := strings.ToLower(toks[i].Core(text))
		if titleBefore[w] {
			titleScore++
		}
		if casualWords[w] {
			casualScore++
		}
	}
	// Words after a sentence break belong to the next sentence.
	if !term.EndsSentence(text, toks[match.Last]) {
		for i := match.Last + 1; i < min(len(toks), match.Last+1+m.window); i++ {
			w := strings.ToLower(toks[i].Core(text))
			if titleAfter[w] || isCitationNumber(w) {
				titleScore++
			}
			if casualWords[w] {
				casualScore++
			}
			if term.EndsSentence(text, toks[i]) {
				break
			}
		}
	}
	if titleScore > casualScore {
		return term.RenderTitle
	}
	return term.RenderCasual
}

// isCitationNumber reports whether w looks like "2", "2.47" or "10:3".
func isCitationNumber(w string) bool {
	digits := 0
	for _, r := range w {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ':':
		default:
			return false
		}
	}
	return digits > 0
}

// alignForm returns the part of the entry transliteration that corresponds
// to the matched words. A partial variant such as "bhagavad gita" for
// "Śrīmad Bhagavad Gītā" renders as "Bhagavad Gītā". When no sub-window
// aligns well enough the full transliteration is returned.
func alignForm(e term.Entry, matched []term.Token, text string) string {
	form := e.Transliteration
	if form == "" {
		form = e.Canonical
	}
	words := strings.Fields(form)
	n := len(matched)
	if n == 0 || n >= len(words) {
		return form
	}

	got := make([]string, n)
	for i, tok := range matched {
		got[i] = term.Strip(tok.Core(text))
	}
	want := make([]string, len(words))
	for i, w := range words {
		want[i] = term.Strip(w)
	}

	bestK, best := -1, 0.0
	for k := 0; k+n <= len(want); k++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += matchr.JaroWinkler(got[j], want[k+j], false)
		}
		if avg := sum / float64(n); avg > best {
			bestK, best = k, avg
		}
	}
	if bestK < 0 || best < alignThreshold {
		return form
	}
	return strings.Join(words[bestK:bestK+n], " ")
}

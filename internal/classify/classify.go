// Package classify assigns each subtitle segment a content type and the
// list of specialised processors the pipeline should run on it.
//
// Rules are evaluated in priority order and the first one that fires
// decides the type:
//
//  1. Protected sacred glyphs: "verse" when a verse separator is present,
//     otherwise "mantra".
//  2. At least MantraKeywordThreshold mantra keywords: "mantra".
//  3. Chapter/verse words or numeric citations such as "2.47": "verse".
//  4. A run of title-cased words without sentence punctuation or
//     conversational pronouns: "title".
//  5. Prose that explains a term: "commentary".
//  6. Anything else: "regular".
//
// The keyword thresholds are heuristics and are exposed as options. When
// rules for at least MixedMinSignals different content types fire, the
// result is reported as mixed: the primary type is kept and the processors
// of every detected type are merged.
//
// A [Classifier] is immutable and safe for concurrent use.
package classify

import (
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/sutra/internal/sacred"
	"github.com/MrWong99/sutra/internal/term"
)

// ContentType is the tag assigned to a segment.
type ContentType string

const (
	TypeMantra     ContentType = "mantra"
	TypeVerse      ContentType = "verse"
	TypeTitle      ContentType = "title"
	TypeCommentary ContentType = "commentary"
	TypeRegular    ContentType = "regular"
)

// Processor identifies a specialised pipeline stage. The set is closed.
type Processor string

const (
	// ProcessorSacred shields sacred glyphs for the duration of the pipeline.
	ProcessorSacred Processor = "sacred"

	// ProcessorCompound resolves multi-word terms before the single-term pass.
	ProcessorCompound Processor = "compound"
)

// Confidence values per rule.
const (
	ConfidenceSacred     = 0.95
	ConfidenceMantra     = 0.75
	ConfidenceVerse      = 0.70
	ConfidenceTitle      = 0.6
	ConfidenceCommentary = 0.55
	ConfidenceRegular    = 1.0
)

// processorsFor lists the processors each content type needs, in run order.
var processorsFor = map[ContentType][]Processor{
	TypeMantra:     {ProcessorSacred, ProcessorCompound},
	TypeVerse:      {ProcessorSacred, ProcessorCompound},
	TypeTitle:      {ProcessorCompound},
	TypeCommentary: {ProcessorCompound},
	TypeRegular:    {ProcessorCompound},
}

// Result is the classification of one segment.
type Result struct {
	Type       ContentType       `json:"type"`
	Confidence float64           `json:"confidence"`
	Processors []Processor       `json:"processors"`
	Mixed      []ContentType     `json:"mixed,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Has reports whether p is among the processors of r.
func (r Result) Has(p Processor) bool { return slices.Contains(r.Processors, p) }

// IsMixed reports whether more than one content type was detected.
func (r Result) IsMixed() bool { return len(r.Mixed) > 0 }

var (
	mantraKeywords = map[string]bool{
		"om": true, "aum": true, "namah": true, "namo": true, "namaha": true,
		"svaha": true, "swaha": true, "hare": true, "hrim": true, "shrim": true,
		"srim": true, "klim": true, "aim": true, "hum": true, "phat": true,
		"shanti": true, "shantih": true, "santih": true, "jaya": true, "jai": true,
		"gurave": true, "bhagavate": true, "vasudevaya": true, "shivaya": true,
		"sivaya": true, "narayanaya": true,
	}

	verseKeywords = map[string]bool{
		"chapter": true, "verse": true, "verses": true, "sloka": true,
		"shloka": true, "canto": true, "adhyaya": true, "stanza": true,
	}

	// conversational pronouns rule out a title.
	conversational = map[string]bool{
		"i": true, "me": true, "my": true, "we": true, "us": true, "our": true,
		"you": true, "your": true,
	}

	explainWords = map[string]bool{
		"means": true, "meaning": true, "refers": true, "translates": true,
		"explains": true, "explanation": true, "purport": true,
		"commentary": true, "signifies": true, "literally": true,
	}

	citationRe = regexp.MustCompile(`\b\d{1,3}[.:]\d{1,3}\b`)
)

const (
	defaultMantraKeywordThreshold = 2
	defaultTitleMinWords          = 3
	defaultMixedMinSignals        = 2
	defaultCommentaryMinWords     = 8
)

// Option is a functional option for configuring a [Classifier].
type Option func(*Classifier)

// WithMantraKeywordThreshold sets how many mantra keywords make a segment a
// mantra. Default: 2.
func WithMantraKeywordThreshold(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.mantraThreshold = n
		}
	}
}

// WithTitleMinWords sets the shortest run of title-cased words treated as a
// title. Default: 3.
func WithTitleMinWords(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.titleMinWords = n
		}
	}
}

// WithMixedMinSignals sets how many content types must be detected before a
// segment is reported as mixed. Values below 2 are raised to 2. Default: 2.
func WithMixedMinSignals(n int) Option {
	return func(c *Classifier) {
		c.mixedMinSignals = max(n, 2)
	}
}

// WithCommentaryMinWords sets the shortest segment, in words, considered for
// the commentary rule. Default: 8.
func WithCommentaryMinWords(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.commentaryMinWords = n
		}
	}
}

// Classifier tags segments by content type.
type Classifier struct {
	mantraThreshold    int
	titleMinWords      int
	mixedMinSignals    int
	commentaryMinWords int
}

// New returns a [Classifier] configured with opts.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		mantraThreshold:    defaultMantraKeywordThreshold,
		titleMinWords:      defaultTitleMinWords,
		mixedMinSignals:    defaultMixedMinSignals,
		commentaryMinWords: defaultCommentaryMinWords,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type signal struct {
	typ        ContentType
	confidence float64
	rule       string
}

// Classify returns the content type of text. It is deterministic.
func (c *Classifier) Classify(text string) Result {
	signals := c.signals(text)
	if len(signals) == 0 {
		return Result{
			Type:       TypeRegular,
			Confidence: ConfidenceRegular,
			Processors: slices.Clone(processorsFor[TypeRegular]),
		}
	}

	primary := signals[0]
	res := Result{
		Type:       primary.typ,
		Confidence: primary.confidence,
		Processors: slices.Clone(processorsFor[primary.typ]),
		Metadata:   map[string]string{"rule": primary.rule},
	}

	var others []ContentType
	for _, s := range signals[1:] {
		if s.typ != primary.typ && !slices.Contains(others, s.typ) {
			others = append(others, s.typ)
		}
	}
	if 1+len(others) < c.mixedMinSignals {
		return res
	}
	res.Mixed = others
	names := make([]string, 0, len(others))
	for _, t := range others {
		names = append(names, string(t))
		for _, p := range processorsFor[t] {
			if !res.Has(p) {
				res.Processors = append(res.Processors, p)
			}
		}
	}
	res.Metadata["mixed"] = strings.Join(names, ",")
	return res
}

// signals evaluates every rule and returns those that fired, in priority
// order.
func (c *Classifier) signals(text string) []signal {
	var out []signal

	if sacred.Contains(text) {
		if sacred.ContainsSeparator(text) {
			out = append(out, signal{TypeVerse, ConfidenceSacred, "sacred-separator"})
		} else {
			out = append(out, signal{TypeMantra, ConfidenceSacred, "sacred-glyph"})
		}
	}

	toks := term.Tokenize(text)
	words := make([]string, 0, len(toks))
	for _, tok := range toks {
		if tok.HasCore() {
			words = append(words, term.Strip(tok.Core(text)))
		}
	}

	if c.countMantraKeywords(words) >= c.mantraThreshold {
		out = append(out, signal{TypeMantra, ConfidenceMantra, "mantra-keywords"})
	}
	if hasVerseIndicator(text, words) {
		out = append(out, signal{TypeVerse, ConfidenceVerse, "verse-indicator"})
	}
	if c.looksLikeTitle(text, toks, words) {
		out = append(out, signal{TypeTitle, ConfidenceTitle, "title-case"})
	}
	if c.looksLikeCommentary(words) {
		out = append(out, signal{TypeCommentary, ConfidenceCommentary, "explanation"})
	}
	return out
}

func (c *Classifier) countMantraKeywords(words []string) int {
	n := 0
	for _, w := range words {
		if mantraKeywords[w] {
			n++
		}
	}
	return n
}

func hasVerseIndicator(text string, words []string) bool {
	for _, w := range words {
		if verseKeywords[w] {
			return true
		}
	}
	return citationRe.MatchString(text)
}

// looksLikeTitle requires a run of at least titleMinWords capitalised words
// (minor words may sit inside the run), no sentence-final punctuation and
// no first- or second-person pronouns.
func (c *Classifier) looksLikeTitle(text string, toks []term.Token, words []string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
		return false
	}
	for _, w := range words {
		if conversational[w] {
			return false
		}
	}

	run, best := 0, 0
	for _, tok := range toks {
		if !tok.HasCore() {
			continue
		}
		core := tok.Core(text)
		switch {
		case term.IsUpperFirst(core):
			run++
			best = max(best, run)
		case run > 0 && term.IsMinorWord(core):
			// Minor words keep the run alive without counting.
		default:
			run = 0
		}
	}
	return best >= c.titleMinWords
}

func (c *Classifier) looksLikeCommentary(words []string) bool {
	if len(words) < c.commentaryMinWords {
		return false
	}
	for _, w := range words {
		if explainWords[w] {
			return true
		}
	}
	return false
}

// Package phonetic proposes corrections for words that miss every term
// lookup, using Double Metaphone encoding combined with Jaro-Winkler string
// similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input and for each candidate. A candidate whose codes overlap the
//     input codes is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the one with the
//     highest similarity is selected, provided its score reaches the
//     phonetic threshold. When no phonetic candidate qualifies, pure
//     Jaro-Winkler similarity is tested against all candidates using the
//     higher fuzzy threshold.
//
// Candidate sets are prepared once with [Prepare] so that the codes of a
// large term table are not recomputed for every word.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.90
	defaultFuzzyThreshold    = 0.95
	defaultMinRunes          = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched candidate to be accepted. Default: 0.90.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.95.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinRunes sets the shortest word, in runes, the matcher will try to
// correct. Short words match too much by accident. Default: 4.
func WithMinRunes(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.minRunes = n
		}
	}
}

// Matcher is a phonetic matcher. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minRunes          int
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minRunes:          defaultMinRunes,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type candidate struct {
	lower  string
	tokens []string
	concat string
	codes  map[string]struct{}
}

// Set is a prepared, immutable list of candidates.
type Set struct {
	words []string
	cands []candidate
}

// Prepare computes the phonetic codes of words once. Blank words are kept
// so that indexes returned by [Matcher.MatchSet] line up with words.
func Prepare(words []string) *Set {
	s := &Set{words: words, cands: make([]candidate, len(words))}
	for i, w := range words {
		lower := strings.ToLower(strings.TrimSpace(w))
		toks := strings.Fields(lower)
		s.cands[i] = candidate{
			lower:  lower,
			tokens: toks,
			concat: strings.Join(toks, ""),
			codes:  codesForTokens(toks),
		}
	}
	return s
}

// Len returns the number of candidates in s.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// Word returns candidate i as passed to [Prepare].
func (s *Set) Word(i int) string { return s.words[i] }

// Match finds the candidate most similar to word. When matched is false,
// corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, candidates []string) (corrected string, confidence float64, matched bool) {
	idx, score, ok := m.MatchSet(word, Prepare(candidates))
	if !ok {
		return word, 0, false
	}
	return candidates[idx], score, true
}

// MatchSet finds the candidate of s most similar to word and returns its
// index. Words shorter than the configured minimum never match.
func (m *Matcher) MatchSet(word string, s *Set) (idx int, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(word))
	if s.Len() == 0 || len([]rune(lower)) < m.minRunes {
		return -1, 0, false
	}
	toks := strings.Fields(lower)
	in := candidate{lower: lower, tokens: toks, concat: strings.Join(toks, ""), codes: codesForTokens(toks)}

	best, bestScore, bestPhonetic := -1, 0.0, false
	for i, c := range s.cands {
		if c.lower == "" {
			continue
		}
		score := bestJWScore(in, c)
		if codesOverlap(in.codes, c.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = i, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return -1, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity of the full strings,
// the space-stripped strings, or, for multi-word input, any word pair.
func bestJWScore(in, c candidate) float64 {
	score := matchr.JaroWinkler(in.lower, c.lower, false)
	if len(in.tokens) > 1 || len(c.tokens) > 1 {
		if s := matchr.JaroWinkler(in.concat, c.concat, false); s > score {
			score = s
		}
		// Pairwise scores only help when both sides have several words;
		// a single word matching one word of a phrase is not a correction.
		if len(in.tokens) > 1 && len(c.tokens) > 1 {
			for _, it := range in.tokens {
				for _, ct := range c.tokens {
					if s := matchr.JaroWinkler(it, ct, false); s > score {
						score = s
					}
				}
			}
		}
	}
	return score
}

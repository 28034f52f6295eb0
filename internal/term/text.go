package term

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns the case-insensitive lookup key for s: NFC-normalised,
// lower-cased, with runs of whitespace collapsed to a single space.
func Fold(s string) string {
	s = norm.NFC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Strip returns the folded form of s with all combining marks removed, so
// that "kṛṣṇa" and "krsna" share a key.
func Strip(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return Fold(s)
	}
	return Fold(out)
}

// Token is a whitespace-delimited word of a text, addressed by byte offsets.
// The core is the token with leading and trailing punctuation trimmed.
type Token struct {
	Start, End         int
	CoreStart, CoreEnd int
}

// Text returns the full token text within s.
func (t Token) Text(s string) string { return s[t.Start:t.End] }

// Core returns the trimmed token text within s.
func (t Token) Core(s string) string { return s[t.CoreStart:t.CoreEnd] }

// HasCore reports whether the token contains at least one word character.
func (t Token) HasCore() bool { return t.CoreEnd > t.CoreStart }

// LeadingPunct reports whether punctuation precedes the core.
func (t Token) LeadingPunct() bool { return t.CoreStart > t.Start }

// TrailingPunct reports whether punctuation follows the core.
func (t Token) TrailingPunct() bool { return t.CoreEnd < t.End }

// Tokenize splits s on whitespace and trims each token down to its word core.
func Tokenize(s string) []Token {
	var toks []Token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, newToken(s, start, i))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, newToken(s, start, len(s)))
	}
	return toks
}

func newToken(s string, start, end int) Token {
	cs := start
	for cs < end {
		r, size := utf8.DecodeRuneInString(s[cs:end])
		if isWordRune(r) {
			break
		}
		cs += size
	}
	ce := end
	for ce > cs {
		r, size := utf8.DecodeLastRuneInString(s[cs:ce])
		if isWordRune(r) {
			break
		}
		ce -= size
	}
	return Token{Start: start, End: end, CoreStart: cs, CoreEnd: ce}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// EndsSentence reports whether tok is followed by sentence-final punctuation.
func EndsSentence(s string, tok Token) bool {
	trail := s[tok.CoreEnd:tok.End]
	return strings.ContainsAny(trail, ".!?;:")
}

// minorWords stay lower-case inside title-cased phrases.
var minorWords = map[string]bool{
	"of": true, "and": true, "the": true, "in": true, "on": true, "to": true, "a": true, "an": true,
}

// IsMinorWord reports whether w is an article, conjunction or short
// preposition that stays lower-case inside a title.
func IsMinorWord(w string) bool { return minorWords[strings.ToLower(w)] }

// TitleCase capitalises the first letter of every word in s except minor
// words after the first. Existing capitals are preserved.
func TitleCase(s string) string {
	// Casers carry state and must not be shared between goroutines.
	caser := cases.Title(language.Und, cases.NoLower)
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i > 0 && minorWords[strings.ToLower(w)] {
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// UpperFirst upper-cases the first rune of s.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// IsUpperFirst reports whether the first letter of s is upper-case.
func IsUpperFirst(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}

// IsAllUpper reports whether s has at least two letters and all are upper-case.
func IsAllUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters > 1
}

// Upper returns s upper-cased with Unicode-aware rules.
func Upper(s string) string { return cases.Upper(language.Und).String(s) }

// Rendering selects how a matched term is capitalised.
type Rendering int

const (
	// RenderCasual keeps proper nouns canonical; other terms follow the
	// original: lower-case stays lower-case, a leading capital is kept.
	RenderCasual Rendering = iota

	// RenderTitle title-cases the replacement (title, citation or
	// sentence-initial position).
	RenderTitle
)

// Render returns the text that replaces original for entry e. form is the
// transliterated text to emit; when empty the entry transliteration (or the
// canonical form, if no transliteration is set) is used.
func Render(e Entry, form, original string, mode Rendering) string {
	if form == "" {
		form = e.Transliteration
	}
	if form == "" {
		form = e.Canonical
	}
	switch {
	case IsAllUpper(original):
		return Upper(form)
	case mode == RenderTitle:
		return TitleCase(form)
	case e.Category.IsProperNoun():
		return form
	case IsUpperFirst(original):
		return UpperFirst(form)
	default:
		return strings.ToLower(form)
	}
}

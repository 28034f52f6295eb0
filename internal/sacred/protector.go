// Package sacred shields verse separators, Devanagari signs and decorative
// marks from mutation while a segment passes through the correction stages.
//
// [Protect] replaces every protected glyph with a placeholder built entirely
// from Private Use Area code points: a start marker, the glyph index encoded
// in hexadecimal PUA digits, and an end marker. Legitimate subtitle text never
// contains these code points, and because none of them is a letter, digit or
// space, word tokenisation treats a placeholder as punctuation glued to its
// neighbours. [Restore] performs the exact inverse substitution.
//
// Input that already contains a marker code point cannot be shielded
// unambiguously; Protect rejects it with [ErrMarkerInInput].
//
// All functions are safe for concurrent use.
package sacred

import (
	"errors"
	"strings"
)

const (
	markerStart = '\uE000'
	markerEnd   = '\uE001'
	digitBase   = '\uE010' // U+E010..U+E01F encode hex digits 0-f
)

// ErrMarkerInInput is returned by [Protect] when the input already contains a
// placeholder marker code point.
var ErrMarkerInInput = errors.New("sacred: input contains reserved placeholder marker")

// Glyphs is the fixed table of protected glyphs.
var Glyphs = []rune{
	'|',      // ASCII verse separator
	'\u2016', // ‖ double vertical line
	'\u0964', // । danda
	'\u0965', // ॥ double danda
	'\u0950', // ॐ om
	'\u093D', // ऽ avagraha
	'\u0901', // ँ candrabindu
	'\u0902', // ं anusvara
	'\u0903', // ः visarga
	'\u0F04', // ༄ Tibetan initial yig mgo
	'\u0F05', // ༅ Tibetan closing yig mgo
	'\u262C', // ☬ adi shakti
	'\u2638', // ☸ dharma wheel
	'\u2740', // ❀ white florette
	'\u2767', // ❧ rotated floral heart bullet
	'\u2766', // ❦ floral heart
}

// separatorGlyphs are the protected glyphs that mark line or pipe style
// verse structure.
var separatorGlyphs = map[rune]bool{
	'|':      true,
	'\u2016': true,
	'\u0964': true,
	'\u0965': true,
}

var glyphSet = func() map[rune]bool {
	m := make(map[rune]bool, len(Glyphs))
	for _, g := range Glyphs {
		m[g] = true
	}
	return m
}()

// IsProtected reports whether r is in the protected glyph table.
func IsProtected(r rune) bool { return glyphSet[r] }

// IsSeparator reports whether r is a protected verse-separator glyph.
func IsSeparator(r rune) bool { return separatorGlyphs[r] }

// IsPlaceholderRune reports whether r belongs to the placeholder alphabet.
func IsPlaceholderRune(r rune) bool {
	return r == markerStart || r == markerEnd || (r >= digitBase && r < digitBase+16)
}

// Contains reports whether text contains at least one protected glyph.
func Contains(text string) bool {
	return strings.ContainsFunc(text, IsProtected)
}

// ContainsSeparator reports whether text contains a verse-separator glyph.
func ContainsSeparator(text string) bool {
	return strings.ContainsFunc(text, IsSeparator)
}

// Restoration maps placeholder tokens back to the glyphs they replaced.
// The zero value restores nothing.
type Restoration struct {
	glyphs []rune
}

// Len returns the number of glyphs shielded.
func (r Restoration) Len() int { return len(r.glyphs) }

// Protect replaces every protected glyph in text with a unique placeholder
// and returns the shielded text together with the restoration map.
// Text without protected glyphs is returned unchanged.
func Protect(text string) (string, Restoration, error) {
	if strings.ContainsFunc(text, IsPlaceholderRune) {
		return text, Restoration{}, ErrMarkerInInput
	}
	if !Contains(text) {
		return text, Restoration{}, nil
	}

	var (
		b      strings.Builder
		glyphs []rune
	)
	b.Grow(len(text) + len(text)/2)
	for _, r := range text {
		if !glyphSet[r] {
			b.WriteRune(r)
			continue
		}
		writePlaceholder(&b, len(glyphs))
		glyphs = append(glyphs, r)
	}
	return b.String(), Restoration{glyphs: glyphs}, nil
}

// Restore replaces every placeholder in text with its original glyph.
// Placeholders with an unknown index are left in place.
func Restore(text string, rest Restoration) string {
	if len(rest.glyphs) == 0 || !strings.ContainsRune(text, markerStart) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != markerStart {
			b.WriteRune(runes[i])
			continue
		}
		idx, end, ok := parsePlaceholder(runes, i)
		if !ok || idx >= len(rest.glyphs) {
			b.WriteRune(runes[i])
			continue
		}
		b.WriteRune(rest.glyphs[idx])
		i = end
	}
	return b.String()
}

func writePlaceholder(b *strings.Builder, idx int) {
	b.WriteRune(markerStart)
	if idx == 0 {
		b.WriteRune(digitBase)
	} else {
		var digits [16]rune
		n := 0
		for v := idx; v > 0; v >>= 4 {
			digits[n] = digitBase + rune(v&0xF)
			n++
		}
		for n > 0 {
			n--
			b.WriteRune(digits[n])
		}
	}
	b.WriteRune(markerEnd)
}

// parsePlaceholder decodes the placeholder starting at runes[start]. It
// returns the glyph index and the position of the end marker.
func parsePlaceholder(runes []rune, start int) (idx, end int, ok bool) {
	digits := 0
	for j := start + 1; j < len(runes); j++ {
		r := runes[j]
		switch {
		case r == markerEnd:
			if digits == 0 {
				return 0, 0, false
			}
			return idx, j, true
		case r >= digitBase && r < digitBase+16:
			idx = idx<<4 | int(r-digitBase)
			digits++
			if digits > 8 {
				return 0, 0, false
			}
		default:
			return 0, 0, false
		}
	}
	return 0, 0, false
}

package unicode

import (
	"strings"
	"unicode"
)

// Zero-width characters are invisible in rendered text and are used to
// smuggle instructions past human review or to break up keywords that
// pattern matching would otherwise catch.
func IsZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u180E': // MONGOLIAN VOWEL SEPARATOR
		return true
	}
	return false
}

// CountZeroWidth returns the number of zero-width characters in s.
func CountZeroWidth(s string) int {
	n := 0
	for _, r := range s {
		if IsZeroWidth(r) {
			n++
		}
	}
	return n
}

// StripZeroWidth returns s with all zero-width characters removed.
func StripZeroWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if IsZeroWidth(r) {
			return -1
		}
		return r
	}, s)
}

func isLatinLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isCyrillic(r rune) bool {
	return r >= 0x0400 && r <= 0x04FF
}

func isGreek(r rune) bool {
	return r >= 0x0370 && r <= 0x03FF
}

// HasMixableScripts reports whether s contains Latin letters alongside
// Cyrillic or Greek ones, the precondition for a homoglyph attack.
func HasMixableScripts(s string) bool {
	var latin, other bool
	for _, r := range s {
		switch {
		case isLatinLetter(r):
			latin = true
		case isCyrillic(r) || isGreek(r):
			other = true
		}
		if latin && other {
			return true
		}
	}
	return false
}

// MixedScriptWords counts words in s that mix Latin letters with Cyrillic
// or Greek letters within the same word, and returns the first such word
// as a sample. Words that are wholly non-Latin (genuine Russian or Greek
// text) do not count.
func MixedScriptWords(s string) (count int, sample string) {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	for _, w := range words {
		var latin, other bool
		for _, r := range w {
			switch {
			case isLatinLetter(r):
				latin = true
			case isCyrillic(r) || isGreek(r):
				other = true
			}
		}
		if latin && other {
			if count == 0 {
				sample = w
			}
			count++
		}
	}
	return count, sample
}

// Confusable returns the Latin letter a Cyrillic or Greek rune imitates,
// if it is a known homoglyph.
func Confusable(r rune) (rune, bool) {
	if c, ok := cyrillicHomoglyphs[r]; ok {
		return c, true
	}
	if c, ok := greekHomoglyphs[r]; ok {
		return c, true
	}
	return 0, false
}

// ConfusableSample lists up to max distinct confusable runes found in s,
// formatted as "х->x" pairs for detection metadata.
func ConfusableSample(s string, max int) string {
	var parts []string
	seen := map[rune]bool{}
	for _, r := range s {
		if len(parts) >= max {
			break
		}
		if seen[r] {
			continue
		}
		if c, ok := Confusable(r); ok {
			seen[r] = true
			parts = append(parts, string(r)+"->"+string(c))
		}
	}
	return strings.Join(parts, ",")
}

// Cyrillic characters that are visually confusable with Latin characters
var cyrillicHomoglyphs = map[rune]rune{
	'а': 'a', // CYRILLIC SMALL LETTER A
	'А': 'A', // CYRILLIC CAPITAL LETTER A
	'В': 'B', // CYRILLIC CAPITAL LETTER VE
	'с': 'c', // CYRILLIC SMALL LETTER ES
	'С': 'C', // CYRILLIC CAPITAL LETTER ES
	'е': 'e', // CYRILLIC SMALL LETTER IE
	'Е': 'E', // CYRILLIC CAPITAL LETTER IE
	'Н': 'H', // CYRILLIC CAPITAL LETTER EN
	'і': 'i', // CYRILLIC SMALL LETTER BYELORUSSIAN-UKRAINIAN I
	'І': 'I', // CYRILLIC CAPITAL LETTER BYELORUSSIAN-UKRAINIAN I
	'К': 'K', // CYRILLIC CAPITAL LETTER KA
	'М': 'M', // CYRILLIC CAPITAL LETTER EM
	'о': 'o', // CYRILLIC SMALL LETTER O
	'О': 'O', // CYRILLIC CAPITAL LETTER O
	'р': 'p', // CYRILLIC SMALL LETTER ER
	'Р': 'P', // CYRILLIC CAPITAL LETTER ER
	'Т': 'T', // CYRILLIC CAPITAL LETTER TE
	'х': 'x', // CYRILLIC SMALL LETTER HA
	'Х': 'X', // CYRILLIC CAPITAL LETTER HA
	'у': 'y', // CYRILLIC SMALL LETTER U
	'У': 'Y', // CYRILLIC CAPITAL LETTER U
}

// Greek characters that are visually confusable with Latin characters
var greekHomoglyphs = map[rune]rune{
	'Α': 'A', // GREEK CAPITAL LETTER ALPHA
	'Β': 'B', // GREEK CAPITAL LETTER BETA
	'Ε': 'E', // GREEK CAPITAL LETTER EPSILON
	'Η': 'H', // GREEK CAPITAL LETTER ETA
	'Ι': 'I', // GREEK CAPITAL LETTER IOTA
	'Κ': 'K', // GREEK CAPITAL LETTER KAPPA
	'Μ': 'M', // GREEK CAPITAL LETTER MU
	'Ν': 'N', // GREEK CAPITAL LETTER NU
	'Ο': 'O', // GREEK CAPITAL LETTER OMICRON
	'ο': 'o', // GREEK SMALL LETTER OMICRON
	'Ρ': 'P', // GREEK CAPITAL LETTER RHO
	'Τ': 'T', // GREEK CAPITAL LETTER TAU
	'Χ': 'X', // GREEK CAPITAL LETTER CHI
	'Υ': 'Y', // GREEK CAPITAL LETTER UPSILON
	'Ζ': 'Z', // GREEK CAPITAL LETTER ZETA
}

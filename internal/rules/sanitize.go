package rules

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// WarningKind classifies an obfuscation finding.
type WarningKind int

const (
	// WarnBidi is a bidirectional override, embedding or isolate. Always fatal.
	WarnBidi WarningKind = iota + 1
	// WarnHomoglyph is a non-ASCII character that renders like ASCII.
	WarnHomoglyph
	// WarnInvisible is a zero-width or otherwise invisible formatting character.
	WarnInvisible
	// WarnControl is an ASCII control character other than tab/newline.
	WarnControl
)

func (k WarningKind) String() string {
	switch k {
	case WarnBidi:
		return "bidi"
	case WarnHomoglyph:
		return "homoglyph"
	case WarnInvisible:
		return "invisible"
	case WarnControl:
		return "control"
	}
	return "unknown"
}

// Warning is one obfuscation finding.
type Warning struct {
	Kind    WarningKind
	Message string
}

func (w Warning) String() string {
	return w.Message
}

// SanitizationResult is the outcome of Sanitize. It is never mutated after
// Sanitize returns.
type SanitizationResult struct {
	Normalized string
	Suspicious bool
	Warnings   []Warning
}

// HasBidi reports whether a bidirectional control character was found.
func (r SanitizationResult) HasBidi() bool {
	for _, w := range r.Warnings {
		if w.Kind == WarnBidi {
			return true
		}
	}
	return false
}

// Messages returns the warning texts in order.
func (r SanitizationResult) Messages() []string {
	msgs := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		msgs[i] = w.Message
	}
	return msgs
}

// ObfuscationError rejects a command whose displayed and executed text diverge.
type ObfuscationError struct {
	Warnings []string
}

func (e *ObfuscationError) Error() string {
	return "command rejected: contains bidirectional text control characters (" +
		strings.Join(e.Warnings, "; ") + ")"
}

// Sanitize scans text for characters that make the displayed command differ
// from the executed one and returns a normalized copy. It has no side effects.
func Sanitize(text string) SanitizationResult {
	var (
		res       SanitizationResult
		bidi      = map[rune]int{}
		invisible = map[rune]int{}
		glyphs    = map[rune]rune{}
		controls  int
	)

	for _, r := range text {
		switch {
		case bidiRunes[r]:
			bidi[r]++
		case invisibleRunes[r]:
			invisible[r]++
		case r < 0x80 && unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r':
			controls++
		default:
			if ascii, ok := lookalike(r); ok {
				glyphs[r] = ascii
			}
		}
	}

	if len(bidi) > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Kind:    WarnBidi,
			Message: "contains bidirectional text control characters " + formatRunes(bidi),
		})
	}
	if len(glyphs) > 0 {
		pairs := make([]string, 0, len(glyphs))
		for r, a := range glyphs {
			pairs = append(pairs, fmt.Sprintf("U+%04X %q looks like %q", r, r, a))
		}
		sort.Strings(pairs)
		res.Warnings = append(res.Warnings, Warning{
			Kind:    WarnHomoglyph,
			Message: "contains look-alike characters: " + strings.Join(pairs, ", "),
		})
	}
	if len(invisible) > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Kind:    WarnInvisible,
			Message: "contains invisible characters " + formatRunes(invisible),
		})
	}
	if controls > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Kind:    WarnControl,
			Message: fmt.Sprintf("contains %d control character(s)", controls),
		})
	}

	res.Suspicious = len(res.Warnings) > 0
	res.Normalized = normalizeCommand(text)
	return res
}

// normalizeCommand maps the command to the text a reader would see:
// invisible and bidi characters removed, compatibility forms folded by NFKC,
// and cross-script look-alikes replaced with their ASCII counterparts.
func normalizeCommand(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.Map(func(r rune) rune {
		if bidiRunes[r] || invisibleRunes[r] || r == 0 {
			return -1
		}
		return r
	}, s)
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if a, ok := lookalike(r); ok {
			return a
		}
		return r
	}, s)
	// Replacing a base character can create new composition pairs.
	return norm.NFKC.String(s)
}

// lookalike returns the ASCII character r imitates, if any.
func lookalike(r rune) (rune, bool) {
	if r < 0x80 {
		return 0, false
	}
	if a, ok := metaConfusables[r]; ok {
		return a, true
	}
	if a, ok := confusableMap[r]; ok {
		return a, true
	}
	// Fullwidth ASCII block folds to ASCII under NFKC.
	if r >= 0xFF01 && r <= 0xFF5E {
		return r - 0xFF01 + '!', true
	}
	return 0, false
}

func formatRunes(m map[rune]int) string {
	keys := make([]rune, 0, len(m))
	for r := range m {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	parts := make([]string, len(keys))
	for i, r := range keys {
		parts[i] = fmt.Sprintf("U+%04X", r)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// bidiRunes reorder how surrounding text is displayed.
var bidiRunes = map[rune]bool{
	'\u061C': true, // arabic letter mark
	'\u200E': true, // left-to-right mark
	'\u200F': true, // right-to-left mark
	'\u202A': true, // left-to-right embedding
	'\u202B': true, // right-to-left embedding
	'\u202C': true, // pop directional formatting
	'\u202D': true, // left-to-right override
	'\u202E': true, // right-to-left override
	'\u2066': true, // left-to-right isolate
	'\u2067': true, // right-to-left isolate
	'\u2068': true, // first strong isolate
	'\u2069': true, // pop directional isolate
}

// invisibleRunes render as nothing but still reach the shell.
var invisibleRunes = map[rune]bool{
	'\u00AD': true, // soft hyphen
	'\u034F': true, // combining grapheme joiner
	'\u115F': true, // hangul choseong filler
	'\u1160': true, // hangul jungseong filler
	'\u180E': true, // mongolian vowel separator
	'\u200B': true, // zero-width space
	'\u200C': true, // zero-width non-joiner
	'\u200D': true, // zero-width joiner
	'\u2060': true, // word joiner
	'\u2061': true, // function application
	'\u2062': true, // invisible times
	'\u2063': true, // invisible separator
	'\u2064': true, // invisible plus
	'\u206A': true, // inhibit symmetric swapping
	'\u206B': true, // activate symmetric swapping
	'\u206C': true, // inhibit arabic form shaping
	'\u206D': true, // activate arabic form shaping
	'\u206E': true, // national digit shapes
	'\u206F': true, // nominal digit shapes
	'\u3164': true, // hangul filler
	'\uFEFF': true, // zero-width no-break space (BOM)
	'\uFFA0': true, // halfwidth hangul filler
}

// metaConfusables imitate shell metacharacters and flag prefixes.
var metaConfusables = map[rune]rune{
	'\u01C0': '|', // latin letter dental click
	'\u2223': '|', // divides
	'\u2758': '|', // light vertical bar
	'\uFE31': '|', // vertical em dash
	'\uFF5C': '|',
	'\uFE60': '&', // small ampersand
	'\uFF06': '&',
	'\u037E': ';', // greek question mark
	'\uFE54': ';', // small semicolon
	'\uFF1B': ';',
	'\u2039': '<',
	'\uFE64': '<',
	'\uFF1C': '<',
	'\u203A': '>',
	'\uFE65': '>',
	'\uFF1E': '>',
	'\uFE69': '$',
	'\uFF04': '$',
	'\u2044': '/', // fraction slash
	'\u2215': '/', // division slash
	'\uFF0F': '/',
	'\u2010': '-', // hyphen
	'\u2011': '-', // non-breaking hyphen
	'\u2012': '-', // figure dash
	'\u2013': '-', // en dash
	'\u2212': '-', // minus sign
	'\uFE63': '-', // small hyphen-minus
	'\uFF0D': '-',
	'\u2024': '.', // one dot leader
	'\uFF0E': '.',
	'\u2217': '*', // asterisk operator
	'\uFF0A': '*',
	'\u2731': '*', // heavy asterisk
}

// confusableMap maps the most common cross-script homoglyphs to ASCII.
// Covers Cyrillic and Greek characters that visually resemble Latin letters.
var confusableMap = map[rune]rune{
	// Cyrillic to Latin
	'\u0430': 'a',
	'\u0435': 'e',
	'\u0456': 'i', // Ukrainian i
	'\u0458': 'j',
	'\u043E': 'o',
	'\u0440': 'p',
	'\u0441': 'c',
	'\u0443': 'y',
	'\u0445': 'x',
	'\u0455': 's',
	'\u04BB': 'h',
	'\u0410': 'A',
	'\u0412': 'B',
	'\u0415': 'E',
	'\u041A': 'K',
	'\u041C': 'M',
	'\u041D': 'H',
	'\u041E': 'O',
	'\u0420': 'P',
	'\u0421': 'C',
	'\u0422': 'T',
	'\u0425': 'X',
	// Greek to Latin
	'\u03B1': 'a',
	'\u03B5': 'e',
	'\u03B9': 'i',
	'\u03BF': 'o',
	'\u03C1': 'p',
	'\u03C4': 't', // tau, loose
	'\u0391': 'A',
	'\u0392': 'B',
	'\u0395': 'E',
	'\u0397': 'H',
	'\u0399': 'I',
	'\u039A': 'K',
	'\u039C': 'M',
	'\u039D': 'N',
	'\u039F': 'O',
	'\u03A1': 'P',
	'\u03A4': 'T',
	'\u03A7': 'X',
	'\u03A5': 'Y',
	'\u0396': 'Z',
	// Latin small capitals survive NFKC normalization
	'\u1D00': 'a',
	'\u1D04': 'c',
	'\u1D05': 'd',
	'\u1D07': 'e',
	'\u0262': 'g',
	'\u029C': 'h',
	'\u026A': 'i',
	'\u1D0A': 'j',
	'\u1D0B': 'k',
	'\u029F': 'l',
	'\u1D0D': 'm',
	'\u0274': 'n',
	'\u1D0F': 'o',
	'\u1D18': 'p',
	'\u0280': 'r',
	'\uA731': 's',
	'\u1D1B': 't',
	'\u1D1C': 'u',
	'\u1D20': 'v',
	'\u1D21': 'w',
}

// Package transcript normalizes raw engine output before injection.
package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options controls transcript formatting.
type Options struct {
	TrailingSpace bool
	Capitalize    bool
}

// Engine annotations such as [BLANK_AUDIO], [ Silence ] or (music).
var annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\((?i:music|silence|inaudible|blank_audio|noise|applause|laughter)\)`)

var pronounPattern = regexp.MustCompile(`\bi('(m|d|ll|ve|s))?\b`)

// Normalize strips engine annotations, collapses whitespace, and applies
// casing and trailing-space options. Text with no words left yields "".
func Normalize(raw string, opts Options) string {
	return Format(Clean(raw), opts)
}

// Clean removes engine annotations from raw engine output and collapses
// whitespace. It is not applied to polished text, which may use brackets.
func Clean(raw string) string {
	return strings.Join(strings.Fields(annotationPattern.ReplaceAllString(raw, " ")), " ")
}

// Format collapses whitespace and applies casing and trailing-space
// options. Text with no words yields "".
func Format(text string, opts Options) string {
	text = strings.Join(strings.Fields(text), " ")
	if !hasWord(text) {
		return ""
	}

	if opts.Capitalize {
		text = capitalize(text)
	}
	if opts.TrailingSpace {
		text += " "
	}
	return text
}

func hasWord(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// capitalize upper-cases the first letter of each sentence and the
// standalone pronoun "i".
func capitalize(text string) string {
	text = pronounPattern.ReplaceAllStringFunc(text, func(match string) string {
		return "I" + match[1:]
	})

	var b strings.Builder
	b.Grow(len(text))
	start := true
	for i, r := range text {
		switch {
		case start && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
			start = false
			continue
		case start && unicode.IsDigit(r):
			start = false
		case r == '.' || r == '!' || r == '?':
			start = endsSentence(text, i+utf8.RuneLen(r))
		}
		b.WriteRune(r)
	}
	return b.String()
}

// endsSentence reports whether the terminator ending at next is followed by
// whitespace or the end of text, so "3.5" and "e.g" are left alone.
func endsSentence(text string, next int) bool {
	if next >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[next:])
	return unicode.IsSpace(r)
}

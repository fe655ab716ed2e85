// Package script turns raw lesson text into the ordered phrases that are
// resolved to audio and assembled into a lesson.
//
// Pauses come only from explicit bracketed markers such as "[pause 3s]".
// Punctuation, ellipses and line breaks never introduce a pause. Phrases
// wrapped in quote-like delimiters are reusable: they are short trainee
// answers that the vocabulary store keeps across lessons.
package script

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Phrase is one spoken unit of a lesson followed by a pause.
type Phrase struct {
	// Text is the phrase as written, trimmed. Empty for a silent phrase.
	Text string

	// Normalized is Text in NFC with whitespace collapsed.
	Normalized string

	// Reusable reports that Text is wrapped in recognised delimiters.
	Reusable bool

	// BareKey is the normalised text inside the delimiters with any
	// trailing ellipsis removed. Set only when Reusable is true.
	BareKey string

	// PauseMs is the silence that follows the phrase.
	PauseMs int
}

// Silent reports whether the phrase carries only a pause.
func (p Phrase) Silent() bool { return p.Text == "" }

// Tokenize splits raw lesson text into phrases. It never fails: malformed
// markers are kept as literal text.
//
// Text that contains no letters or digits is dropped. Its pause moves to
// the previous retained phrase, or becomes a silent phrase when nothing
// was retained before it.
func Tokenize(raw string) []Phrase {
	var out []Phrase
	// cur indexes the phrase that receives following pauses, -1 if none.
	cur := -1
	// lastRetained indexes the last phrase with text, -1 if none.
	lastRetained := -1

	addPause := func(ms int) {
		switch {
		case cur >= 0:
			out[cur].PauseMs += ms
		case lastRetained >= 0:
			out[lastRetained].PauseMs += ms
		default:
			// Merge consecutive freestanding silences.
			if n := len(out); n > 0 && out[n-1].Silent() {
				out[n-1].PauseMs += ms
				return
			}
			out = append(out, Phrase{PauseMs: ms})
		}
	}

	for _, tok := range Lex(raw) {
		switch tok.Kind {
		case TokenText:
			if !speakable(tok.Text) {
				cur = -1
				continue
			}
			out = append(out, newPhrase(tok.Text))
			cur = len(out) - 1
			lastRetained = cur
		case TokenPause:
			addPause(tok.PauseMs)
		}
	}
	return out
}

func newPhrase(raw string) Phrase {
	text := strings.TrimSpace(raw)
	p := Phrase{Text: text, Normalized: Normalize(text)}
	if inner, ok := Unquote(text); ok {
		p.Reusable = true
		p.BareKey = Normalize(inner)
	}
	return p
}

// speakable reports whether s contains at least one letter or digit.
func speakable(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	}) >= 0
}

// delimiters maps each recognised opening delimiter to its closing one.
var delimiters = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
	'«':  '»',
	'„':  '“',
	'「':  '」',
	'『':  '』',
}

// Unquote reports whether text, once trimmed and stripped of a trailing
// ellipsis, is wrapped in a matching delimiter pair, and returns the inner
// text without delimiters, surrounding spaces or trailing ellipsis.
func Unquote(text string) (string, bool) {
	s := trimEllipsis(strings.TrimSpace(text))
	open, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return "", false
	}
	want, ok := delimiters[open]
	if !ok {
		return "", false
	}
	closing, m := utf8.DecodeLastRuneInString(s)
	if closing != want || len(s) < n+m {
		return "", false
	}
	inner := trimEllipsis(strings.TrimSpace(s[n : len(s)-m]))
	if !speakable(inner) {
		return "", false
	}
	return inner, true
}

// trimEllipsis removes any trailing "..." or "…" and the spaces before it.
func trimEllipsis(s string) string {
	for {
		t := strings.TrimRightFunc(s, unicode.IsSpace)
		switch {
		case strings.HasSuffix(t, "..."):
			t = strings.TrimSuffix(t, "...")
		case strings.HasSuffix(t, "…"):
			t = strings.TrimSuffix(t, "…")
		default:
			return t
		}
		s = t
	}
}

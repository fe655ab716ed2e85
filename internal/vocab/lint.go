package vocab

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultSimilarity = 0.95
	// Phonetic codes are only trusted for short keys; long phrases share
	// codes too easily.
	defaultPhoneticMaxRunes = 24
)

// LintOption is a functional option for Lint.
type LintOption func(*linter)

// WithSimilarity sets the minimum Jaro-Winkler score reported. Default: 0.95.
func WithSimilarity(threshold float64) LintOption {
	return func(l *linter) {
		l.similarity = threshold
	}
}

// WithPhoneticMaxRunes sets the longest key (in runes) for which identical
// Double Metaphone codes alone flag a pair. Default: 24. Zero disables the
// phonetic check.
func WithPhoneticMaxRunes(n int) LintOption {
	return func(l *linter) {
		l.phoneticMax = n
	}
}

type linter struct {
	similarity  float64
	phoneticMax int
}

// Finding is a pair of entries whose keys are close enough that a curator
// should check whether they are the same phrase.
type Finding struct {
	A, B     Entry
	Score    float64
	Phonetic bool
}

// Lint compares every pair of entries and returns near duplicates ordered
// by descending score. Exact duplicates cannot occur in a valid manifest.
func Lint(entries []Entry, opts ...LintOption) []Finding {
	l := linter{similarity: defaultSimilarity, phoneticMax: defaultPhoneticMaxRunes}
	for _, o := range opts {
		o(&l)
	}

	codes := make([]string, len(entries))
	for i, e := range entries {
		if len([]rune(e.Key)) <= l.phoneticMax {
			codes[i] = phoneticCode(e.Key)
		}
	}

	var out []Finding
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			score := matchr.JaroWinkler(a.Key, b.Key, false)
			phonetic := codes[i] != "" && codes[i] == codes[j]
			if score >= l.similarity || phonetic {
				out = append(out, Finding{A: a, B: b, Score: score, Phonetic: phonetic})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// phoneticCode joins the primary Double Metaphone code of each word. Words
// without a code (no consonants, non-Latin scripts) yield an empty result
// so they never match phonetically.
func phoneticCode(key string) string {
	words := strings.Fields(key)
	parts := make([]string, 0, len(words))
	for _, w := range words {
		p, _ := matchr.DoubleMetaphone(w)
		if p == "" {
			return ""
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

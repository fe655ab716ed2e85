package script

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns text in NFC with surrounding whitespace trimmed and
// internal whitespace runs collapsed to a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Key returns the case- and whitespace-insensitive lookup key for text.
// Two strings that differ only in case, Unicode composition or spacing
// share a key.
func Key(text string) string {
	return norm.NFC.String(cases.Fold().String(Normalize(text)))
}

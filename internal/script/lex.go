package script

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// TokenKind tags an element of the lexed script stream.
type TokenKind int

const (
	// TokenText is a run of literal script text.
	TokenText TokenKind = iota
	// TokenPause is an explicit pause marker.
	TokenPause
)

// String implements fmt.Stringer.
func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "text"
	case TokenPause:
		return "pause"
	default:
		return "TokenKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Token is one element of the lexed stream. Text is set for TokenText,
// PauseMs for TokenPause.
type Token struct {
	Kind    TokenKind
	Text    string
	PauseMs int
}

// maxPauseMs caps a single marker. Larger values are treated as literal text.
const maxPauseMs = 60 * 60 * 1000

var (
	// bracketRe matches a single-line bracketed instruction.
	bracketRe = regexp.MustCompile(`\[([^\[\]\n]*)\]`)

	keywordRe = regexp.MustCompile(`(?i)\b(pause|silence|wait|break)\b`)

	// numberRe captures an optional sign, the value and an optional unit.
	numberRe = regexp.MustCompile(`(?i)(-?)(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?\b`)

	// otherUnitRe spots durations in units that are not supported.
	otherUnitRe = regexp.MustCompile(`(?i)\d\s*(m|mins?|minutes?|h|hrs?|hours?)\b`)
)

// Lex splits raw script text into a stream of text and pause tokens.
// Adjacent text is merged, so two text tokens never follow each other.
// Brackets that do not form a valid pause marker stay in the text.
func Lex(raw string) []Token {
	var (
		out  []Token
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			out = append(out, Token{Kind: TokenText, Text: text.String()})
			text.Reset()
		}
	}

	last := 0
	for _, m := range bracketRe.FindAllStringSubmatchIndex(raw, -1) {
		ms, ok := parseMarker(raw[m[2]:m[3]])
		if !ok {
			continue
		}
		text.WriteString(raw[last:m[0]])
		flush()
		out = append(out, Token{Kind: TokenPause, PauseMs: ms})
		last = m[1]
	}
	text.WriteString(raw[last:])
	flush()
	return out
}

// parseMarker interprets the body of a bracketed instruction. It reports
// false unless the body names a pause keyword and carries exactly one
// non-negative duration.
func parseMarker(body string) (int, bool) {
	if !keywordRe.MatchString(body) || otherUnitRe.MatchString(body) {
		return 0, false
	}
	nums := numberRe.FindAllStringSubmatch(body, -1)
	if len(nums) != 1 {
		return 0, false
	}
	sign, value, unit := nums[0][1], nums[0][2], strings.ToLower(nums[0][3])
	if sign == "-" {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	if !strings.HasPrefix(unit, "m") {
		v *= 1000
	}
	ms := math.Round(v)
	if math.IsInf(ms, 0) || ms > maxPauseMs {
		return 0, false
	}
	return int(ms), true
}

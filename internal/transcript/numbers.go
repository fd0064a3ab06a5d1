// Package transcript extracts structured values from speech-to-text output.
//
// The voice agent reports both a numeric field and the raw transcript for
// each answer. The numeric field is sometimes stale, so the transcript is
// parsed independently and preferred when it yields a number.
package transcript

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

var units = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// fuzzyMinLen keeps short common words ("for", "ate", "to") out of the
// fuzzy pass; only tens and teens words are long enough to be corrected.
const fuzzyMinLen = 5

// ParseNumber returns the last number spoken in text. It understands
// zero through ninety-nine written as words, including "forty-two",
// "forty two" and "forty and two", as well as plain digits.
func ParseNumber(text string) (int, bool) {
	tokens := tokenize(text)
	found, value := false, 0
	for i := 0; i < len(tokens); {
		tok := tokens[i]
		if n, err := strconv.Atoi(tok); err == nil {
			found, value = true, n
			i++
			continue
		}
		if t, ok := tens[tok]; ok {
			v, used := t, 1
			if u, ok := unitAt(tokens, i+1); ok {
				v, used = t+u, 2
			} else if i+1 < len(tokens) && tokens[i+1] == "and" {
				if u, ok := unitAt(tokens, i+2); ok {
					v, used = t+u, 3
				}
			}
			found, value = true, v
			i += used
			continue
		}
		if u, ok := units[tok]; ok {
			found, value = true, u
		}
		i++
	}
	return value, found
}

// unitAt returns the 1..9 digit word at position i, if any.
func unitAt(tokens []string, i int) (int, bool) {
	if i >= len(tokens) {
		return 0, false
	}
	u, ok := units[tokens[i]]
	if !ok || u < 1 || u > 9 {
		return 0, false
	}
	return u, true
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = canonical(f)
	}
	return fields
}

// canonical maps near-miss spellings of tens and teens words ("fourty",
// "ninty", "eigthteen") onto the vocabulary. Ambiguous tokens stay as-is.
func canonical(tok string) string {
	if _, ok := units[tok]; ok {
		return tok
	}
	if _, ok := tens[tok]; ok {
		return tok
	}
	if len(tok) < fuzzyMinLen {
		return tok
	}
	var vocab map[string]int
	switch {
	case strings.HasSuffix(tok, "teen"):
		vocab = units
	case strings.HasSuffix(tok, "ty"):
		vocab = tens
	default:
		return tok
	}
	best, hits := "", 0
	for word := range vocab {
		if matchr.DamerauLevenshtein(tok, word) == 1 {
			best = word
			hits++
		}
	}
	if hits != 1 {
		return tok
	}
	return best
}

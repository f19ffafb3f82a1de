package lexical

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer extracts the distinct terms of a text.
type Tokenizer interface {
	// Terms returns the distinct terms of text in ascending order.
	Terms(text string) []string
}

// Normalize applies NFKC normalisation and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// WordTokenizer splits text on UAX #29 word boundaries and keeps the
// segments that hold at least one letter or digit.
type WordTokenizer struct {
	// MinLength and MaxLength bound a term's length in runes. Zero means no
	// bound.
	MinLength int
	MaxLength int
}

// DefaultTokenizer drops terms longer than 60 runes.
var DefaultTokenizer Tokenizer = WordTokenizer{MaxLength: 60}

// Terms implements Tokenizer.
func (t WordTokenizer) Terms(text string) []string {
	freq := t.Frequencies(text)
	out := make([]string, 0, len(freq))
	for term := range freq {
		out = append(out, term)
	}
	slices.Sort(out)
	return out
}

// Frequencies counts how often each term occurs in text.
func (t WordTokenizer) Frequencies(text string) map[string]int {
	freq := make(map[string]int)
	seg := words.FromString(Normalize(text))
	for seg.Next() {
		w := seg.Value()
		if !isWord(w) || !t.fits(w) {
			continue
		}
		freq[w]++
	}
	return freq
}

func (t WordTokenizer) fits(w string) bool {
	n := utf8.RuneCountInString(w)
	if t.MinLength > 0 && n < t.MinLength {
		return false
	}
	return t.MaxLength <= 0 || n <= t.MaxLength
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// SpaceTokenizer lowercases text and splits it on single spaces. It suits
// pre-tokenised input such as field values.
type SpaceTokenizer struct{}

// Terms implements Tokenizer.
func (SpaceTokenizer) Terms(text string) []string {
	var out []string
	for _, w := range strings.Split(strings.ToLower(text), " ") {
		if w != "" {
			out = append(out, w)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

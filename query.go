package inkdex

import (
	"regexp"
	"strings"

	"github.com/hupe1980/inkdex/lexical"
	"github.com/hupe1980/inkdex/postings"
)

type operation uint8

const (
	opAnd operation = iota
	opOr
	opAndNot
)

// clause is one whitespace-separated token of a query.
type clause struct {
	op       operation
	term     string
	wildcard bool
}

// parseQuery splits filter into clauses. A leading '+' makes a clause OR, a
// leading '-' makes it AND NOT, anything else is AND. Terms holding '*' or
// '?' match the vocabulary as wildcards.
func parseQuery(filter string) []clause {
	var out []clause
	for _, tok := range strings.Fields(filter) {
		c := clause{op: opAnd}
		switch {
		case strings.HasPrefix(tok, "+"):
			c.op = opOr
			tok = tok[1:]
		case strings.HasPrefix(tok, "-"):
			c.op = opAndNot
			tok = tok[1:]
		}
		if tok == "" {
			continue
		}
		c.wildcard = strings.ContainsAny(tok, "*?")
		c.term = lexical.Normalize(tok)
		out = append(out, c)
	}
	return out
}

// compileWildcard turns a '*'/'?' pattern into an anchored, case-insensitive
// expression. Every other character matches literally.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &ErrInvalidPattern{Pattern: pattern, cause: err}
	}
	return re, nil
}

// execute folds the clauses of filter left to right. The first clause seeds
// the result; a leading NOT clause seeds it with every record below maxSize.
// An AND clause on an unknown term empties the result, unknown OR and NOT
// terms are ignored.
func (x *Index) execute(filter string, maxSize int) (*postings.Set, error) {
	var found *postings.Set
	for _, c := range parseQuery(filter) {
		if c.op == opAndNot && found == nil {
			found = postings.Fill(maxSize)
		}

		var (
			bits *postings.Set
			ok   bool
			err  error
		)
		if c.wildcard {
			bits, err = x.matchWildcard(c.term)
			ok = true
		} else {
			bits, ok, err = x.lookup(c.term)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			if c.op == opAnd {
				found = postings.New()
			}
			continue
		}
		found = combine(found, bits, c.op)
	}

	if found == nil {
		return postings.New(), nil
	}
	if x.deleted != nil {
		return found.AndNot(x.deleted.Bits()), nil
	}
	return found, nil
}

// combine never returns bits itself: postings from the store are shared.
func combine(found, bits *postings.Set, op operation) *postings.Set {
	if found == nil {
		return bits.Copy()
	}
	switch op {
	case opOr:
		return found.Or(bits)
	case opAndNot:
		return found.AndNot(bits)
	default:
		return found.And(bits)
	}
}

func (x *Index) lookup(term string) (*postings.Set, bool, error) {
	x.mu.RLock()
	h, ok := x.words[term]
	x.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	set, err := x.postings.Get(h)
	if err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// matchWildcard ORs the postings of every vocabulary term matching pattern.
// It scans the whole vocabulary.
func (x *Index) matchWildcard(pattern string) (*postings.Set, error) {
	re, err := compileWildcard(pattern)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	var handles []int
	for w, h := range x.words {
		if re.MatchString(w) {
			handles = append(handles, h)
		}
	}
	x.mu.RUnlock()

	acc := postings.New()
	for _, h := range handles {
		set, err := x.postings.Get(h)
		if err != nil {
			return nil, err
		}
		acc.OrWith(set)
	}
	return acc, nil
}

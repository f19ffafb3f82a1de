package inkdex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

func TestParseQuery(t *testing.T) {
	got := parseQuery("  Quick +FOX -lazy  d?g - + e-mail ")
	assert.Equal(t, []clause{
		{op: opAnd, term: "quick"},
		{op: opOr, term: "fox"},
		{op: opAndNot, term: "lazy"},
		{op: opAnd, term: "d?g", wildcard: true},
		{op: opAnd, term: "e-mail"},
	}, got)

	assert.Empty(t, parseQuery(""))
}

func TestCompileWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		match   []string
		miss    []string
	}{
		{"qu*", []string{"qu", "quick", "QUICK"}, []string{"aqu"}},
		{"?og", []string{"dog", "fog"}, []string{"og", "dogs"}},
		{"a.b*", []string{"a.b", "a.bc"}, []string{"axb"}},
		{"(x)?", []string{"(x)1"}, []string{"x1"}},
	}
	for _, tt := range tests {
		re, err := compileWildcard(tt.pattern)
		require.NoError(t, err, tt.pattern)
		for _, s := range tt.match {
			assert.True(t, re.MatchString(s), "%s ~ %s", tt.pattern, s)
		}
		for _, s := range tt.miss {
			assert.False(t, re.MatchString(s), "%s !~ %s", tt.pattern, s)
		}
	}
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.ErrorIs(t, translateError(storeerr.Corrupt.New("bad")), ErrCorruptFormat)
	assert.ErrorIs(t, translateError(storeerr.Precondition.New("bad")), ErrPrecondition)
	assert.ErrorIs(t, translateError(storeerr.IO.New("bad")), ErrIO)
	assert.ErrorIs(t, translateError(storeerr.Closed.New("bad")), ErrClosed)

	injected := errors.New("disk full")
	wrapped := translateError(storeerr.IO.Wrap(injected))
	assert.Equal(t, "io failure: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, injected)
	assert.Equal(t, "corrupt format: page 3", translateError(storeerr.Corrupt.New("page %d", 3)).Error())

	plain := errors.New("plain")
	assert.Equal(t, plain, translateError(plain))

	cause := errors.New("missing )")
	err := error(&ErrInvalidPattern{Pattern: "(", cause: cause})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.ErrorIs(t, err, cause)
}

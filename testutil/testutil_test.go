package testutil

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomOffsets(t *testing.T) {
	got := RandomOffsets(100, 1000)
	assert.Len(t, got, 100)
	assert.True(t, slices.IsSorted(got))
	assert.Len(t, slices.Compact(slices.Clone(got)), 100)

	assert.Len(t, RandomOffsets(10, 4), 4)
}

func TestClusteredOffsets(t *testing.T) {
	got := ClusteredOffsets(20, 64, 500)
	assert.True(t, slices.IsSorted(got))
	assert.Equal(t, got, OracleSlice(Oracle(got)))
}

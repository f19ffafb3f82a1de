package storeerr

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	err := Classify(os.ErrPermission)
	assert.True(t, IO.Has(err))
	assert.True(t, errors.Is(err, os.ErrPermission))

	corrupt := Corrupt.New("bad magic %x", 0x42)
	assert.Same(t, corrupt, Classify(corrupt))
	assert.False(t, IO.Has(Classify(corrupt)))
	assert.Contains(t, corrupt.Error(), "bad magic 42")
}

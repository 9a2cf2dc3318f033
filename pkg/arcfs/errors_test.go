package arcfs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	tagged := fmt.Errorf("%w: %w", ErrPasswordRequired, errors.New("rardecode: incorrect password"))
	assert.Same(t, tagged, classify(tagged), "tagged errors pass through untouched")

	fallback := classify(errors.New("zip: entry is encrypted"))
	assert.ErrorIs(t, fallback, ErrPasswordRequired)

	other := errors.New("unexpected EOF in block")
	assert.Equal(t, other, classify(other))
}

func TestReadOnlyErrorMatchesEROFS(t *testing.T) {
	assert.ErrorIs(t, ErrReadOnly, syscall.EROFS)
}

package relayerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := Newf(NotFound, "key not found: %s", "k1")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, NotFound, kind)
	assert.True(t, IsKind(err, NotFound))
	assert.False(t, IsKind(err, Storage))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapPreservesKindThroughChains(t *testing.T) {
	cause := Newf(Driver, "error from driver: %s", "bad view")
	wrapped := fmt.Errorf("sending query: %w", cause)

	assert.True(t, IsKind(wrapped, Driver))
	assert.Contains(t, wrapped.Error(), "bad view")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(Storage, "write", nil))

	err := Wrap(Storage, "write", errors.New("disk full"))
	assert.True(t, IsKind(err, Storage))
	assert.Contains(t, err.Error(), "disk full")
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "not found", NotFound.String())
	assert.Equal(t, "protocol", Protocol.String())
	assert.Equal(t, "timeout", Timeout.String())
}

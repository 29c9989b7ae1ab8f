package bulkpool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignedAlloc(t *testing.T) {
	t.Run("RejectsNonPowerOfTwoAlignment", func(t *testing.T) {
		_, err := AlignedAlloc(16, 3)
		require.Error(t, err)
	})

	t.Run("ReturnsExactlySizedOwnedBuffer", func(t *testing.T) {
		buf, err := AlignedAlloc(128, 16)
		require.NoError(t, err)
		defer Free(buf)

		assert.Len(t, buf.Data, 128)
		assert.True(t, buf.Owned)
		addr := uintptr(unsafe.Pointer(&buf.Data[0]))
		assert.Zero(t, addr%16)
	})

	t.Run("ZeroSizeBufferIsValid", func(t *testing.T) {
		buf, err := AlignedAlloc(0, 16)
		require.NoError(t, err)
		defer Free(buf)

		assert.Len(t, buf.Data, 0)
	})
}

func TestRealloc(t *testing.T) {
	t.Run("PreservesPrefixOnGrow", func(t *testing.T) {
		buf, err := AlignedAlloc(4, 16)
		require.NoError(t, err)
		copy(buf.Data, []byte{1, 2, 3, 4})

		require.NoError(t, Realloc(buf, 8))
		defer Free(buf)

		assert.Equal(t, []byte{1, 2, 3, 4}, buf.Data[:4])
		assert.Len(t, buf.Data, 8)
	})

	t.Run("TruncatesOnShrink", func(t *testing.T) {
		buf, err := AlignedAlloc(8, 16)
		require.NoError(t, err)
		copy(buf.Data, []byte{1, 2, 3, 4, 5, 6, 7, 8})

		require.NoError(t, Realloc(buf, 4))
		defer Free(buf)

		assert.Equal(t, []byte{1, 2, 3, 4}, buf.Data)
	})
}

func TestFree(t *testing.T) {
	t.Run("NoopOnExternallyOwned", func(t *testing.T) {
		external := &Buffer{Data: make([]byte, 16), Owned: false}
		require.NoError(t, Free(external))
		assert.NotNil(t, external.Data)
	})

	t.Run("NoopOnNil", func(t *testing.T) {
		require.NoError(t, Free(nil))
	})
}

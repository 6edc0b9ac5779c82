package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetLoad(t *testing.T) {
	data := make([]byte, BitmapBytes(100))
	bm := AsBitmap(data, 100)

	assert.False(t, bm.LoadBit(0))
	prev := bm.SetBit(0, true)
	assert.False(t, prev)
	assert.True(t, bm.LoadBit(0))

	prev = bm.SetBit(0, false)
	assert.True(t, prev)
	assert.False(t, bm.LoadBit(0))
}

func TestBitmapFindFirstZero(t *testing.T) {
	data := make([]byte, BitmapBytes(64))
	bm := AsBitmap(data, 64)

	assert.Equal(t, 0, bm.FindFirstZero(0))
	for i := 0; i < 10; i++ {
		bm.SetBit(i, true)
	}
	assert.Equal(t, 10, bm.FindFirstZero(0))
	// A free bit at or after the hint wins; the search wraps around
	// only when every bit from the hint to the end is set.
	bm.SetBit(10, true)
	assert.Equal(t, 11, bm.FindFirstZero(11))
	assert.Equal(t, 63, bm.FindFirstZero(63))
	bm.SetBit(63, true)
	assert.Equal(t, 11, bm.FindFirstZero(63))
}

func TestBitmapFull(t *testing.T) {
	data := make([]byte, BitmapBytes(16))
	bm := AsBitmap(data, 16)
	for i := 0; i < 16; i++ {
		bm.SetBit(i, true)
	}
	assert.Equal(t, -1, bm.FindFirstZero(0))

	bm.SetBit(7, false)
	require.Equal(t, 7, bm.FindFirstZero(0))
}

package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputBufferKeepsTail(t *testing.T) {
	t.Parallel()

	b := NewOutputBuffer(5)
	_, _ = b.Write([]byte("abc"))
	assert.Equal(t, "abc", b.String())
	assert.Equal(t, 3, b.Len())
	assert.Zero(t, b.Dropped())

	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String(), "wrap keeps the tail")
	assert.Equal(t, 5, b.Len())
	assert.EqualValues(t, 2, b.Dropped())
}

func TestOutputBufferEmpty(t *testing.T) {
	t.Parallel()

	b := NewOutputBuffer(0)
	assert.Empty(t, b.String())
	assert.Zero(t, b.Len())
}

func TestOutputBufferDropsSplitRune(t *testing.T) {
	t.Parallel()

	b := NewOutputBuffer(4)
	_, _ = b.Write([]byte("aé" + "bc")) // é is two bytes
	_, _ = b.Write([]byte("d"))
	got := b.String()
	assert.NotContains(t, got, "�")
	assert.Equal(t, "bcd", got)
}

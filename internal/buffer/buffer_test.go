package buffer_test

import (
	"testing"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_AppendWithinLimit(t *testing.T) {
	b := buffer.NewBounded(10)
	b.Append([]byte("hello"))
	assert.Equal(t, "hello", b.String())
	assert.False(t, b.Truncated)
	assert.Equal(t, 5, b.Len())
}

func TestBounded_AppendExceedingLimitTruncates(t *testing.T) {
	b := buffer.NewBounded(5)
	b.Append([]byte("hello world"))
	assert.True(t, b.Truncated)
	assert.Equal(t, "hello", b.String())
	assert.Equal(t, 5, b.Len())
}

func TestBounded_FurtherAppendsAfterTruncationAreDropped(t *testing.T) {
	b := buffer.NewBounded(5)
	b.Append([]byte("hello world"))
	require.True(t, b.Truncated)
	b.Append([]byte("more data"))
	assert.Equal(t, 5, b.Len())
}

func TestBounded_MultipleAppendsAccumulate(t *testing.T) {
	b := buffer.NewBounded(20)
	b.Append([]byte("foo"))
	b.Append([]byte("bar"))
	assert.Equal(t, "foobar", b.String())
}

func TestBounded_TruncatedMultiByteSequenceTolerated(t *testing.T) {
	// "café" is 5 bytes in utf-8 (é is 2 bytes). Truncate mid-character.
	full := []byte("café")
	require.Equal(t, 5, len(full))

	b := buffer.NewBounded(4)
	b.Append(full)
	require.True(t, b.Truncated)

	s, err := b.DecodeString()
	require.NoError(t, err)
	assert.Equal(t, "caf", s)
}

func TestBounded_InvalidUTF8WithoutTruncationErrors(t *testing.T) {
	b := buffer.NewBounded(10)
	b.Append([]byte{0xff, 0xfe, 0xfd})
	_, err := b.DecodeString()
	assert.Error(t, err)
}

func TestBounded_EmptyBuffer(t *testing.T) {
	b := buffer.NewBounded(10)
	assert.Equal(t, "", b.String())
	assert.False(t, b.Truncated)
	assert.Equal(t, 0, b.Len())
}

func TestBounded_ZeroLimit(t *testing.T) {
	b := buffer.NewBounded(0)
	b.Append([]byte("x"))
	assert.True(t, b.Truncated)
	assert.Equal(t, 0, b.Len())
}

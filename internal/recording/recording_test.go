package recording

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	h := NewHeader(8)
	h.StartedAt = h.StartedAt.Truncate(time.Nanosecond).UTC()

	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, h))

	got, err := ReadHeader(&buf)
	require.NoError(t, err)

	assert.Equal(t, h.Magic, got.Magic)
	assert.Equal(t, h.Version, got.Version)
	assert.Equal(t, h.CoreCount, got.CoreCount)
	assert.Equal(t, h.SessionID, got.SessionID)
	assert.True(t, h.StartedAt.Equal(got.StartedAt))
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	h := NewHeader(1)
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, h))

	corrupt := buf.Bytes()
	corrupt[0] = 'X'

	_, err := ReadHeader(bytes.NewReader(corrupt))
	assert.Error(t, err)
}

func TestNewHeaderProducesUniqueSessionIDs(t *testing.T) {
	a := NewHeader(8)
	b := NewHeader(8)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

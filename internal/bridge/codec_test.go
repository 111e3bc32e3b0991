// ABOUTME: Tests for length-prefixed framing: round trips, limits, bad headers.
// ABOUTME: Uses in-memory buffers; no sockets involved.

package bridge

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"ping"}`)

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameHeaderIsBigEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abcd")))

	header := buf.Bytes()[:4]
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(header))
}

func TestMultipleFramesPreserveBoundaries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, []byte("second, longer payload")))

	a, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	b, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)

	assert.Equal(t, "first", string(a))
	assert.Equal(t, "second, longer payload", string(b))
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte("x"), 100)))

	_, err := ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := ReadFrame(buf, 64)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("short")

	_, err := ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

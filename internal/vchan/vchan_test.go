package vchan

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunk_SingleChunkCarriesFirstAndLast(t *testing.T) {
	chunks := Chunk([]byte("hello"), FlagShowProtocol)
	require.Len(t, chunks, 1)

	var h Header
	require.NoError(t, h.Deserialize(bytes.NewReader(chunks[0])))
	require.EqualValues(t, 5, h.Length)
	require.Equal(t, FlagFirst|FlagLast|FlagShowProtocol, h.Flags)
	require.Equal(t, []byte("hello"), chunks[0][8:])
}

func TestChunk_SplitsAcrossMaxChunkLength(t *testing.T) {
	payload := make([]byte, MaxChunkLength+2)
	for i := range payload {
		payload[i] = byte(i)
	}

	chunks := Chunk(payload, 0)
	require.Len(t, chunks, 2)

	var h0, h1 Header
	require.NoError(t, h0.Deserialize(bytes.NewReader(chunks[0])))
	require.NoError(t, h1.Deserialize(bytes.NewReader(chunks[1])))

	require.EqualValues(t, len(payload), h0.Length)
	require.EqualValues(t, len(payload), h1.Length)
	require.Equal(t, FlagFirst, h0.Flags)
	require.Equal(t, FlagLast, h1.Flags)

	require.Len(t, chunks[0][8:], MaxChunkLength)
	require.Len(t, chunks[1][8:], 2)
}

func TestReassembler_SingleChunkCompletesImmediately(t *testing.T) {
	r := NewReassembler(1024)
	chunks := Chunk([]byte("payload"), 0)

	msg, ready, err := r.Feed(bytes.NewReader(chunks[0]))
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, []byte("payload"), msg)
}

func TestReassembler_MultiChunkAccumulates(t *testing.T) {
	r := NewReassembler(1024 * 1024)
	payload := make([]byte, MaxChunkLength+10)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	chunks := Chunk(payload, 0)
	require.Len(t, chunks, 2)

	_, ready, err := r.Feed(bytes.NewReader(chunks[0]))
	require.NoError(t, err)
	require.False(t, ready)

	msg, ready, err := r.Feed(bytes.NewReader(chunks[1]))
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, payload, msg)
}

func TestReassembler_OverCapMessageIsDropped(t *testing.T) {
	r := NewReassembler(4)
	chunks := Chunk([]byte("too long for cap"), 0)

	msg, ready, err := r.Feed(bytes.NewReader(chunks[0]))
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, msg)

	// The reassembler resets cleanly; the next complete message succeeds.
	chunks2 := Chunk([]byte("ok"), 0)
	msg2, ready2, err := r.Feed(bytes.NewReader(chunks2[0]))
	require.NoError(t, err)
	require.True(t, ready2)
	require.Equal(t, []byte("ok"), msg2)
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("a small test frame")

	require.NoError(t, WriteFrame(&buf, data))

	// 4-byte big-endian prefix followed by the body.
	require.Equal(t, 4+len(data), buf.Len())
	assert.Equal(t, uint32(len(data)), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadFrameWaitsForFullBody(t *testing.T) {
	// Deliver the frame one byte at a time over a real connection to make
	// sure ReadFrame keeps reading until the length prefix is satisfied.
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	data := []byte("split across many tiny writes")

	go func() {
		defer serverConn.Close()
		var buf bytes.Buffer
		if err := WriteFrame(&buf, data); err != nil {
			return
		}
		for _, b := range buf.Bytes() {
			if _, err := serverConn.Write([]byte{b}); err != nil {
				return
			}
		}
	}()

	got, err := ReadFrame(clientConn)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadFrameRejectsOversizedPrefix(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(prefix[:]))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("full frame")))

	truncated := buf.Bytes()[:buf.Len()-4]
	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEnvelopeOverStream(t *testing.T) {
	payload, err := BuildSendValue(2, 11)
	require.NoError(t, err)
	env := NewEnvelope(payload, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env))

	decoded, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

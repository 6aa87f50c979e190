package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize caps the length prefix accepted from the wire. Protocol
// messages are small; anything larger is a framing error, not a real packet.
const MaxFrameSize = 1 << 20

// WriteFrame writes data to w prefixed with its length as a 4-byte big-endian
// integer.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("write frame: %d bytes exceeds max frame size", len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads a 4-byte big-endian length prefix from r, then reads exactly
// that many bytes, blocking until the full frame has arrived.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds max frame size", ErrDecode, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteEnvelope encodes env and writes it to w as a single frame.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	return WriteFrame(w, encoded)
}

// ReadEnvelope reads one frame from r and decodes it as an envelope.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(data)
}

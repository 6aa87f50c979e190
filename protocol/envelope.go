package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/joaotav/malicious-network-agents/crypto"
)

// ErrDecode reports a malformed or truncated envelope or message. Decode
// failures are never fatal to the process, only to the single message being
// processed.
var ErrDecode = errors.New("malformed protocol data")

// Envelope is the wire packet exchanged between participants: a serialized
// Message plus an optional signature over exactly the payload bytes, produced
// with the sender's private key. The signature covers the payload only, never
// the envelope, so a forwarded envelope keeps its original signer's signature.
type Envelope struct {
	Payload   []byte
	Signature crypto.Signature // nil when the message is unsigned
}

// NewEnvelope wraps a serialized message and its optional signature.
func NewEnvelope(payload []byte, signature crypto.Signature) *Envelope {
	return &Envelope{Payload: payload, Signature: signature}
}

// NewSignedEnvelope signs payload with privKey and wraps both in an envelope.
func NewSignedEnvelope(payload []byte, privKey crypto.PrivateKey) (*Envelope, error) {
	signature, err := crypto.Sign(privKey, payload)
	if err != nil {
		return nil, fmt.Errorf("sign envelope payload: %w", err)
	}
	return NewEnvelope(payload, signature), nil
}

// Signed reports whether the envelope carries a signature.
func (e *Envelope) Signed() bool {
	return len(e.Signature) > 0
}

// Verify checks the envelope's signature over its payload against publicKey.
// Unsigned envelopes never verify.
func (e *Envelope) Verify(publicKey crypto.PublicKey) bool {
	if !e.Signed() {
		return false
	}
	return e.Signature.Verify(publicKey, e.Payload)
}

// Message deserializes the envelope's payload.
func (e *Envelope) Message() (*Message, error) {
	return Deserialize(e.Payload)
}

// Encode serializes the envelope into its binary wire form:
// a length-prefixed payload followed by a presence flag and, when present,
// a length-prefixed signature.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Signature) > 0xFFFF {
		return nil, fmt.Errorf("encode envelope: signature exceeds %d bytes", 0xFFFF)
	}

	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(e.Payload)))
	buf.Write(e.Payload)

	if e.Signed() {
		buf.WriteByte(1)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(len(e.Signature)))
		buf.Write(b[:])
		buf.Write(e.Signature)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// DecodeEnvelope parses an envelope from its binary wire form.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := newDecoder(data)

	payload, err := dec.lenPrefixedBytes()
	if err != nil {
		return nil, err
	}

	env := &Envelope{Payload: payload}

	flag, err := dec.uint8()
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
		// Unsigned.
	case 1:
		sigLen, err := dec.uint16()
		if err != nil {
			return nil, err
		}
		sig, err := dec.bytes(int(sigLen))
		if err != nil {
			return nil, err
		}
		env.Signature = crypto.NewSignature(sig)
	default:
		return nil, fmt.Errorf("%w: invalid signature flag %d", ErrDecode, flag)
	}

	if err := dec.finish(); err != nil {
		return nil, err
	}
	return env, nil
}

// decoder walks a byte slice and fails with ErrDecode on any short read.
type decoder struct {
	data []byte
	off  int
}

func newDecoder(data []byte) *decoder {
	return &decoder{data: data}
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.data) {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrDecode, d.off)
	}
	out := make([]byte, n)
	copy(out, d.data[d.off:d.off+n])
	d.off += n
	return out, nil
}

func (d *decoder) uint8() (uint8, error) {
	if d.off+1 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrDecode, d.off)
	}
	v := d.data[d.off]
	d.off++
	return v, nil
}

func (d *decoder) uint16() (uint16, error) {
	if d.off+2 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrDecode, d.off)
	}
	v := binary.BigEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrDecode, d.off)
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	if d.off+8 > len(d.data) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrDecode, d.off)
	}
	v := binary.BigEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) str() (string, error) {
	n, err := d.uint16()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) lenPrefixedBytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	return d.bytes(int(n))
}

// finish rejects trailing bytes so a resumed read never mis-frames.
func (d *decoder) finish() error {
	if d.off != len(d.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(d.data)-d.off)
	}
	return nil
}

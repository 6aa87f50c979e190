package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind discriminates the protocol message variants on the wire.
type Kind uint8

const (
	// KindQueryValue requests the receiving agent's value. The agent replies
	// with a signed SendValue.
	KindQueryValue Kind = iota + 1
	// KindSendValue carries an agent's reported value. Only ever sent as a
	// reply, and must be signed by the reporting agent's key.
	KindSendValue
	// KindKillAgent instructs one specific agent to shut down. Must be signed
	// by the game client's key.
	KindKillAgent
	// KindFetchValues instructs an agent to poll a set of peers on the
	// client's behalf. Must be signed by the game client's key.
	KindFetchValues
	// KindFwdValues carries the original signed SendValue envelopes an agent
	// collected from its peers, signed by the relaying agent.
	KindFwdValues
)

// String returns the message kind's wire name.
func (k Kind) String() string {
	switch k {
	case KindQueryValue:
		return "QueryValue"
	case KindSendValue:
		return "SendValue"
	case KindKillAgent:
		return "KillAgent"
	case KindFetchValues:
		return "FetchValues"
	case KindFwdValues:
		return "FwdValues"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// AgentDescriptor is the externally visible identity of an agent: everything
// a participant needs to reach the agent and verify its signatures, and
// nothing else. Descriptors are what gets persisted in the agents roster and
// shared over the wire in FetchValues; the agent's reported value is never
// part of a descriptor.
type AgentDescriptor struct {
	AgentID   uint64 `json:"agent_id"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	PublicKey string `json:"public_key"`
}

// Endpoint returns the descriptor's dialable "address:port" string.
func (d AgentDescriptor) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// Message is the tagged union of all protocol messages. Kind selects the
// variant; only the fields belonging to that variant are meaningful.
type Message struct {
	Kind Kind

	// AgentID identifies the reporting agent (SendValue, FwdValues) or the
	// addressed agent (KillAgent, FetchValues).
	AgentID uint64

	// Value is the reported value (SendValue only).
	Value uint64

	// Peers lists the agents to poll on the client's behalf (FetchValues only).
	Peers []AgentDescriptor

	// PeerValues carries forwarded reply envelopes, each retaining its
	// original signer's signature (FwdValues only).
	PeerValues []Envelope
}

// BuildQueryValue returns a serialized QueryValue message.
func BuildQueryValue() ([]byte, error) {
	return (&Message{Kind: KindQueryValue}).Serialize()
}

// BuildSendValue returns a serialized SendValue carrying agentID's reported value.
func BuildSendValue(agentID, value uint64) ([]byte, error) {
	return (&Message{Kind: KindSendValue, AgentID: agentID, Value: value}).Serialize()
}

// BuildKillAgent returns a serialized KillAgent addressed to agentID.
func BuildKillAgent(agentID uint64) ([]byte, error) {
	return (&Message{Kind: KindKillAgent, AgentID: agentID}).Serialize()
}

// BuildFetchValues returns a serialized FetchValues instructing agentID to
// poll the given peers.
func BuildFetchValues(agentID uint64, peers []AgentDescriptor) ([]byte, error) {
	return (&Message{Kind: KindFetchValues, AgentID: agentID, Peers: peers}).Serialize()
}

// BuildFwdValues returns a serialized FwdValues carrying the reply envelopes
// agentID collected from its peers.
func BuildFwdValues(agentID uint64, peerValues []Envelope) ([]byte, error) {
	return (&Message{Kind: KindFwdValues, AgentID: agentID, PeerValues: peerValues}).Serialize()
}

// Serialize encodes the message into the fixed binary wire format:
// a one-byte kind tag followed by the variant's fields in big-endian order.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))

	switch m.Kind {
	case KindQueryValue:
		// No fields.

	case KindSendValue:
		writeUint64(&buf, m.AgentID)
		writeUint64(&buf, m.Value)

	case KindKillAgent:
		writeUint64(&buf, m.AgentID)

	case KindFetchValues:
		writeUint64(&buf, m.AgentID)
		writeUint32(&buf, uint32(len(m.Peers)))
		for _, peer := range m.Peers {
			writeUint64(&buf, peer.AgentID)
			if err := writeString(&buf, peer.Address); err != nil {
				return nil, err
			}
			writeUint32(&buf, uint32(peer.Port))
			if err := writeString(&buf, peer.PublicKey); err != nil {
				return nil, err
			}
		}

	case KindFwdValues:
		writeUint64(&buf, m.AgentID)
		writeUint32(&buf, uint32(len(m.PeerValues)))
		for i := range m.PeerValues {
			encoded, err := m.PeerValues[i].Encode()
			if err != nil {
				return nil, err
			}
			writeUint32(&buf, uint32(len(encoded)))
			buf.Write(encoded)
		}

	default:
		return nil, fmt.Errorf("serialize: unknown message kind %d", m.Kind)
	}

	return buf.Bytes(), nil
}

// Deserialize decodes a message from its binary wire format. It fails with an
// ErrDecode-wrapped error on an unknown tag, truncated fields, or trailing
// bytes; such failures are local to the single message being processed.
func Deserialize(data []byte) (*Message, error) {
	dec := newDecoder(data)

	tag, err := dec.uint8()
	if err != nil {
		return nil, err
	}

	msg := &Message{Kind: Kind(tag)}

	switch msg.Kind {
	case KindQueryValue:
		// No fields.

	case KindSendValue:
		if msg.AgentID, err = dec.uint64(); err != nil {
			return nil, err
		}
		if msg.Value, err = dec.uint64(); err != nil {
			return nil, err
		}

	case KindKillAgent:
		if msg.AgentID, err = dec.uint64(); err != nil {
			return nil, err
		}

	case KindFetchValues:
		if msg.AgentID, err = dec.uint64(); err != nil {
			return nil, err
		}
		count, err := dec.uint32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			var peer AgentDescriptor
			if peer.AgentID, err = dec.uint64(); err != nil {
				return nil, err
			}
			if peer.Address, err = dec.str(); err != nil {
				return nil, err
			}
			port, err := dec.uint32()
			if err != nil {
				return nil, err
			}
			peer.Port = int(port)
			if peer.PublicKey, err = dec.str(); err != nil {
				return nil, err
			}
			msg.Peers = append(msg.Peers, peer)
		}

	case KindFwdValues:
		if msg.AgentID, err = dec.uint64(); err != nil {
			return nil, err
		}
		count, err := dec.uint32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			encoded, err := dec.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			env, err := DecodeEnvelope(encoded)
			if err != nil {
				return nil, err
			}
			msg.PeerValues = append(msg.PeerValues, *env)
		}

	default:
		return nil, fmt.Errorf("%w: unknown message tag %d", ErrDecode, tag)
	}

	if err := dec.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("serialize: string field exceeds %d bytes", 0xFFFF)
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
	return nil
}

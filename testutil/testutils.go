package testutil

import (
	"crypto/rand"
	"fmt"

	"github.com/joaotav/malicious-network-agents/crypto"
	"github.com/joaotav/malicious-network-agents/protocol"
)

// =====================================
// Crypto Generators
// =====================================

// GenerateRandomBytes generates a slice of random bytes with the specified length
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// GenerateTestKeyPair generates a test key pair for testing
func GenerateTestKeyPair() (crypto.PublicKey, crypto.PrivateKey, error) {
	return crypto.GenerateKeyPair()
}

// GenerateTestPublicKeys generates a slice of public keys for testing
func GenerateTestPublicKeys(count int) ([]crypto.PublicKey, error) {
	keys := make([]crypto.PublicKey, count)
	for i := 0; i < count; i++ {
		pubKey, _, err := GenerateTestKeyPair()
		if err != nil {
			return nil, err
		}
		keys[i] = pubKey
	}
	return keys, nil
}

// =====================================
// Descriptor Generators
// =====================================

// DescriptorOption is a function that modifies an AgentDescriptor
type DescriptorOption func(*protocol.AgentDescriptor)

// WithAgentID sets the agent id for a descriptor
func WithAgentID(id uint64) DescriptorOption {
	return func(d *protocol.AgentDescriptor) {
		d.AgentID = id
	}
}

// WithEndpoint sets the address and port for a descriptor
func WithEndpoint(address string, port int) DescriptorOption {
	return func(d *protocol.AgentDescriptor) {
		d.Address = address
		d.Port = port
	}
}

// WithPublicKey sets the recorded public key for a descriptor
func WithPublicKey(key crypto.PublicKey) DescriptorOption {
	return func(d *protocol.AgentDescriptor) {
		d.PublicKey = key.String()
	}
}

// NewTestDescriptor creates an agent descriptor with a fresh key pair and
// default endpoint that can be customized using options
func NewTestDescriptor(options ...DescriptorOption) protocol.AgentDescriptor {
	pubKey, _, _ := GenerateTestKeyPair()

	d := protocol.AgentDescriptor{
		AgentID:   1,
		Address:   "127.0.0.1",
		Port:      5000,
		PublicKey: pubKey.String(),
	}

	for _, option := range options {
		option(&d)
	}

	return d
}

// NewTestRoster creates count descriptors with sequential ids and ports,
// each holding a fresh key pair
func NewTestRoster(count int, options ...DescriptorOption) []protocol.AgentDescriptor {
	roster := make([]protocol.AgentDescriptor, count)
	for i := 0; i < count; i++ {
		opts := append([]DescriptorOption{
			WithAgentID(uint64(i + 1)),
			WithEndpoint("127.0.0.1", 5000+i),
		}, options...)
		roster[i] = NewTestDescriptor(opts...)
	}
	return roster
}

// =====================================
// Envelope Generators
// =====================================

// GenerateSignedSendValue creates a SendValue envelope signed with the given
// private key
func GenerateSignedSendValue(agentID, value uint64, privateKey crypto.PrivateKey) (*protocol.Envelope, error) {
	payload, err := protocol.BuildSendValue(agentID, value)
	if err != nil {
		return nil, fmt.Errorf("build SendValue: %w", err)
	}
	return protocol.NewSignedEnvelope(payload, privateKey)
}

// GenerateUnsignedSendValue creates a SendValue envelope carrying no
// signature, the shape a tampering relay fabricates
func GenerateUnsignedSendValue(agentID, value uint64) (*protocol.Envelope, error) {
	payload, err := protocol.BuildSendValue(agentID, value)
	if err != nil {
		return nil, fmt.Errorf("build SendValue: %w", err)
	}
	return protocol.NewEnvelope(payload, nil), nil
}

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"go.uber.org/atomic"

	"github.com/joaotav/malicious-network-agents/crypto"
	"github.com/joaotav/malicious-network-agents/protocol"
)

// Status tracks an agent's position in its lifecycle.
type Status int32

const (
	// StatusUninitialized is the state before the agent has bound its
	// listening socket and acknowledged readiness.
	StatusUninitialized Status = iota
	// StatusReady means the agent is listening and serving connections.
	StatusReady
	// StatusKilled is terminal: the accept loop has exited after an
	// authenticated kill request or listener termination.
	StatusKilled
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusReady:
		return "ready"
	case StatusKilled:
		return "killed"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Agent is one independently addressable participant of the game. It holds a
// value to report when queried, a signing key pair, and the game client's
// public key used to authenticate directives. Liar agents report a wrong
// value and may additionally tamper with values they relay on the client's
// behalf.
//
// An agent's identity fields are immutable after construction; connection
// handlers only ever read them. The status field is the single piece of
// mutable state and is updated through its atomic accessor.
type Agent struct {
	id      uint64
	value   uint64
	address string
	port    int

	pubKey  crypto.PublicKey
	privKey crypto.PrivateKey
	// clientKey is the game client's public key. KillAgent and FetchValues
	// directives must verify against it.
	clientKey crypto.PublicKey

	isLiar bool
	// tamperProbability is the per-envelope chance, in [0,1], that a liar
	// replaces a relayed value with a fabricated one.
	tamperProbability float64

	status   atomic.Int32
	shutdown chan struct{}
	stopOnce sync.Once

	log *slog.Logger
}

// NewHonest creates an agent that reports value truthfully. The id and port
// come from the orchestrator's allocators and are never reused.
func NewHonest(id uint64, address string, port int, value uint64, clientKey crypto.PublicKey, log *slog.Logger) (*Agent, error) {
	return newAgent(id, address, port, value, false, 0, clientKey, log)
}

// NewLiar creates an agent that reports an arbitrary wrong value: uniform in
// [1, maxValue] and never equal to honestValue. tamperProbability sets the
// chance that the liar corrupts each value it relays in an expert round.
func NewLiar(id uint64, address string, port int, honestValue, maxValue uint64, tamperProbability float64, clientKey crypto.PublicKey, log *slog.Logger) (*Agent, error) {
	if maxValue < 2 {
		return nil, fmt.Errorf("max value must be at least 2, got %d", maxValue)
	}
	if tamperProbability < 0 || tamperProbability > 1 {
		return nil, fmt.Errorf("tamper probability must be in [0,1], got %v", tamperProbability)
	}
	return newAgent(id, address, port, LiarValue(honestValue, maxValue), true, tamperProbability, clientKey, log)
}

func newAgent(id uint64, address string, port int, value uint64, isLiar bool, tamperProbability float64, clientKey crypto.PublicKey, log *slog.Logger) (*Agent, error) {
	pubKey, privKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate agent keys: %w", err)
	}
	if len(clientKey) == 0 {
		return nil, errors.New("missing trusted client public key")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		id:                id,
		value:             value,
		address:           address,
		port:              port,
		pubKey:            pubKey,
		privKey:           privKey,
		clientKey:         clientKey,
		isLiar:            isLiar,
		tamperProbability: tamperProbability,
		shutdown:          make(chan struct{}),
		log:               log.With("agent_id", id),
	}, nil
}

// LiarValue returns an arbitrary value in [1, maxValue] different from
// honestValue. The draw is shortened by one and shifted past honestValue,
// which skips the honest value without a theoretically unbounded
// loop-until-different retry. maxValue must be greater than 1.
func LiarValue(honestValue, maxValue uint64) uint64 {
	liarValue := rand.Uint64N(maxValue-1) + 1
	if liarValue >= honestValue {
		liarValue++
	}
	return liarValue
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() uint64 { return a.id }

// Value returns the value the agent reports when queried.
func (a *Agent) Value() uint64 { return a.value }

// Address returns the network address the agent listens on.
func (a *Agent) Address() string { return a.address }

// Port returns the network port the agent listens on.
func (a *Agent) Port() int { return a.port }

// IsLiar reports whether the agent reports a deliberately wrong value.
func (a *Agent) IsLiar() bool { return a.isLiar }

// PublicKey returns the agent's signing public key.
func (a *Agent) PublicKey() crypto.PublicKey { return a.pubKey }

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status { return Status(a.status.Load()) }

// Descriptor returns the shareable snapshot of the agent's identity: the
// fields other participants need to reach it and verify its signatures. The
// reported value is deliberately omitted; it should be obtainable only by
// querying the agent.
func (a *Agent) Descriptor() protocol.AgentDescriptor {
	return protocol.AgentDescriptor{
		AgentID:   a.id,
		Address:   a.address,
		Port:      a.port,
		PublicKey: a.pubKey.String(),
	}
}

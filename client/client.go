package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/joaotav/malicious-network-agents/crypto"
	"github.com/joaotav/malicious-network-agents/protocol"
)

// ErrAuth reports a reply that failed signature verification. The vote it
// carried is discarded; the round continues without it.
var ErrAuth = errors.New("reply authentication failed")

const (
	defaultDialTimeout = 2 * time.Second
	defaultIOTimeout   = 5 * time.Second
)

// Client is the querying side of the game. It holds the key pair used to
// sign directives, and a registry of agent descriptors that is read-only for
// the duration of a round. Every value the client accepts has been verified
// against the reporting agent's recorded public key, so a dishonest relay
// cannot forge another agent's vote.
type Client struct {
	pubKey  crypto.PublicKey
	privKey crypto.PrivateKey

	mu    sync.RWMutex
	peers []protocol.AgentDescriptor

	dialTimeout time.Duration
	ioTimeout   time.Duration

	log *slog.Logger
}

// New creates a client with a fresh signing key pair and an empty peer
// registry.
func New(log *slog.Logger) (*Client, error) {
	pubKey, privKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate client keys: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		pubKey:      pubKey,
		privKey:     privKey,
		dialTimeout: defaultDialTimeout,
		ioTimeout:   defaultIOTimeout,
		log:         log,
	}, nil
}

// PublicKey returns the client's signing public key. Agents are created with
// this key as their trusted directive signer.
func (c *Client) PublicKey() crypto.PublicKey {
	return c.pubKey
}

// SetPeers replaces the client's peer registry. Rounds treat the registry as
// read-only, so this must not be called while a round is in flight.
func (c *Client) SetPeers(peers []protocol.AgentDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make([]protocol.AgentDescriptor, len(peers))
	copy(c.peers, peers)
}

// LoadRoster reads a JSON roster file and installs the descriptors it holds
// as the client's peer registry.
func (c *Client) LoadRoster(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	var peers []protocol.AgentDescriptor
	if err := json.Unmarshal(data, &peers); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}
	c.SetPeers(peers)
	return nil
}

// Peers returns a copy of the client's peer registry.
func (c *Client) Peers() []protocol.AgentDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers := make([]protocol.AgentDescriptor, len(c.peers))
	copy(peers, c.peers)
	return peers
}

// QueryStandardRound queries every registered peer directly and concurrently
// for its value. A reply only counts if it decodes to a SendValue and its
// signature verifies against the queried peer's recorded public key; any
// network, decode, or authentication failure is logged and simply costs that
// peer its vote. The round completes with however many valid votes arrived,
// possibly zero.
func (c *Client) QueryStandardRound(ctx context.Context) []uint64 {
	peers := c.Peers()
	results := make(chan uint64, len(peers))

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer protocol.AgentDescriptor) {
			defer wg.Done()
			value, err := c.queryValue(ctx, peer)
			if err != nil {
				c.log.Warn("peer contributed no vote", "peer_id", peer.AgentID, "endpoint", peer.Endpoint(), "err", err)
				return
			}
			results <- value
		}(peer)
	}
	wg.Wait()
	close(results)

	values := make([]uint64, 0, len(peers))
	for value := range results {
		values = append(values, value)
	}
	return values
}

// queryValue performs one query exchange against a single peer.
func (c *Client) queryValue(ctx context.Context, peer protocol.AgentDescriptor) (uint64, error) {
	peerKey, err := crypto.NewPublicKeyFromString(peer.PublicKey)
	if err != nil {
		return 0, fmt.Errorf("invalid recorded public key: %w", err)
	}

	payload, err := protocol.BuildQueryValue()
	if err != nil {
		return 0, err
	}

	reply, err := c.exchange(ctx, peer.Endpoint(), payload)
	if err != nil {
		return 0, err
	}

	msg, err := reply.Message()
	if err != nil {
		return 0, err
	}
	if msg.Kind != protocol.KindSendValue {
		return 0, fmt.Errorf("expected SendValue, received %s", msg.Kind)
	}

	// The signature is checked against the key recorded in the registry,
	// never against anything carried on the wire.
	if !reply.Verify(peerKey) {
		return 0, fmt.Errorf("%w: SendValue not signed by peer %d", ErrAuth, peer.AgentID)
	}

	return msg.Value, nil
}

// vote is one authenticated (reporter, value) pair collected in a round.
type vote struct {
	agentID uint64
	value   uint64
}

// QueryExpertRound reaches the whole population through the given subset of
// directly queried relays. Each relay receives a signed FetchValues naming
// the full peer registry and answers with a FwdValues of collected reply
// envelopes. The outer envelope must verify against the relay's recorded
// key; each inner envelope must verify against the original reporter's
// recorded key, looked up by the id embedded in the forwarded SendValue.
// Relays overlap in what they reach, so votes are deduplicated by
// (agentID, value) before counting; tampered or unsigned inner values fail
// verification and are dropped.
func (c *Client) QueryExpertRound(ctx context.Context, subset []protocol.AgentDescriptor) []uint64 {
	peers := c.Peers()

	keysByID := make(map[uint64]crypto.PublicKey, len(peers))
	for _, peer := range peers {
		key, err := crypto.NewPublicKeyFromString(peer.PublicKey)
		if err != nil {
			c.log.Warn("skipping peer with invalid recorded public key", "peer_id", peer.AgentID, "err", err)
			continue
		}
		keysByID[peer.AgentID] = key
	}

	results := make(chan []vote, len(subset))

	var wg sync.WaitGroup
	for _, relay := range subset {
		wg.Add(1)
		go func(relay protocol.AgentDescriptor) {
			defer wg.Done()
			votes, err := c.fetchValues(ctx, relay, peers, keysByID)
			if err != nil {
				c.log.Warn("relay contributed no votes", "relay_id", relay.AgentID, "endpoint", relay.Endpoint(), "err", err)
				return
			}
			results <- votes
		}(relay)
	}
	wg.Wait()
	close(results)

	unique := make(map[vote]struct{})
	for votes := range results {
		for _, v := range votes {
			unique[v] = struct{}{}
		}
	}

	values := make([]uint64, 0, len(unique))
	for v := range unique {
		values = append(values, v.value)
	}
	return values
}

// fetchValues performs one FetchValues exchange against a relay and returns
// the authenticated votes extracted from its FwdValues reply.
func (c *Client) fetchValues(ctx context.Context, relay protocol.AgentDescriptor, peers []protocol.AgentDescriptor, keysByID map[uint64]crypto.PublicKey) ([]vote, error) {
	relayKey, err := crypto.NewPublicKeyFromString(relay.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid recorded public key: %w", err)
	}

	payload, err := protocol.BuildFetchValues(relay.AgentID, peers)
	if err != nil {
		return nil, err
	}

	reply, err := c.exchange(ctx, relay.Endpoint(), payload)
	if err != nil {
		return nil, err
	}

	msg, err := reply.Message()
	if err != nil {
		return nil, err
	}
	if msg.Kind != protocol.KindFwdValues {
		return nil, fmt.Errorf("expected FwdValues, received %s", msg.Kind)
	}

	// The relay's signature authenticates who forwarded, not what is true.
	// Each inner vote is verified against its own reporter's key below.
	if !reply.Verify(relayKey) {
		return nil, fmt.Errorf("%w: FwdValues not signed by relay %d", ErrAuth, relay.AgentID)
	}

	votes := make([]vote, 0, len(msg.PeerValues))
	for i := range msg.PeerValues {
		inner := msg.PeerValues[i]

		innerMsg, err := inner.Message()
		if err != nil {
			c.log.Debug("dropping undecodable forwarded envelope", "relay_id", relay.AgentID, "err", err)
			continue
		}
		if innerMsg.Kind != protocol.KindSendValue {
			c.log.Debug("dropping forwarded non-SendValue", "relay_id", relay.AgentID, "kind", innerMsg.Kind)
			continue
		}

		reporterKey, known := keysByID[innerMsg.AgentID]
		if !known {
			c.log.Debug("dropping vote from unknown agent", "relay_id", relay.AgentID, "agent_id", innerMsg.AgentID)
			continue
		}
		if !inner.Verify(reporterKey) {
			c.log.Debug("dropping vote with invalid signature", "relay_id", relay.AgentID, "agent_id", innerMsg.AgentID)
			continue
		}

		votes = append(votes, vote{agentID: innerMsg.AgentID, value: innerMsg.Value})
	}
	return votes, nil
}

// KillAgent sends a signed KillAgent directive to one agent. The directive
// expects no reply; a connection or send failure is returned to the caller
// so it can decide whether to retry or clean up.
func (c *Client) KillAgent(ctx context.Context, agentID uint64, address string, port int) error {
	payload, err := protocol.BuildKillAgent(agentID)
	if err != nil {
		return err
	}

	env, err := protocol.NewSignedEnvelope(payload, c.privKey)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx, fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return fmt.Errorf("unable to reach agent %d: %w", agentID, err)
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(c.ioTimeout))

	if err := protocol.WriteEnvelope(conn, env); err != nil {
		return fmt.Errorf("unable to reach agent %d: %w", agentID, err)
	}
	return nil
}

// InferNetworkValue returns the value(s) reported most often in a round.
// The result holds a single element when one value has a strict plurality,
// every tied value when the top count is shared, and nothing when no votes
// arrived at all.
func InferNetworkValue(values []uint64) []uint64 {
	if len(values) == 0 {
		return nil
	}

	counts := make(map[uint64]int, len(values))
	top := 0
	for _, value := range values {
		counts[value]++
		if counts[value] > top {
			top = counts[value]
		}
	}

	inferred := make([]uint64, 0, 1)
	for value, count := range counts {
		if count == top {
			inferred = append(inferred, value)
		}
	}
	return inferred
}

// exchange signs payload, performs a single request/reply round against
// endpoint, and returns the raw reply envelope.
func (c *Client) exchange(ctx context.Context, endpoint string, payload []byte) (*protocol.Envelope, error) {
	env, err := protocol.NewSignedEnvelope(payload, c.privKey)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.ioTimeout))

	if err := protocol.WriteEnvelope(conn, env); err != nil {
		return nil, err
	}
	return protocol.ReadEnvelope(conn)
}

func (c *Client) dial(ctx context.Context, endpoint string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	return dialer.DialContext(ctx, "tcp", endpoint)
}

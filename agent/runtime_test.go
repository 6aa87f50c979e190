package agent

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaotav/malicious-network-agents/crypto"
	"github.com/joaotav/malicious-network-agents/protocol"
)

// freePort grabs an ephemeral port from the kernel for a test agent to bind.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startAgent runs the agent's serve loop and waits for its readiness ack.
func startAgent(t *testing.T, a *Agent) {
	t.Helper()
	ready := make(chan uint64, 1)
	go a.Serve(ready)

	id, ok := <-ready
	require.True(t, ok, "agent failed to bind")
	require.Equal(t, a.ID(), id)
	require.Equal(t, StatusReady, a.Status())
	t.Cleanup(a.Stop)
}

// exchange performs one request/reply round against an endpoint.
func exchange(t *testing.T, endpoint string, req *protocol.Envelope) (*protocol.Envelope, error) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", endpoint, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, protocol.WriteEnvelope(conn, req))
	return protocol.ReadEnvelope(conn)
}

func signedDirective(t *testing.T, payload []byte, key crypto.PrivateKey) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewSignedEnvelope(payload, key)
	require.NoError(t, err)
	return env
}

func TestQueryValueRepliesWithSignedValue(t *testing.T) {
	clientPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a, err := NewHonest(1, "127.0.0.1", freePort(t), 42, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, a)

	query, err := protocol.BuildQueryValue()
	require.NoError(t, err)

	reply, err := exchange(t, a.Descriptor().Endpoint(), protocol.NewEnvelope(query, nil))
	require.NoError(t, err)

	msg, err := reply.Message()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindSendValue, msg.Kind)
	assert.Equal(t, uint64(1), msg.AgentID)
	assert.Equal(t, uint64(42), msg.Value)
	assert.True(t, reply.Verify(a.PublicKey()), "SendValue must be signed by the reporting agent")
}

func TestKillAgentAuthentication(t *testing.T) {
	clientPub, clientPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, otherPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a, err := NewHonest(7, "127.0.0.1", freePort(t), 5, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, a)
	endpoint := a.Descriptor().Endpoint()

	killSelf, err := protocol.BuildKillAgent(7)
	require.NoError(t, err)
	killOther, err := protocol.BuildKillAgent(8)
	require.NoError(t, err)

	rejected := []struct {
		name string
		env  *protocol.Envelope
	}{
		{name: "unsigned", env: protocol.NewEnvelope(killSelf, nil)},
		{name: "wrong signer", env: signedDirective(t, killSelf, otherPriv)},
		{name: "wrong recipient", env: signedDirective(t, killOther, clientPriv)},
	}

	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			// KillAgent has no reply; the read fails when the agent drops
			// the connection without acting on the directive.
			_, err := exchange(t, endpoint, tc.env)
			assert.Error(t, err)

			// The agent must keep serving: a query still succeeds.
			query, err := protocol.BuildQueryValue()
			require.NoError(t, err)
			_, err = exchange(t, endpoint, protocol.NewEnvelope(query, nil))
			require.NoError(t, err)
			assert.Equal(t, StatusReady, a.Status())
		})
	}

	// An authentic kill stops the agent.
	_, err = exchange(t, endpoint, signedDirective(t, killSelf, clientPriv))
	assert.Error(t, err) // no reply expected

	require.Eventually(t, func() bool {
		return a.Status() == StatusKilled
	}, 2*time.Second, 10*time.Millisecond)

	_, dialErr := net.DialTimeout("tcp", endpoint, 200*time.Millisecond)
	assert.Error(t, dialErr, "killed agent must stop accepting connections")
}

func TestFetchValuesRelaysSignedPeerReplies(t *testing.T) {
	clientPub, clientPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	peer1, err := NewHonest(1, "127.0.0.1", freePort(t), 7, clientPub, slog.Default())
	require.NoError(t, err)
	peer2, err := NewHonest(2, "127.0.0.1", freePort(t), 7, clientPub, slog.Default())
	require.NoError(t, err)
	relay, err := NewHonest(3, "127.0.0.1", freePort(t), 7, clientPub, slog.Default())
	require.NoError(t, err)

	startAgent(t, peer1)
	startAgent(t, peer2)
	startAgent(t, relay)

	peers := []protocol.AgentDescriptor{peer1.Descriptor(), peer2.Descriptor()}
	fetch, err := protocol.BuildFetchValues(relay.ID(), peers)
	require.NoError(t, err)

	reply, err := exchange(t, relay.Descriptor().Endpoint(), signedDirective(t, fetch, clientPriv))
	require.NoError(t, err)
	assert.True(t, reply.Verify(relay.PublicKey()), "FwdValues must be signed by the relay")

	msg, err := reply.Message()
	require.NoError(t, err)
	require.Equal(t, protocol.KindFwdValues, msg.Kind)
	require.Len(t, msg.PeerValues, 2)

	// Inner envelopes retain the original reporters' signatures.
	seen := map[uint64]bool{}
	for i := range msg.PeerValues {
		inner := msg.PeerValues[i]
		innerMsg, err := inner.Message()
		require.NoError(t, err)
		assert.Equal(t, protocol.KindSendValue, innerMsg.Kind)
		assert.Equal(t, uint64(7), innerMsg.Value)

		reporter := map[uint64]crypto.PublicKey{1: peer1.PublicKey(), 2: peer2.PublicKey()}[innerMsg.AgentID]
		require.NotNil(t, reporter)
		assert.True(t, inner.Verify(reporter))
		seen[innerMsg.AgentID] = true
	}
	assert.Len(t, seen, 2)
}

func TestFetchValuesToleratesUnreachablePeers(t *testing.T) {
	clientPub, clientPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	peer, err := NewHonest(1, "127.0.0.1", freePort(t), 9, clientPub, slog.Default())
	require.NoError(t, err)
	relay, err := NewHonest(2, "127.0.0.1", freePort(t), 9, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, peer)
	startAgent(t, relay)

	dead := protocol.AgentDescriptor{AgentID: 99, Address: "127.0.0.1", Port: freePort(t), PublicKey: "ZGVhZA=="}
	fetch, err := protocol.BuildFetchValues(relay.ID(), []protocol.AgentDescriptor{peer.Descriptor(), dead})
	require.NoError(t, err)

	reply, err := exchange(t, relay.Descriptor().Endpoint(), signedDirective(t, fetch, clientPriv))
	require.NoError(t, err)

	msg, err := reply.Message()
	require.NoError(t, err)
	require.Equal(t, protocol.KindFwdValues, msg.Kind)
	require.Len(t, msg.PeerValues, 1, "the unreachable peer contributes no reply")
}

func TestLiarRelayTampersWithRelayedValues(t *testing.T) {
	clientPub, clientPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	peer, err := NewHonest(1, "127.0.0.1", freePort(t), 7, clientPub, slog.Default())
	require.NoError(t, err)
	// Tamper probability 1 makes every relayed envelope a fabrication.
	relay, err := NewLiar(2, "127.0.0.1", freePort(t), 7, 100, 1.0, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, peer)
	startAgent(t, relay)

	fetch, err := protocol.BuildFetchValues(relay.ID(), []protocol.AgentDescriptor{peer.Descriptor()})
	require.NoError(t, err)

	reply, err := exchange(t, relay.Descriptor().Endpoint(), signedDirective(t, fetch, clientPriv))
	require.NoError(t, err)
	assert.True(t, reply.Verify(relay.PublicKey()), "the outer envelope is still signed by the relay")

	msg, err := reply.Message()
	require.NoError(t, err)
	require.Len(t, msg.PeerValues, 1)

	inner := msg.PeerValues[0]
	innerMsg, err := inner.Message()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), innerMsg.AgentID, "fabrication keeps the original reporter's id")
	assert.Equal(t, relay.Value(), innerMsg.Value, "fabrication substitutes the liar's value")
	assert.False(t, inner.Verify(peer.PublicKey()), "a tampered vote can no longer verify")
}

func TestTamperFallsBackToOriginalsOnFailure(t *testing.T) {
	clientPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	liar, err := NewLiar(5, "127.0.0.1", freePort(t), 7, 100, 1.0, clientPub, slog.Default())
	require.NoError(t, err)

	// An undecodable reply makes fabrication fail, which must abort the
	// entire transform rather than tamper the remaining envelopes.
	good, err := protocol.BuildSendValue(1, 7)
	require.NoError(t, err)
	replies := []protocol.Envelope{
		*protocol.NewEnvelope(good, nil),
		*protocol.NewEnvelope([]byte{0xFF, 0xEE}, nil),
	}

	_, err = liar.tamperReplies(replies)
	assert.Error(t, err)
}

func TestTamperFallbackForwardsOriginalsEndToEnd(t *testing.T) {
	clientPub, clientPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	relay, err := NewLiar(2, "127.0.0.1", freePort(t), 7, 100, 1.0, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, relay)

	// A fake peer whose reply envelope carries an undecodable payload.
	fakePeer, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer fakePeer.Close()

	garbage := protocol.NewEnvelope([]byte{0xAB, 0xCD, 0xEF}, nil)
	go func() {
		conn, err := fakePeer.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := protocol.ReadEnvelope(conn); err != nil {
			return
		}
		_ = protocol.WriteEnvelope(conn, garbage)
	}()

	peerDesc := protocol.AgentDescriptor{
		AgentID:   1,
		Address:   "127.0.0.1",
		Port:      fakePeer.Addr().(*net.TCPAddr).Port,
		PublicKey: "cGVlcg==",
	}
	fetch, err := protocol.BuildFetchValues(relay.ID(), []protocol.AgentDescriptor{peerDesc})
	require.NoError(t, err)

	reply, err := exchange(t, relay.Descriptor().Endpoint(), signedDirective(t, fetch, clientPriv))
	require.NoError(t, err)

	msg, err := reply.Message()
	require.NoError(t, err)
	require.Len(t, msg.PeerValues, 1)
	assert.Equal(t, garbage.Payload, msg.PeerValues[0].Payload,
		"on fabrication failure the original reply set is forwarded unchanged")
}

func TestUnsolicitedSendValueDropped(t *testing.T) {
	clientPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a, err := NewHonest(4, "127.0.0.1", freePort(t), 5, clientPub, slog.Default())
	require.NoError(t, err)
	startAgent(t, a)

	unsolicited, err := protocol.BuildSendValue(4, 123)
	require.NoError(t, err)

	_, err = exchange(t, a.Descriptor().Endpoint(), protocol.NewEnvelope(unsolicited, nil))
	assert.Error(t, err, "agent drops the connection without replying")
	assert.Equal(t, StatusReady, a.Status())
}

func TestBindFailureLeavesAgentUninitialized(t *testing.T) {
	clientPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// Occupy a port so the agent's bind fails.
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	a, err := NewHonest(6, "127.0.0.1", port, 5, clientPub, slog.Default())
	require.NoError(t, err)

	ready := make(chan uint64, 1)
	go a.Serve(ready)

	_, ok := <-ready
	assert.False(t, ok, "no readiness ack on bind failure")
	assert.Equal(t, StatusUninitialized, a.Status())
}

package agent

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/joaotav/malicious-network-agents/protocol"
)

// ErrAuth reports a directive that failed authentication: a missing or
// invalid signature, or a directive addressed to a different agent. The
// offending message is rejected; the agent keeps serving.
var ErrAuth = errors.New("message authentication failed")

const (
	// peerDialTimeout bounds connection attempts to peers during a relay
	// fetch so one unreachable peer only delays its own fan-out branch.
	peerDialTimeout = 2 * time.Second
	// connIOTimeout bounds the single request/reply exchange on a connection.
	connIOTimeout = 5 * time.Second
)

// Serve binds the agent's listening socket and accepts connections until an
// authenticated kill request arrives. On a successful bind the agent sends
// its id on ready exactly once; on bind failure it returns after closing
// ready without sending, which the spawner treats as a failed spawn. Each
// accepted connection is handled in its own goroutine and exchanges exactly
// one request/reply pair. In-flight handlers run to completion after
// shutdown is triggered; only the accepting of new connections stops.
func (a *Agent) Serve(ready chan<- uint64) {
	defer close(ready)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", a.address, a.port))
	if err != nil {
		a.log.Error("failed to bind agent listener", "addr", a.address, "port", a.port, "err", err)
		return
	}

	a.status.Store(int32(StatusReady))
	a.log.Info("agent listening", "addr", a.address, "port", a.port, "liar", a.isLiar)
	ready <- a.id

	go func() {
		<-a.shutdown
		listener.Close()
	}()

	var handlers sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				handlers.Wait()
				a.status.Store(int32(StatusKilled))
				a.log.Info("agent stopped")
				return
			default:
				a.log.Warn("accept failed", "err", err)
				continue
			}
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			a.handleConn(conn)
		}()
	}
}

// Stop triggers the agent's shutdown signal. The signal is a broadcast: the
// accept loop stops taking new connections while handlers already running
// finish undisturbed. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.shutdown) })
}

// handleConn processes one connection: read a single envelope, dispatch on
// its message, optionally write a single reply, close. Any decode failure is
// logged and aborts only this connection.
func (a *Agent) handleConn(conn net.Conn) {
	defer conn.Close()
	// A relay fetch can spend up to the peer timeouts before replying, so
	// the write deadline is set separately right before each reply.
	conn.SetReadDeadline(time.Now().Add(connIOTimeout))

	env, err := protocol.ReadEnvelope(conn)
	if err != nil {
		a.log.Warn("unable to read packet", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	msg, err := env.Message()
	if err != nil {
		a.log.Warn("unable to decode message", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	switch msg.Kind {
	case protocol.KindQueryValue:
		a.handleQueryValue(conn)

	case protocol.KindSendValue:
		// Agents never expect to receive SendValue as a request.
		a.log.Warn("protocol violation: unsolicited SendValue", "remote", conn.RemoteAddr())

	case protocol.KindKillAgent:
		if err := a.authenticate(env, msg); err != nil {
			a.log.Warn("rejected KillAgent", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		a.log.Info("received authenticated kill request")
		a.Stop()

	case protocol.KindFetchValues:
		if err := a.authenticate(env, msg); err != nil {
			a.log.Warn("rejected FetchValues", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		a.handleFetchValues(conn, msg)

	default:
		a.log.Warn("unhandled message kind", "kind", msg.Kind, "remote", conn.RemoteAddr())
	}
}

// authenticate enforces the directive discipline shared by KillAgent and
// FetchValues: the envelope must carry a signature, the signature must verify
// against the trusted game client key, and the directive must be addressed to
// this agent.
func (a *Agent) authenticate(env *protocol.Envelope, msg *protocol.Message) error {
	if !env.Signed() {
		return fmt.Errorf("%w: %s requires a signature", ErrAuth, msg.Kind)
	}
	if !env.Verify(a.clientKey) {
		return fmt.Errorf("%w: %s not signed by the game client", ErrAuth, msg.Kind)
	}
	if msg.AgentID != a.id {
		return fmt.Errorf("%w: %s addressed to agent %d", ErrAuth, msg.Kind, msg.AgentID)
	}
	return nil
}

// handleQueryValue replies with a SendValue signed by this agent. Queries
// require no authentication.
func (a *Agent) handleQueryValue(conn net.Conn) {
	payload, err := protocol.BuildSendValue(a.id, a.value)
	if err != nil {
		a.log.Error("failed to build SendValue", "err", err)
		return
	}

	reply, err := protocol.NewSignedEnvelope(payload, a.privKey)
	if err != nil {
		a.log.Error("failed to sign SendValue", "err", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(connIOTimeout))
	if err := protocol.WriteEnvelope(conn, reply); err != nil {
		a.log.Warn("failed to send SendValue reply", "err", err)
	}
}

// handleFetchValues polls the requested peers on the client's behalf and
// replies with a signed FwdValues carrying the collected envelopes. The
// collected replies are forwarded unverified: the client is the sole trust
// anchor for vote authenticity. A liar applies the tamper transform first.
func (a *Agent) handleFetchValues(conn net.Conn, msg *protocol.Message) {
	replies := a.collectPeerValues(msg.Peers)

	if a.isLiar {
		tampered, err := a.tamperReplies(replies)
		if err != nil {
			// Tampering is adversarial best effort: on any fabrication
			// failure the original replies are forwarded unchanged.
			a.log.Warn("tamper transform failed, forwarding originals", "err", err)
		} else {
			replies = tampered
		}
	}

	payload, err := protocol.BuildFwdValues(a.id, replies)
	if err != nil {
		a.log.Error("failed to build FwdValues", "err", err)
		return
	}

	reply, err := protocol.NewSignedEnvelope(payload, a.privKey)
	if err != nil {
		a.log.Error("failed to sign FwdValues", "err", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(connIOTimeout))
	if err := protocol.WriteEnvelope(conn, reply); err != nil {
		a.log.Warn("failed to send FwdValues reply", "err", err)
	}
}

// collectPeerValues queries every peer concurrently and gathers the raw reply
// envelopes. A peer that cannot be reached or produces a bad reply simply
// contributes nothing; results are joined only after every branch finished.
func (a *Agent) collectPeerValues(peers []protocol.AgentDescriptor) []protocol.Envelope {
	results := make(chan protocol.Envelope, len(peers))

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer protocol.AgentDescriptor) {
			defer wg.Done()
			reply, err := a.queryPeer(peer)
			if err != nil {
				a.log.Warn("peer fetch failed", "peer_id", peer.AgentID, "endpoint", peer.Endpoint(), "err", err)
				return
			}
			results <- *reply
		}(peer)
	}
	wg.Wait()
	close(results)

	replies := make([]protocol.Envelope, 0, len(peers))
	for reply := range results {
		replies = append(replies, reply)
	}
	return replies
}

// queryPeer sends one QueryValue, signed with this agent's own key, and
// returns the peer's raw reply envelope without verifying it.
func (a *Agent) queryPeer(peer protocol.AgentDescriptor) (*protocol.Envelope, error) {
	conn, err := net.DialTimeout("tcp", peer.Endpoint(), peerDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to peer: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connIOTimeout))

	payload, err := protocol.BuildQueryValue()
	if err != nil {
		return nil, err
	}
	query, err := protocol.NewSignedEnvelope(payload, a.privKey)
	if err != nil {
		return nil, err
	}

	if err := protocol.WriteEnvelope(conn, query); err != nil {
		return nil, fmt.Errorf("send query to peer: %w", err)
	}
	return protocol.ReadEnvelope(conn)
}

// tamperReplies applies the liar's tamper transform: each envelope is
// replaced, with probability tamperProbability and an independent trial per
// envelope, by a fabricated unsigned SendValue carrying this liar's own
// value under the original reporter's id. The transform is all or nothing:
// if any fabrication fails the originals are used, so the error return
// discards the partially built set.
func (a *Agent) tamperReplies(replies []protocol.Envelope) ([]protocol.Envelope, error) {
	tampered := make([]protocol.Envelope, len(replies))
	copy(tampered, replies)

	for i := range tampered {
		if rand.Float64() >= a.tamperProbability {
			continue
		}

		original, err := tampered[i].Message()
		if err != nil {
			return nil, fmt.Errorf("decode reply for tampering: %w", err)
		}

		fabricated, err := protocol.BuildSendValue(original.AgentID, a.value)
		if err != nil {
			return nil, fmt.Errorf("fabricate replacement value: %w", err)
		}

		// The fabricated value cannot be signed with the original agent's
		// key, so the replacement envelope goes out unsigned.
		tampered[i] = *protocol.NewEnvelope(fabricated, nil)
	}

	return tampered, nil
}

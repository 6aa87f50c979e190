// Package protocol defines the wire vocabulary of the game: the tagged set of
// messages exchanged between the client and agents, the signed envelope that
// wraps them, and the length-prefixed framing used on a stream socket.
//
// # Wire format
//
// Each request and each reply is one frame on a TCP connection:
//
//	[4-byte big-endian length][binary-encoded Envelope]
//
// An Envelope carries a serialized Message and an optional Ed25519 signature
// over exactly the payload bytes. The Message encoding is a fixed, versionless
// tagged encoding: a one-byte kind discriminant followed by the variant's
// fields in big-endian order, with length-prefixed strings and lists. Every
// variant round-trips losslessly and every field is length-delimited, so a
// resumed read never mis-frames.
//
// # Messages
//
//   - QueryValue: request for an agent's value; no fields.
//   - SendValue: an agent's reply, signed by the reporting agent.
//   - KillAgent: client directive to shut one agent down, signed by the client.
//   - FetchValues: client directive to poll a peer list on its behalf, signed
//     by the client.
//   - FwdValues: the relay's reply to FetchValues, signed by the relaying
//     agent and carrying the original, untouched SendValue envelopes it
//     collected. Inner envelopes keep their original signers' signatures, so
//     vote authenticity is always verified against the reporting agent's key,
//     never the relay's.
//
// # Known limitation
//
// Messages carry no nonce or timestamp, so the protocol offers no replay
// protection: a captured SendValue or FetchValues envelope could be replayed
// by an observer.
package protocol

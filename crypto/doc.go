// Package crypto provides the signing primitives used to authenticate game traffic.
//
// Every participant of the game, the client and each agent alike, owns an
// Ed25519 key pair generated at creation time. Signatures produced with these
// keys authenticate protocol messages end to end:
//
//   - Agents sign the values they report so a dishonest relay cannot forge
//     another agent's vote.
//   - The game client signs directives (kill, fetch) so agents only act on
//     requests from the single trusted client key.
//
// Keys and signatures are raw byte slices wrapped in named types, with base64
// as the transport encoding so keys can be embedded in the JSON agent roster.
// Signing and verification always operate over the serialized message bytes,
// never over the wire envelope, which keeps signatures valid when a message is
// forwarded through an untrusted relay hop.
package crypto

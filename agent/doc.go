// Package agent implements the game's value-reporting participants.
//
// An agent listens on its own TCP port and serves one request/reply exchange
// per connection. Honest agents report the game value; liars report an
// arbitrary wrong value and, when relaying other agents' answers during an
// expert round, may probabilistically tamper with the relayed values.
//
// The lifecycle is Uninitialized -> Ready -> Killed. Ready is entered only
// after the listening socket is bound and the agent has acknowledged
// readiness to its spawner; Killed is terminal and reached through an
// authenticated kill request. Directives that affect the agent (KillAgent,
// FetchValues) must be signed by the single trusted game client key and
// addressed to the agent's own id; everything else is rejected without side
// effects.
package agent

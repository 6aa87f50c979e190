/*
Package testutil provides test data generators for the agent network.

The generators cover the fixtures most tests need: key pairs, agent
descriptors, and signed or unsigned reply envelopes. Descriptors use the
option-function pattern so a test states only what it cares about:

	// A descriptor with defaults
	desc := testutil.NewTestDescriptor()

	// A descriptor posing as agent 7 on a specific port
	desc := testutil.NewTestDescriptor(
	    testutil.WithAgentID(7),
	    testutil.WithEndpoint("127.0.0.1", 6001),
	)

	// A full roster of 5 agents with sequential ids and ports
	roster := testutil.NewTestRoster(5)

Envelope generators build the two reply shapes that matter for
authentication tests, a properly signed SendValue and the unsigned
fabrication a tampering relay produces.
*/
package testutil

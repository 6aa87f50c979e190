package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaotav/malicious-network-agents/crypto"
)

func TestMessageRoundTrip(t *testing.T) {
	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sendValue, err := BuildSendValue(7, 42)
	require.NoError(t, err)
	signedInner, err := NewSignedEnvelope(sendValue, privKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "query value",
			msg:  &Message{Kind: KindQueryValue},
		},
		{
			name: "send value",
			msg:  &Message{Kind: KindSendValue, AgentID: 3, Value: 99},
		},
		{
			name: "kill agent",
			msg:  &Message{Kind: KindKillAgent, AgentID: 12},
		},
		{
			name: "fetch values",
			msg: &Message{
				Kind:    KindFetchValues,
				AgentID: 4,
				Peers: []AgentDescriptor{
					{AgentID: 1, Address: "127.0.0.1", Port: 5000, PublicKey: "a2V5MQ=="},
					{AgentID: 2, Address: "127.0.0.1", Port: 5001, PublicKey: "a2V5Mg=="},
				},
			},
		},
		{
			name: "fwd values",
			msg: &Message{
				Kind:       KindFwdValues,
				AgentID:    4,
				PeerValues: []Envelope{*signedInner, {Payload: sendValue}},
			},
		},
		{
			name: "fwd values empty",
			msg:  &Message{Kind: KindFwdValues, AgentID: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Serialize()
			require.NoError(t, err)

			decoded, err := Deserialize(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDeserializeRejectsMalformedInput(t *testing.T) {
	valid, err := BuildSendValue(1, 2)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "unknown tag", data: []byte{0xAB}},
		{name: "truncated fields", data: valid[:len(valid)-3]},
		{name: "trailing bytes", data: append(append([]byte{}, valid...), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestBuildersProduceExpectedVariant(t *testing.T) {
	peers := []AgentDescriptor{{AgentID: 9, Address: "127.0.0.1", Port: 5009, PublicKey: "cGs="}}

	query, err := BuildQueryValue()
	require.NoError(t, err)
	fetch, err := BuildFetchValues(9, peers)
	require.NoError(t, err)
	kill, err := BuildKillAgent(9)
	require.NoError(t, err)

	queryMsg, err := Deserialize(query)
	require.NoError(t, err)
	assert.Equal(t, KindQueryValue, queryMsg.Kind)

	fetchMsg, err := Deserialize(fetch)
	require.NoError(t, err)
	assert.Equal(t, KindFetchValues, fetchMsg.Kind)
	assert.Equal(t, peers, fetchMsg.Peers)

	killMsg, err := Deserialize(kill)
	require.NoError(t, err)
	assert.Equal(t, KindKillAgent, killMsg.Kind)
	assert.Equal(t, uint64(9), killMsg.AgentID)
}

func TestDescriptorEndpoint(t *testing.T) {
	d := AgentDescriptor{AgentID: 1, Address: "127.0.0.1", Port: 5000}
	assert.Equal(t, "127.0.0.1:5000", d.Endpoint())
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtrnv/roommix/internal/domain"
)

func TestParseServer(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Message
	}{
		{"hello", "HELLO", Message{Kind: KindHello}},
		{"room ok", "ROOM_OK 3 5", Message{Kind: KindRoomOK, Peers: []domain.PeerID{3, 5}}},
		{"room ok empty", "ROOM_OK", Message{Kind: KindRoomOK}},
		{"room ok trailing space", "ROOM_OK ", Message{Kind: KindRoomOK}},
		{"joined", "ROOM_PEER_JOINED 42", Message{Kind: KindPeerJoined, PeerID: 42}},
		{"left", "ROOM_PEER_LEFT 42", Message{Kind: KindPeerLeft, PeerID: 42}},
		{"error", "ERROR not authorized", Message{Kind: KindError, Text: "not authorized"}},
		{"error bare", "ERROR", Message{Kind: KindError}},
		{"unknown verb", "SERVER_INFO something", Message{Kind: KindUnknown, Text: "SERVER_INFO something"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseServer(c.line)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParseServerPeerMsg(t *testing.T) {
	got, err := ParseServer(`ROOM_PEER_MSG 7 {"ice":{"candidate":"candidate:0 1 UDP","sdpMLineIndex":2}}`)
	require.NoError(t, err)
	assert.Equal(t, KindPeerMsg, got.Kind)
	assert.Equal(t, domain.PeerID(7), got.PeerID)
	require.NotNil(t, got.Payload.ICE)
	assert.Equal(t, "candidate:0 1 UDP", got.Payload.ICE.Candidate)
	assert.Equal(t, uint32(2), got.Payload.ICE.SDPMLineIndex)

	got, err = ParseServer(`ROOM_PEER_MSG 7 {"sdp":{"type":"offer","sdp":"v=0\r\n"}}`)
	require.NoError(t, err)
	require.NotNil(t, got.Payload.SDP)
	assert.Equal(t, SDPOffer, got.Payload.SDP.Type)
	assert.Equal(t, "v=0\r\n", got.Payload.SDP.SDP)
}

func TestParseServerMalformed(t *testing.T) {
	lines := []string{
		"ROOM_PEER_JOINED nope",
		"ROOM_PEER_LEFT -1",
		"ROOM_PEER_MSG 7",
		"ROOM_PEER_MSG x {}",
		"ROOM_PEER_MSG 7 not-json",
		`ROOM_PEER_MSG 7 {}`,
		`ROOM_PEER_MSG 7 {"sdp":{"type":"offer","sdp":"x"},"ice":{"candidate":"y","sdpMLineIndex":0}}`,
		`ROOM_PEER_MSG 7 {"sdp":{"type":"pranswer","sdp":"x"}}`,
		"ROOM_OK 3 x 5",
	}
	for _, line := range lines {
		_, err := ParseServer(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ice := Envelope{ICE: &ICE{Candidate: "candidate:1 1 UDP 2013266431", SDPMLineIndex: 1}}
	data, err := EncodeEnvelope(ice)
	require.NoError(t, err)
	back, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, ice, back)

	sdp := Envelope{SDP: &SDP{Type: SDPAnswer, SDP: "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\n"}}
	data, err = EncodeEnvelope(sdp)
	require.NoError(t, err)
	back, err = DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, sdp, back)
}

func TestFormatPeerMsg(t *testing.T) {
	line, err := FormatPeerMsg(9, Envelope{SDP: &SDP{Type: SDPOffer, SDP: "v=0"}})
	require.NoError(t, err)
	assert.Equal(t, `ROOM_PEER_MSG 9 {"sdp":{"type":"offer","sdp":"v=0"}}`, line)

	_, err = FormatPeerMsg(9, Envelope{})
	assert.Error(t, err)
}

func TestFormatClientLines(t *testing.T) {
	assert.Equal(t, "HELLO 123", FormatHello(123))
	assert.Equal(t, "ROOM 7", FormatJoin("7"))
}

package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// SDPKind discriminates the two session-description directions.
type SDPKind string

const (
	SDPOffer  SDPKind = "offer"
	SDPAnswer SDPKind = "answer"
)

// SDP is the session-description half of the negotiation payload.
type SDP struct {
	Type SDPKind `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICE is the candidate half of the negotiation payload.
type ICE struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex uint32 `json:"sdpMLineIndex"`
}

// Envelope is the JSON body of a ROOM_PEER_MSG line: a tagged union
// carrying exactly one of an SDP or an ICE candidate.
type Envelope struct {
	SDP *SDP `json:"sdp,omitempty"`
	ICE *ICE `json:"ice,omitempty"`
}

// EncodeEnvelope marshals an envelope, rejecting malformed unions so a
// bad emission never reaches the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if err := validateEnvelope(env); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses and validates a negotiation payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "parse negotiation payload")
	}
	if err := validateEnvelope(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validateEnvelope(env Envelope) error {
	switch {
	case env.SDP == nil && env.ICE == nil:
		return errors.New("negotiation payload carries neither sdp nor ice")
	case env.SDP != nil && env.ICE != nil:
		return errors.New("negotiation payload carries both sdp and ice")
	case env.SDP != nil && env.SDP.Type != SDPOffer && env.SDP.Type != SDPAnswer:
		return errors.Errorf("unknown sdp type %q", env.SDP.Type)
	}
	return nil
}

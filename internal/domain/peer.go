// Package domain contains entity without logic, just meta-data
package domain

import "strconv"

// PeerID is the room-unique identifier of one participant.
// The signaling server hands these out as unsigned decimal strings.
type PeerID uint32

func (id PeerID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParsePeerID parses the decimal form used on the wire.
func ParsePeerID(s string) (PeerID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return PeerID(v), nil
}

// NegotiationState tracks where one peer is in the offer/answer exchange.
// There is no way back to Idle; a re-join creates a fresh peer.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateNegotiated
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer_sent"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswerSent:
		return "answer_sent"
	case StateNegotiated:
		return "negotiated"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

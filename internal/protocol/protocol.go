// Package protocol implements the line-oriented room signaling protocol
// and the JSON negotiation payloads embedded in ROOM_PEER_MSG lines.
package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/dtrnv/roommix/internal/domain"
)

// Kind classifies one server-to-client signaling line.
type Kind int

const (
	// KindUnknown is a well-formed line we don't care about. Ignored.
	KindUnknown Kind = iota
	KindHello
	KindRoomOK
	KindPeerJoined
	KindPeerLeft
	KindPeerMsg
	KindError
)

// Message is one decoded server line.
type Message struct {
	Kind    Kind
	PeerID  domain.PeerID   // PeerJoined, PeerLeft, PeerMsg
	Peers   []domain.PeerID // RoomOK
	Payload Envelope        // PeerMsg
	Text    string          // Error
}

// ParseServer decodes one line received from the signaling server.
// Unknown verbs yield KindUnknown with a nil error; malformed arguments
// of known verbs yield an error (protocol-error category, caller drops).
func ParseServer(line string) (Message, error) {
	switch {
	case line == "HELLO":
		return Message{Kind: KindHello}, nil

	case line == "ROOM_OK" || strings.HasPrefix(line, "ROOM_OK "):
		rest := strings.TrimPrefix(line, "ROOM_OK")
		var peers []domain.PeerID
		for _, f := range strings.Fields(rest) {
			id, err := domain.ParsePeerID(f)
			if err != nil {
				return Message{}, errors.Wrapf(err, "bad peer id %q in ROOM_OK", f)
			}
			peers = append(peers, id)
		}
		return Message{Kind: KindRoomOK, Peers: peers}, nil

	case strings.HasPrefix(line, "ROOM_PEER_JOINED "):
		id, err := domain.ParsePeerID(strings.TrimSpace(line[len("ROOM_PEER_JOINED "):]))
		if err != nil {
			return Message{}, errors.Wrap(err, "bad ROOM_PEER_JOINED id")
		}
		return Message{Kind: KindPeerJoined, PeerID: id}, nil

	case strings.HasPrefix(line, "ROOM_PEER_LEFT "):
		id, err := domain.ParsePeerID(strings.TrimSpace(line[len("ROOM_PEER_LEFT "):]))
		if err != nil {
			return Message{}, errors.Wrap(err, "bad ROOM_PEER_LEFT id")
		}
		return Message{Kind: KindPeerLeft, PeerID: id}, nil

	case strings.HasPrefix(line, "ROOM_PEER_MSG "):
		rest := line[len("ROOM_PEER_MSG "):]
		idStr, body, ok := strings.Cut(rest, " ")
		if !ok {
			return Message{}, errors.New("ROOM_PEER_MSG without payload")
		}
		id, err := domain.ParsePeerID(idStr)
		if err != nil {
			return Message{}, errors.Wrap(err, "bad ROOM_PEER_MSG id")
		}
		env, err := DecodeEnvelope([]byte(body))
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindPeerMsg, PeerID: id, Payload: env}, nil

	case line == "ERROR" || strings.HasPrefix(line, "ERROR "):
		return Message{Kind: KindError, Text: strings.TrimPrefix(strings.TrimPrefix(line, "ERROR"), " ")}, nil
	}

	return Message{Kind: KindUnknown, Text: line}, nil
}

// FormatHello builds the registration line sent right after connecting.
func FormatHello(id domain.PeerID) string {
	return fmt.Sprintf("HELLO %s", id)
}

// FormatJoin builds the room-join request line.
func FormatJoin(room string) string {
	return fmt.Sprintf("ROOM %s", room)
}

// FormatPeerMsg builds an outbound negotiation line addressed to id.
func FormatPeerMsg(id domain.PeerID, env Envelope) (string, error) {
	body, err := EncodeEnvelope(env)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ROOM_PEER_MSG %s %s", id, body), nil
}

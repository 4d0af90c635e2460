package signal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
	"github.com/dtrnv/roommix/internal/domain"
	"github.com/dtrnv/roommix/internal/protocol"
)

// JoinRoom runs the registration handshake over an already-dialed
// transport: HELLO <id>, wait for HELLO, ROOM <room>, wait for ROOM_OK.
// It returns the ids of the members already in the room.
func JoinRoom(ctx context.Context, t core.SignalTransport, ourID domain.PeerID, room string) ([]domain.PeerID, error) {
	logger := log.With().Str("module", "adapters.signal").Logger()

	if err := t.Send(core.Frame(protocol.FormatHello(ourID))); err != nil {
		return nil, errors.Wrap(err, "send HELLO")
	}
	msg, err := nextMessage(ctx, t)
	if err != nil {
		return nil, err
	}
	if msg.Kind != protocol.KindHello {
		return nil, errors.Errorf("server didn't say HELLO: %q", msg.Text)
	}
	logger.Info().Str("id", ourID.String()).Msg("registered with server")

	if err := t.Send(core.Frame(protocol.FormatJoin(room))); err != nil {
		return nil, errors.Wrap(err, "send ROOM")
	}
	msg, err = nextMessage(ctx, t)
	if err != nil {
		return nil, err
	}
	if msg.Kind != protocol.KindRoomOK {
		return nil, errors.Errorf("room join rejected: %q", msg.Text)
	}
	logger.Info().Str("room", room).Int("members", len(msg.Peers)).Msg("joined room")
	return msg.Peers, nil
}

func nextMessage(ctx context.Context, t core.SignalTransport) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case f, ok := <-t.Incoming():
		if !ok {
			if err := t.Err(); err != nil {
				return protocol.Message{}, err
			}
			return protocol.Message{}, errors.New("connection closed during handshake")
		}
		return protocol.ParseServer(string(f))
	}
}

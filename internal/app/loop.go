package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
)

// Run is the event multiplexer: a single goroutine interleaving inbound
// signaling, graph status events and outbound-message dispatch. Go's
// select gives uniform pseudo-random choice between ready sources, so
// none can starve another.
//
// It returns nil on a clean transport close or when every source is
// exhausted, and an error on a fatal graph event, a transport failure
// or a server ERROR line. Nothing below this loop ever terminates the
// process.
func Run(ctx context.Context, s *Session, t core.SignalTransport, events <-chan core.Event, outbound <-chan core.Frame) error {
	logger := log.With().Str("module", "app.loop").Logger()
	incoming := t.Incoming()

	for {
		if incoming == nil && events == nil && outbound == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-incoming:
			if !ok {
				if err := t.Err(); err != nil {
					return err
				}
				logger.Info().Msg("signaling connection closed")
				return nil
			}
			if err := s.HandleSignaling(string(f)); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.HandleGraphEvent(ev); err != nil {
				return err
			}

		case f, ok := <-outbound:
			if !ok {
				outbound = nil
				continue
			}
			if err := t.Send(f); err != nil {
				return err
			}
		}
	}
}

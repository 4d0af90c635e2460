// Package signal is the client side of the room signaling protocol: a
// gorilla/websocket connection wrapped in read/write pumps, plus the
// HELLO/ROOM join handshake.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
)

// ErrBackpressure is returned by Send when the write queue is full.
// The multiplexer treats it as a transport failure: a signaling
// connection that cannot drain is as good as dead.
var ErrBackpressure = errors.New("signal send queue full")

var ErrClosed = errors.New("signal transport closed")

const (
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	sendQueueSize = 32
)

// Transport is a core.SignalTransport over one websocket connection.
// Ping/pong/close control frames never leave this layer.
type Transport struct {
	conn *websocket.Conn
	log  zerolog.Logger

	incoming chan core.Frame
	send     chan core.Frame

	errMu sync.Mutex
	err   error

	done chan struct{}
	once sync.Once
}

// Dial connects to the signaling server and starts the pumps.
func Dial(ctx context.Context, serverURL string, pingPeriod time.Duration) (*Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", serverURL)
	}

	t := &Transport{
		conn:     conn,
		log:      log.With().Str("module", "adapters.signal").Logger(),
		incoming: make(chan core.Frame, sendQueueSize),
		send:     make(chan core.Frame, sendQueueSize),
		done:     make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// gorilla answers pings with pongs by default; just keep the
	// deadline moving.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeDeadline))
	})

	go t.readPump()
	go t.writePump(pingPeriod)
	return t, nil
}

func (t *Transport) Incoming() <-chan core.Frame { return t.incoming }

// Send enqueues one frame; it never blocks the caller.
func (t *Transport) Send(f core.Frame) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// Err reports why Incoming closed; nil means the server closed cleanly.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *Transport) Close() {
	t.shutdown(nil)
}

func (t *Transport) shutdown(err error) {
	t.once.Do(func() {
		if err != nil {
			t.errMu.Lock()
			t.err = err
			t.errMu.Unlock()
		}
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *Transport) readPump() {
	defer close(t.incoming)
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Info().Msg("server closed connection")
				t.shutdown(nil)
			} else {
				select {
				case <-t.done:
					// local Close raced the read; not a failure
				default:
					t.shutdown(errors.Wrap(err, "signal read"))
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case t.incoming <- core.Frame(data):
		case <-t.done:
			return
		}
	}
}

func (t *Transport) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case f := <-t.send:
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				t.shutdown(errors.Wrap(err, "set write deadline"))
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				t.shutdown(errors.Wrap(err, "signal write"))
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				t.shutdown(errors.Wrap(err, "signal ping"))
				return
			}
		}
	}
}

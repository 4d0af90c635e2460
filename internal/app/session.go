package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/config"
	"github.com/dtrnv/roommix/internal/core"
	"github.com/dtrnv/roommix/internal/domain"
	"github.com/dtrnv/roommix/internal/layout"
	"github.com/dtrnv/roommix/internal/protocol"
)

// ErrPeerExists is returned by AddPeer for a duplicate identifier.
var ErrPeerExists = errors.New("peer already present")

// RequiredKinds are the element kinds the session's graph descriptions
// rely on. The bootstrap probes them before anything else runs.
var RequiredKinds = []string{
	"audiotestsrc", "videotestsrc", "tee", "queue",
	"audiomixer", "compositor", "decodebin",
	"fakesink", "autoaudiosink", "autovideosink", "webrtcbin",
}

// Per-peer subgraph: two inbound queues feeding the negotiation
// endpoint. Its boundary pads are ghosted in AddPeer.
const peerBinDesc = "queue name=audio-queue ! webrtcbin. " +
	"queue name=video-queue ! webrtcbin. " +
	"webrtcbin name=webrtcbin"

// sharedGraphDesc is the process-wide pipeline: our own test signals
// duplicated through tees towards every peer, and mixers compositing
// everything we receive. sink_0 of each mixer is a fixed background
// input that never counts towards the layout.
func sharedGraphDesc(width, height int) string {
	return fmt.Sprintf(
		"audiotestsrc wave=ticks is-live=true ! tee name=audio-tee ! queue ! fakesink "+
			"videotestsrc is-live=true ! tee name=video-tee ! queue ! fakesink "+
			"audiomixer name=audio-mixer sink_0::mute=true ! autoaudiosink "+
			"audiotestsrc wave=silence is-live=true ! audio-mixer. "+
			"compositor name=video-mixer background=black width=%d height=%d sink_0::alpha=0.0 ! autovideosink "+
			"videotestsrc pattern=black ! video-mixer.",
		width, height)
}

// Session is the process-wide registry: the shared fan-out/fan-in
// elements, the peer table and the outbound-message channel. Peers are
// created and destroyed only through it.
type Session struct {
	engine   core.Engine
	graph    core.Graph
	audioTee core.Element
	videoTee core.Element
	audioMix core.Element
	videoMix core.Element

	width, height int
	stun, turn    string

	outbound chan core.Frame
	log      zerolog.Logger

	mu    sync.Mutex
	peers map[domain.PeerID]*Peer
}

// NewSession builds and starts the shared graph. A graph that cannot be
// constructed is unrecoverable and aborts startup.
func NewSession(cfg *config.Config, engine core.Engine) (*Session, <-chan core.Event, <-chan core.Frame, error) {
	graph, err := engine.NewGraph(sharedGraphDesc(cfg.VideoWidth, cfg.VideoHeight))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build shared graph: %w", err)
	}

	s := &Session{
		engine:   engine,
		graph:    graph,
		width:    cfg.VideoWidth,
		height:   cfg.VideoHeight,
		stun:     cfg.StunServer,
		turn:     cfg.TurnServer,
		outbound: make(chan core.Frame, cfg.SendBuffer),
		log:      log.With().Str("module", "app.session").Logger(),
		peers:    make(map[domain.PeerID]*Peer),
	}

	for name, dst := range map[string]*core.Element{
		"audio-tee":   &s.audioTee,
		"video-tee":   &s.videoTee,
		"audio-mixer": &s.audioMix,
		"video-mixer": &s.videoMix,
	} {
		el := graph.ByName(name)
		if el == nil {
			return nil, nil, nil, fmt.Errorf("shared graph missing %s", name)
		}
		*dst = el
	}

	if err := graph.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start shared graph: %w", err)
	}
	s.log.Info().Int("width", cfg.VideoWidth).Int("height", cfg.VideoHeight).Msg("shared graph running")

	return s, graph.Events(), s.outbound, nil
}

// AddPeer creates the peer's subgraph, wires the engine callbacks into
// it, inserts it into the table and attaches it to the shared tees.
func (s *Session) AddPeer(id domain.PeerID, initiateOffer bool) error {
	s.mu.Lock()
	if _, ok := s.peers[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("peer %s: %w", id, ErrPeerExists)
	}
	s.mu.Unlock()

	s.log.Info().Str("peer", id.String()).Bool("initiate", initiateOffer).Msg("adding peer")

	bin, err := s.engine.NewSubgraph(peerBinDesc)
	if err != nil {
		return fmt.Errorf("build peer subgraph: %w", err)
	}
	wb := bin.ByName("webrtcbin")
	if wb == nil {
		return errors.New("peer subgraph missing webrtcbin")
	}
	neg, ok := wb.(core.Negotiator)
	if !ok {
		return errors.New("webrtcbin element cannot negotiate")
	}

	if err := wb.Set("stun-server", s.stun); err != nil {
		return fmt.Errorf("configure stun: %w", err)
	}
	if err := wb.Set("turn-server", s.turn); err != nil {
		return fmt.Errorf("configure turn: %w", err)
	}
	if err := wb.Set("bundle-policy", "max-bundle"); err != nil {
		return fmt.Errorf("configure bundle policy: %w", err)
	}

	for port, elem := range map[string]string{
		"audio_sink": "audio-queue",
		"video_sink": "video-queue",
	} {
		q := bin.ByName(elem)
		if q == nil {
			return fmt.Errorf("peer subgraph missing %s", elem)
		}
		if err := bin.AddPad(port, q.StaticPad("sink")); err != nil {
			return fmt.Errorf("expose %s: %w", port, err)
		}
	}

	p := newPeer(id, s, bin, neg)

	s.mu.Lock()
	if _, ok := s.peers[id]; ok {
		s.mu.Unlock()
		bin.Stop()
		return fmt.Errorf("peer %s: %w", id, ErrPeerExists)
	}
	s.peers[id] = p
	s.mu.Unlock()

	// Route engine-raised events into the new peer. The liveness check
	// inside each handler turns late callbacks for a removed peer into
	// no-ops.
	bin.OnPadAdded(func(pad core.Pad) { s.onPeerOutput(p, pad) })
	neg.OnICECandidate(p.onICECandidate)
	neg.OnIncomingPad(p.onIncomingStream)
	if initiateOffer {
		neg.OnNegotiationNeeded(p.onNegotiationNeeded)
	}

	if err := s.graph.Add(bin); err != nil {
		s.evict(p)
		bin.Stop()
		return fmt.Errorf("add peer subgraph: %w", err)
	}
	if err := s.attach(p); err != nil {
		s.evict(p)
		_ = s.graph.Remove(bin)
		bin.Stop()
		return fmt.Errorf("attach peer subgraph: %w", err)
	}
	return nil
}

// attach runs the safe-attach protocol against both tees: block the
// fresh tee output, link it, bring the subgraph up asynchronously and
// only then unblock. The new subgraph never sees data before it is
// ready, and nothing is dropped between link and unblock.
func (s *Session) attach(p *Peer) error {
	audioSrc, err := s.audioTee.RequestPad("src_%u")
	if err != nil {
		return err
	}
	videoSrc, err := s.videoTee.RequestPad("src_%u")
	if err != nil {
		return err
	}

	audioBlock := audioSrc.Block()
	videoBlock := videoSrc.Block()

	if err := audioSrc.Link(p.bin.Pad("audio_sink")); err != nil {
		return err
	}
	if err := videoSrc.Link(p.bin.Pad("video_sink")); err != nil {
		return err
	}

	p.bin.Sync(func(err error) {
		if err != nil {
			p.bin.PostError(fmt.Errorf("start peer subgraph: %w", err))
		}
		audioSrc.Unblock(audioBlock)
		videoSrc.Unblock(videoBlock)
	})
	return nil
}

// onPeerOutput attaches a freshly exposed peer output port to the
// matching mixer. Only the branch being connected is ever stalled.
func (s *Session) onPeerOutput(p *Peer, pad core.Pad) {
	var mixer core.Element
	switch pad.Name() {
	case "audio_src":
		mixer = s.audioMix
	case "video_src":
		mixer = s.videoMix
	default:
		return
	}

	block := pad.Block()
	sink, err := mixer.RequestPad("sink_%u")
	if err != nil {
		pad.Unblock(block)
		p.bin.PostError(fmt.Errorf("request mixer input: %w", err))
		return
	}
	if err := pad.Link(sink); err != nil {
		pad.Unblock(block)
		p.bin.PostError(fmt.Errorf("link mixer input: %w", err))
		return
	}
	pad.Unblock(block)

	if pad.Name() == "video_src" {
		s.relayoutVideo()
	}
}

// RemovePeer detaches and destroys the identified peer. Absent ids are
// a no-op: removal must be idempotent against races with the server.
func (s *Session) RemovePeer(id domain.PeerID) error {
	s.mu.Lock()
	p, ok := s.peers[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.peers, id)
	s.mu.Unlock()

	s.detach(p)
	_ = s.graph.Remove(p.bin)
	p.bin.Stop()
	s.log.Info().Str("peer", id.String()).Msg("removed peer")
	return nil
}

// detach runs the safe-detach protocol: block the tee inputs and the
// occupied mixer inputs, unlink the subgraph from both sides, release
// the request pads, unblock. Video detach triggers a relayout once the
// slot is back with the engine.
func (s *Session) detach(p *Peer) {
	audioBlock := s.audioTee.StaticPad("sink").Block()
	videoBlock := s.videoTee.StaticPad("sink").Block()

	s.unlinkTee(s.audioTee, p.bin.Pad("audio_sink"))
	s.unlinkTee(s.videoTee, p.bin.Pad("video_sink"))

	s.audioTee.StaticPad("sink").Unblock(audioBlock)
	s.videoTee.StaticPad("sink").Unblock(videoBlock)

	s.releaseMixerInput(s.audioMix, p.bin.Pad("audio_src"))
	if s.releaseMixerInput(s.videoMix, p.bin.Pad("video_src")) {
		s.relayoutVideo()
	}
}

func (s *Session) unlinkTee(tee core.Element, sink core.Pad) {
	if sink == nil {
		return
	}
	src := sink.Peer()
	if src == nil {
		return
	}
	_ = src.Unlink(sink)
	tee.ReleasePad(src)
}

func (s *Session) releaseMixerInput(mixer core.Element, src core.Pad) bool {
	if src == nil {
		return false
	}
	sink := src.Peer()
	if sink == nil {
		return false
	}
	block := sink.Block()
	_ = src.Unlink(sink)
	mixer.ReleasePad(sink)
	sink.Unblock(block)
	return true
}

// relayoutVideo reapplies the grid geometry to every occupied mixer
// input. Called on every video fan-in connection-count change.
func (s *Session) relayoutVideo() {
	pads := s.videoMix.SinkPads()
	if len(pads) == 0 {
		return
	}
	pads = pads[1:] // the fixed background input stays where it is
	if len(pads) == 0 {
		return
	}

	tiles := layout.Tiles(len(pads), s.width, s.height)
	for i, pad := range pads {
		t := tiles[i]
		_ = pad.Set("xpos", t.X)
		_ = pad.Set("ypos", t.Y)
		_ = pad.Set("width", t.W)
		_ = pad.Set("height", t.H)
	}
	cols, rows := layout.Grid(len(pads))
	s.log.Info().Int("streams", len(pads)).Int("cols", cols).Int("rows", rows).Msg("relayout video mixer")
}

// HandleSignaling routes one inbound line. Only an ERROR line (or a
// media-graph failure during peer setup) escapes as an error; malformed
// lines and peer-state violations are logged and dropped.
func (s *Session) HandleSignaling(line string) error {
	msg, err := protocol.ParseServer(line)
	if err != nil {
		s.log.Warn().Err(err).Str("line", line).Msg("dropping malformed signaling line")
		return nil
	}

	switch msg.Kind {
	case protocol.KindError:
		return fmt.Errorf("server error: %s", msg.Text)

	case protocol.KindPeerJoined:
		err := s.AddPeer(msg.PeerID, false)
		if errors.Is(err, ErrPeerExists) {
			s.log.Warn().Str("peer", msg.PeerID.String()).Msg("duplicate join, ignored")
			return nil
		}
		return err

	case protocol.KindPeerLeft:
		return s.RemovePeer(msg.PeerID)

	case protocol.KindPeerMsg:
		s.mu.Lock()
		p := s.peers[msg.PeerID]
		s.mu.Unlock()
		if p == nil {
			s.log.Warn().Str("peer", msg.PeerID.String()).Msg("message for unknown peer, dropped")
			return nil
		}
		if msg.Payload.SDP != nil {
			p.HandleSDP(msg.Payload.SDP)
		} else {
			p.HandleICE(msg.Payload.ICE)
		}
	}
	// HELLO/ROOM_OK replays and unknown verbs: nothing to do mid-session.
	return nil
}

// HandleGraphEvent maps engine status events to the error policy:
// errors are fatal, warnings are logged and dropped.
func (s *Session) HandleGraphEvent(ev core.Event) error {
	if ev.Kind == core.EventError {
		err := ev.Err
		if err == nil {
			err = errors.New(ev.Detail)
		}
		return fmt.Errorf("pipeline error from %s: %w", ev.Source, err)
	}
	s.log.Warn().Str("source", ev.Source).Str("detail", ev.Detail).Msg("pipeline warning")
	return nil
}

// peerAlive reports whether this exact Peer still owns its table slot.
// Continuations resolving after removal check this and become no-ops.
func (s *Session) peerAlive(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[p.id] == p
}

// PeerStat is the read-only per-peer view served by the status endpoint.
type PeerStat struct {
	ID    domain.PeerID `json:"id"`
	State string        `json:"state"`
}

// Snapshot lists current peers sorted by id.
func (s *Session) Snapshot() []PeerStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerStat, 0, len(s.peers))
	for id, p := range s.peers {
		out = append(out, PeerStat{ID: id, State: p.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VideoGrid reports the current composite grid, background excluded.
func (s *Session) VideoGrid() (cols, rows int) {
	n := len(s.videoMix.SinkPads()) - 1
	if n < 0 {
		n = 0
	}
	return layout.Grid(n)
}

func (s *Session) evict(p *Peer) {
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()
}

// Close stops the shared graph, tearing down whatever subgraphs remain.
func (s *Session) Close() {
	s.graph.Stop()
}

package app

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
	"github.com/dtrnv/roommix/internal/domain"
	"github.com/dtrnv/roommix/internal/protocol"
)

// decode-and-normalize chain built per incoming stream. The queue named
// src is the boundary the mixer side links against.
const convDesc = "decodebin name=dbin ! queue name=src"

// Peer holds the negotiation state and private media subgraph of one
// remote participant. Created and destroyed exclusively by the Session;
// it reaches shared state only through the non-owning session handle.
type Peer struct {
	id       domain.PeerID
	session  *Session
	bin      core.Subgraph
	neg      core.Negotiator
	outbound chan<- core.Frame
	log      zerolog.Logger

	mu    sync.Mutex
	state domain.NegotiationState
}

func newPeer(id domain.PeerID, s *Session, bin core.Subgraph, neg core.Negotiator) *Peer {
	return &Peer{
		id:       id,
		session:  s,
		bin:      bin,
		neg:      neg,
		outbound: s.outbound,
		log:      log.With().Str("module", "app.peer").Str("peer", id.String()).Logger(),
	}
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) State() domain.NegotiationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(st domain.NegotiationState) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

// fail marks the peer Failed and raises a structural error on the graph
// bus. The multiplexer treats that as fatal for the whole process: the
// engine has no partial-failure recovery for a corrupted subgraph.
func (p *Peer) fail(err error) {
	p.log.Error().Err(err).Msg("peer negotiation failed")
	p.setState(domain.StateFailed)
	p.bin.PostError(err)
}

// emit queues an outbound negotiation message addressed to this peer.
func (p *Peer) emit(env protocol.Envelope) {
	line, err := protocol.FormatPeerMsg(p.id, env)
	if err != nil {
		p.log.Error().Err(err).Msg("dropping unencodable message")
		return
	}
	p.outbound <- core.Frame(line)
}

// onNegotiationNeeded is armed only when this side initiates. It asks
// the engine for an offer and sends it once the engine resolves.
func (p *Peer) onNegotiationNeeded() {
	if !p.session.peerAlive(p) {
		return
	}
	p.log.Info().Msg("starting negotiation")
	p.neg.CreateOffer(func(desc core.SessionDescription, err error) {
		if !p.session.peerAlive(p) {
			return
		}
		if err != nil {
			p.fail(errors.Wrap(err, "create offer"))
			return
		}
		if err := p.neg.SetLocalDescription(desc); err != nil {
			p.fail(errors.Wrap(err, "set local offer"))
			return
		}
		p.setState(domain.StateOfferSent)
		p.emit(protocol.Envelope{SDP: &protocol.SDP{Type: protocol.SDPOffer, SDP: desc.SDP}})
	})
}

// onICECandidate relays a locally discovered candidate to the peer.
func (p *Peer) onICECandidate(candidate string, mlineIndex uint32) {
	if !p.session.peerAlive(p) {
		return
	}
	p.emit(protocol.Envelope{ICE: &protocol.ICE{Candidate: candidate, SDPMLineIndex: mlineIndex}})
}

// HandleSDP processes an inbound offer or answer for this peer.
func (p *Peer) HandleSDP(msg *protocol.SDP) {
	switch msg.Type {
	case protocol.SDPAnswer:
		p.handleAnswer(msg.SDP)
	case protocol.SDPOffer:
		p.handleOffer(msg.SDP)
	}
}

func (p *Peer) handleAnswer(sdp string) {
	p.mu.Lock()
	if p.state != domain.StateOfferSent {
		st := p.state
		p.mu.Unlock()
		// Protocol error, not ours to die over. The engine state is
		// left untouched.
		p.log.Warn().Stringer("state", st).Msg("answer received in unexpected state, dropped")
		return
	}
	p.mu.Unlock()

	if err := p.neg.SetRemoteDescription(core.SessionDescription{Kind: "answer", SDP: sdp}); err != nil {
		p.fail(errors.Wrap(err, "set remote answer"))
		return
	}
	p.setState(domain.StateNegotiated)
	p.log.Info().Msg("negotiated")
}

func (p *Peer) handleOffer(sdp string) {
	p.mu.Lock()
	if p.state == domain.StateFailed {
		p.mu.Unlock()
		p.log.Warn().Msg("offer for failed peer, dropped")
		return
	}
	p.state = domain.StateOfferReceived
	p.mu.Unlock()

	// The subgraph has to be running before the engine can produce an
	// answer, so the rest happens from the sync continuation.
	p.bin.Sync(func(err error) {
		if !p.session.peerAlive(p) {
			return
		}
		if err != nil {
			p.fail(errors.Wrap(err, "start subgraph for answer"))
			return
		}
		if err := p.neg.SetRemoteDescription(core.SessionDescription{Kind: "offer", SDP: sdp}); err != nil {
			p.fail(errors.Wrap(err, "set remote offer"))
			return
		}
		p.neg.CreateAnswer(func(desc core.SessionDescription, err error) {
			if !p.session.peerAlive(p) {
				return
			}
			if err != nil {
				p.fail(errors.Wrap(err, "create answer"))
				return
			}
			if err := p.neg.SetLocalDescription(desc); err != nil {
				p.fail(errors.Wrap(err, "set local answer"))
				return
			}
			p.setState(domain.StateAnswerSent)
			p.emit(protocol.Envelope{SDP: &protocol.SDP{Type: protocol.SDPAnswer, SDP: desc.SDP}})
			p.setState(domain.StateNegotiated)
			p.log.Info().Msg("negotiated")
		})
	})
}

// HandleICE forwards a remote candidate to the engine unconditionally;
// the engine owns any buffering before a remote description exists.
// Failure to add is non-fatal.
func (p *Peer) HandleICE(msg *protocol.ICE) {
	if err := p.neg.AddICECandidate(msg.Candidate, msg.SDPMLineIndex); err != nil {
		p.log.Warn().Err(err).Msg("add ice candidate failed")
	}
}

// onIncomingStream fires when the remote side starts sending a track.
// It builds a decode-and-normalize subgraph for the stream's kind and
// exposes its output as a named port on the peer bin, which in turn
// triggers the session's mixer attach.
func (p *Peer) onIncomingStream(pad core.Pad) {
	if pad.Direction() != core.DirSrc {
		return
	}
	if !p.session.peerAlive(p) {
		return
	}

	var portName string
	switch pad.Kind() {
	case core.KindAudio:
		portName = "audio_src"
	case core.KindVideo:
		portName = "video_src"
	default:
		p.log.Info().Str("pad", pad.Name()).Msg("unknown media kind, ignoring stream")
		return
	}

	conv, err := p.session.engine.NewSubgraph(convDesc)
	if err != nil {
		p.fail(errors.Wrap(err, "build decode subgraph"))
		return
	}
	dbin := conv.ByName("dbin")
	srcEl := conv.ByName("src")
	if dbin == nil || srcEl == nil {
		p.fail(errors.New("decode subgraph missing elements"))
		return
	}
	if err := conv.AddPad("sink", dbin.StaticPad("sink")); err != nil {
		p.fail(errors.Wrap(err, "expose decode sink"))
		return
	}
	if err := conv.AddPad("src", srcEl.StaticPad("src")); err != nil {
		p.fail(errors.Wrap(err, "expose decode src"))
		return
	}
	if err := p.bin.Add(conv); err != nil {
		p.fail(errors.Wrap(err, "nest decode subgraph"))
		return
	}

	conv.Sync(func(err error) {
		if !p.session.peerAlive(p) {
			return
		}
		if err != nil {
			p.fail(errors.Wrap(err, "start decode subgraph"))
			return
		}
		if err := pad.Link(conv.Pad("sink")); err != nil {
			p.fail(errors.Wrapf(err, "link %s stream", pad.Kind()))
			return
		}
		if err := p.bin.AddPad(portName, conv.Pad("src")); err != nil {
			p.fail(errors.Wrapf(err, "expose %s", portName))
			return
		}
		p.log.Info().Stringer("kind", pad.Kind()).Msg("incoming stream attached")
	})
}

package rtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/dtrnv/roommix/internal/core"
)

// parkCap bounds how many packets a blocked pad holds; beyond it the
// oldest parked packet is dropped.
const parkCap = 64

// linkable is the engine-internal face of a pad: linking bookkeeping
// and packet delivery. Both concrete and ghost pads implement it.
type linkable interface {
	core.Pad
	setPeer(p core.Pad)
	deliver(pkt *rtp.Packet)
}

type pad struct {
	name string
	dir  core.PadDirection
	kind core.MediaKind
	// recv consumes packets arriving at a sink pad; nil on src pads.
	recv func(in *pad, pkt *rtp.Packet)

	mu       sync.Mutex
	peer     core.Pad
	probes   map[core.ProbeID]struct{}
	probeSeq core.ProbeID
	parked   []*rtp.Packet
	props    map[string]any
}

func newPad(name string, dir core.PadDirection, kind core.MediaKind, recv func(*pad, *rtp.Packet)) *pad {
	return &pad{
		name:   name,
		dir:    dir,
		kind:   kind,
		recv:   recv,
		probes: make(map[core.ProbeID]struct{}),
		props:  make(map[string]any),
	}
}

func (p *pad) Name() string                 { return p.name }
func (p *pad) Direction() core.PadDirection { return p.dir }
func (p *pad) Kind() core.MediaKind         { return p.kind }

func (p *pad) Peer() core.Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *pad) setPeer(other core.Pad) {
	p.mu.Lock()
	p.peer = other
	p.mu.Unlock()
}

func (p *pad) Link(sink core.Pad) error {
	if p.dir != core.DirSrc {
		return errors.Errorf("pad %s is not a src pad", p.name)
	}
	target, ok := sink.(linkable)
	if !ok || sink.Direction() != core.DirSink {
		return errors.Errorf("cannot link %s to %s", p.name, sink.Name())
	}
	p.mu.Lock()
	if p.peer != nil {
		p.mu.Unlock()
		return errors.Errorf("pad %s already linked", p.name)
	}
	p.peer = sink
	p.mu.Unlock()
	target.setPeer(p)
	return nil
}

func (p *pad) Unlink(sink core.Pad) error {
	p.mu.Lock()
	if p.peer != sink {
		p.mu.Unlock()
		return errors.Errorf("pad %s is not linked to %s", p.name, sink.Name())
	}
	p.peer = nil
	p.mu.Unlock()
	if target, ok := sink.(linkable); ok {
		target.setPeer(nil)
	}
	return nil
}

// Block installs a delivery-blocking probe. Packets arriving while any
// probe is installed are parked, bounded by parkCap.
func (p *pad) Block() core.ProbeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeSeq++
	id := p.probeSeq
	p.probes[id] = struct{}{}
	return id
}

// Unblock removes one probe; once the last probe is gone the parked
// packets are flushed downstream in arrival order.
func (p *pad) Unblock(id core.ProbeID) {
	p.mu.Lock()
	delete(p.probes, id)
	if len(p.probes) > 0 || len(p.parked) == 0 {
		p.mu.Unlock()
		return
	}
	flush := p.parked
	p.parked = nil
	p.mu.Unlock()

	for _, pkt := range flush {
		p.dispatch(pkt)
	}
}

func (p *pad) Set(property string, value any) error {
	p.mu.Lock()
	p.props[property] = value
	p.mu.Unlock()
	return nil
}

func (p *pad) prop(property string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.props[property]
	return v, ok
}

// push sends a packet out of a src pad towards its linked peer.
// Unlinked pads drop silently.
func (p *pad) push(pkt *rtp.Packet) {
	if p.park(pkt) {
		return
	}
	p.dispatch(pkt)
}

// deliver hands a packet to a sink pad for consumption by its element.
func (p *pad) deliver(pkt *rtp.Packet) {
	if p.park(pkt) {
		return
	}
	p.dispatch(pkt)
}

func (p *pad) park(pkt *rtp.Packet) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.probes) == 0 {
		return false
	}
	if len(p.parked) >= parkCap {
		p.parked = p.parked[1:]
	}
	p.parked = append(p.parked, pkt)
	return true
}

func (p *pad) dispatch(pkt *rtp.Packet) {
	if p.dir == core.DirSink {
		if p.recv != nil {
			p.recv(p, pkt)
		}
		return
	}
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer == nil {
		return
	}
	if target, ok := peer.(linkable); ok {
		target.deliver(pkt)
	}
}

// ghostPad exposes an inner pad on a bin boundary under its own name.
// Everything except the name proxies to the inner pad.
type ghostPad struct {
	name  string
	inner linkable
}

func newGhostPad(name string, inner core.Pad) (*ghostPad, error) {
	target, ok := inner.(linkable)
	if !ok {
		return nil, errors.Errorf("pad %s cannot be ghosted", inner.Name())
	}
	return &ghostPad{name: name, inner: target}, nil
}

func (g *ghostPad) Name() string                 { return g.name }
func (g *ghostPad) Direction() core.PadDirection { return g.inner.Direction() }
func (g *ghostPad) Kind() core.MediaKind         { return g.inner.Kind() }
func (g *ghostPad) Peer() core.Pad               { return g.inner.Peer() }
func (g *ghostPad) Link(sink core.Pad) error     { return g.inner.Link(sink) }
func (g *ghostPad) Unlink(sink core.Pad) error   { return g.inner.Unlink(sink) }
func (g *ghostPad) Block() core.ProbeID          { return g.inner.Block() }
func (g *ghostPad) Unblock(id core.ProbeID)      { g.inner.Unblock(id) }

func (g *ghostPad) Set(property string, value any) error { return g.inner.Set(property, value) }

func (g *ghostPad) setPeer(p core.Pad)      { g.inner.setPeer(p) }
func (g *ghostPad) deliver(pkt *rtp.Packet) { g.inner.deliver(pkt) }

package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/dtrnv/roommix/internal/core"
)

// In-memory engine double. It mirrors the adapter contract closely
// enough to drive the session through attach, negotiation and detach:
// request pads, boundary pads firing the pad-added callback, a
// synchronous Sync and a webrtcbin stand-in recording every
// negotiation call.

type fakePad struct {
	name string
	dir  core.PadDirection
	kind core.MediaKind

	mu     sync.Mutex
	peer   core.Pad
	blocks map[core.ProbeID]struct{}
	nextID core.ProbeID
	props  map[string]any

	linkErr error
}

func newFakePad(name string, dir core.PadDirection, kind core.MediaKind) *fakePad {
	return &fakePad{
		name:   name,
		dir:    dir,
		kind:   kind,
		blocks: make(map[core.ProbeID]struct{}),
		props:  make(map[string]any),
	}
}

func (p *fakePad) Name() string                 { return p.name }
func (p *fakePad) Direction() core.PadDirection { return p.dir }
func (p *fakePad) Kind() core.MediaKind         { return p.kind }

func (p *fakePad) Link(sink core.Pad) error {
	if p.linkErr != nil {
		return p.linkErr
	}
	other, ok := sink.(*fakePad)
	if !ok {
		return errors.New("foreign pad")
	}
	p.mu.Lock()
	p.peer = sink
	p.mu.Unlock()
	other.mu.Lock()
	other.peer = p
	other.mu.Unlock()
	return nil
}

func (p *fakePad) Unlink(sink core.Pad) error {
	p.mu.Lock()
	p.peer = nil
	p.mu.Unlock()
	if other, ok := sink.(*fakePad); ok {
		other.mu.Lock()
		other.peer = nil
		other.mu.Unlock()
	}
	return nil
}

func (p *fakePad) Peer() core.Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *fakePad) Block() core.ProbeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.blocks[p.nextID] = struct{}{}
	return p.nextID
}

func (p *fakePad) Unblock(id core.ProbeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blocks, id)
}

func (p *fakePad) blockedNow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

func (p *fakePad) Set(property string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[property] = value
	return nil
}

func (p *fakePad) prop(property string) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props[property]
}

type fakeElement struct {
	name string

	mu        sync.Mutex
	static    map[string]*fakePad
	next      map[string]int
	sinks     []core.Pad
	requested []*fakePad
	released  []core.Pad
	props     map[string]any

	requestErr error
}

func newFakeElement(name string) *fakeElement {
	return &fakeElement{
		name:   name,
		static: make(map[string]*fakePad),
		next:   make(map[string]int),
		props:  make(map[string]any),
	}
}

func (e *fakeElement) withStatic(padName string, dir core.PadDirection) *fakeElement {
	e.static[padName] = newFakePad(padName, dir, core.KindUnknown)
	return e
}

func (e *fakeElement) Name() string { return e.name }

func (e *fakeElement) StaticPad(name string) core.Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.static[name]
	if !ok {
		return nil
	}
	return p
}

func (e *fakeElement) RequestPad(template string) (core.Pad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requestErr != nil {
		return nil, e.requestErr
	}
	prefix := strings.TrimSuffix(template, "_%u")
	dir := core.DirSink
	if prefix == "src" {
		dir = core.DirSrc
	}
	p := newFakePad(fmt.Sprintf("%s_%d", prefix, e.next[prefix]), dir, core.KindUnknown)
	e.next[prefix]++
	if dir == core.DirSink {
		e.sinks = append(e.sinks, p)
	}
	e.requested = append(e.requested, p)
	return p, nil
}

func (e *fakeElement) ReleasePad(p core.Pad) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.sinks {
		if s == p {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			break
		}
	}
	e.released = append(e.released, p)
}

func (e *fakeElement) SinkPads() []core.Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Pad(nil), e.sinks...)
}

func (e *fakeElement) Set(property string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[property] = value
	return nil
}

func (e *fakeElement) releasedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.released)
}

type fakeWebRTC struct {
	*fakeElement

	nmu     sync.Mutex
	offers  int
	answers int
	local   []core.SessionDescription
	remote  []core.SessionDescription
	cands   []string

	offerErr  error
	answerErr error
	localErr  error
	remoteErr error
	candErr   error

	onNeeded func()
	onICE    func(candidate string, mlineIndex uint32)
	onPad    func(core.Pad)
}

func newFakeWebRTC() *fakeWebRTC {
	return &fakeWebRTC{fakeElement: newFakeElement("webrtcbin")}
}

func (w *fakeWebRTC) CreateOffer(done func(core.SessionDescription, error)) {
	w.nmu.Lock()
	w.offers++
	err := w.offerErr
	w.nmu.Unlock()
	if err != nil {
		done(core.SessionDescription{}, err)
		return
	}
	done(core.SessionDescription{Kind: "offer", SDP: "v=0 fake-offer"}, nil)
}

func (w *fakeWebRTC) CreateAnswer(done func(core.SessionDescription, error)) {
	w.nmu.Lock()
	w.answers++
	err := w.answerErr
	w.nmu.Unlock()
	if err != nil {
		done(core.SessionDescription{}, err)
		return
	}
	done(core.SessionDescription{Kind: "answer", SDP: "v=0 fake-answer"}, nil)
}

func (w *fakeWebRTC) SetLocalDescription(desc core.SessionDescription) error {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	if w.localErr != nil {
		return w.localErr
	}
	w.local = append(w.local, desc)
	return nil
}

func (w *fakeWebRTC) SetRemoteDescription(desc core.SessionDescription) error {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	if w.remoteErr != nil {
		return w.remoteErr
	}
	w.remote = append(w.remote, desc)
	return nil
}

func (w *fakeWebRTC) AddICECandidate(candidate string, mlineIndex uint32) error {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	if w.candErr != nil {
		return w.candErr
	}
	w.cands = append(w.cands, candidate)
	return nil
}

func (w *fakeWebRTC) OnNegotiationNeeded(fn func()) { w.onNeeded = fn }

func (w *fakeWebRTC) OnICECandidate(fn func(string, uint32)) { w.onICE = fn }

func (w *fakeWebRTC) OnIncomingPad(fn func(core.Pad)) { w.onPad = fn }

func (w *fakeWebRTC) remoteDescs() []core.SessionDescription {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	return append([]core.SessionDescription(nil), w.remote...)
}

func (w *fakeWebRTC) candidates() []string {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	return append([]string(nil), w.cands...)
}

func (w *fakeWebRTC) offerCount() int {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	return w.offers
}

func (w *fakeWebRTC) answerCount() int {
	w.nmu.Lock()
	defer w.nmu.Unlock()
	return w.answers
}

type fakeBin struct {
	mu        sync.Mutex
	elements  map[string]core.Element
	boundary  map[string]*fakePad
	children  []*fakeBin
	onPad     func(core.Pad)
	syncErr   error
	syncCalls int
	stopped   bool
	posted    []error
	graph     *fakeGraph

	webrtc *fakeWebRTC
}

func newFakeBin() *fakeBin {
	return &fakeBin{
		elements: make(map[string]core.Element),
		boundary: make(map[string]*fakePad),
	}
}

func (b *fakeBin) ByName(name string) core.Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.elements[name]
	if !ok {
		return nil
	}
	return el
}

func (b *fakeBin) Pad(name string) core.Pad {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.boundary[name]
	if !ok {
		return nil
	}
	return p
}

// AddPad mirrors the adapter's ghosting: the boundary pad carries the
// exposed name and the inner pad's direction and kind.
func (b *fakeBin) AddPad(name string, inner core.Pad) error {
	if inner == nil {
		return errors.Errorf("no inner pad for %s", name)
	}
	ip, ok := inner.(*fakePad)
	if !ok {
		return errors.New("foreign pad")
	}
	b.mu.Lock()
	if _, dup := b.boundary[name]; dup {
		b.mu.Unlock()
		return errors.Errorf("duplicate boundary pad %s", name)
	}
	ghost := newFakePad(name, ip.dir, ip.kind)
	b.boundary[name] = ghost
	fn := b.onPad
	b.mu.Unlock()
	if fn != nil {
		fn(ghost)
	}
	return nil
}

func (b *fakeBin) Add(sg core.Subgraph) error {
	child, ok := sg.(*fakeBin)
	if !ok {
		return errors.New("foreign subgraph")
	}
	b.mu.Lock()
	b.children = append(b.children, child)
	b.mu.Unlock()
	return nil
}

func (b *fakeBin) OnPadAdded(fn func(core.Pad)) {
	b.mu.Lock()
	b.onPad = fn
	b.mu.Unlock()
}

// Sync resolves synchronously; the production engine uses a worker
// goroutine, but ordering is what the session cares about.
func (b *fakeBin) Sync(done func(error)) {
	b.mu.Lock()
	b.syncCalls++
	err := b.syncErr
	b.mu.Unlock()
	done(err)
}

func (b *fakeBin) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBin) PostError(err error) {
	b.mu.Lock()
	b.posted = append(b.posted, err)
	g := b.graph
	b.mu.Unlock()
	if g != nil {
		g.post(core.Event{Kind: core.EventError, Source: "fake-bin", Err: err})
	}
}

func (b *fakeBin) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *fakeBin) postedErrors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.posted...)
}

type fakeGraph struct {
	mu       sync.Mutex
	elements map[string]core.Element
	bins     []*fakeBin
	started  bool
	stopped  bool
	events   chan core.Event
}

func (g *fakeGraph) ByName(name string) core.Element {
	g.mu.Lock()
	defer g.mu.Unlock()
	el, ok := g.elements[name]
	if !ok {
		return nil
	}
	return el
}

func (g *fakeGraph) Add(sg core.Subgraph) error {
	bin, ok := sg.(*fakeBin)
	if !ok {
		return errors.New("foreign subgraph")
	}
	g.mu.Lock()
	g.bins = append(g.bins, bin)
	g.mu.Unlock()
	bin.mu.Lock()
	bin.graph = g
	bin.mu.Unlock()
	return nil
}

func (g *fakeGraph) Remove(sg core.Subgraph) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.bins {
		if b == sg {
			g.bins = append(g.bins[:i], g.bins[i+1:]...)
			return nil
		}
	}
	return errors.New("subgraph not in graph")
}

func (g *fakeGraph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = true
	return nil
}

func (g *fakeGraph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

func (g *fakeGraph) Events() <-chan core.Event { return g.events }

func (g *fakeGraph) post(ev core.Event) {
	select {
	case g.events <- ev:
	default:
	}
}

func (g *fakeGraph) binCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bins)
}

type fakeEngine struct {
	mu       sync.Mutex
	graph    *fakeGraph
	peerBins []*fakeBin
	convBins []*fakeBin

	subgraphErr error
	syncErr     error
}

func newFakeEngine() *fakeEngine { return &fakeEngine{} }

func (e *fakeEngine) NewGraph(desc string) (core.Graph, error) {
	g := &fakeGraph{
		elements: make(map[string]core.Element),
		events:   make(chan core.Event, 16),
	}
	g.elements["audio-tee"] = newFakeElement("audio-tee").withStatic("sink", core.DirSink)
	g.elements["video-tee"] = newFakeElement("video-tee").withStatic("sink", core.DirSink)
	for _, name := range []string{"audio-mixer", "video-mixer"} {
		mixer := newFakeElement(name)
		if _, err := mixer.RequestPad("sink_%u"); err != nil {
			return nil, err
		}
		g.elements[name] = mixer
	}
	e.mu.Lock()
	e.graph = g
	e.mu.Unlock()
	return g, nil
}

func (e *fakeEngine) NewSubgraph(desc string) (core.Subgraph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subgraphErr != nil {
		return nil, e.subgraphErr
	}
	bin := newFakeBin()
	bin.syncErr = e.syncErr
	if strings.Contains(desc, "webrtcbin") {
		bin.elements["audio-queue"] = newFakeElement("audio-queue").withStatic("sink", core.DirSink)
		bin.elements["video-queue"] = newFakeElement("video-queue").withStatic("sink", core.DirSink)
		bin.webrtc = newFakeWebRTC()
		bin.elements["webrtcbin"] = bin.webrtc
		e.peerBins = append(e.peerBins, bin)
	} else {
		bin.elements["dbin"] = newFakeElement("dbin").withStatic("sink", core.DirSink)
		bin.elements["src"] = newFakeElement("src").withStatic("src", core.DirSrc)
		e.convBins = append(e.convBins, bin)
	}
	return bin, nil
}

func (e *fakeEngine) Missing(kinds ...string) []string { return nil }

func (e *fakeEngine) lastPeerBin() *fakeBin {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.peerBins) == 0 {
		return nil
	}
	return e.peerBins[len(e.peerBins)-1]
}

func (e *fakeEngine) element(name string) *fakeElement {
	e.mu.Lock()
	g := e.graph
	e.mu.Unlock()
	return g.elements[name].(*fakeElement)
}

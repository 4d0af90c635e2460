package rtc

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
)

// Synthetic RTP parameters for the test sources. Payload types follow
// the usual dynamic assignment: 96 video, 97 audio.
const (
	videoPayloadType  = 96
	audioPayloadType  = 97
	videoTickInterval = 33 * time.Millisecond
	audioTickInterval = 20 * time.Millisecond
	videoTSStep       = 3000 // 90kHz clock at ~30fps
	audioTSStep       = 960  // 48kHz clock at 20ms
)

// ielement is the engine-internal face of an element.
type ielement interface {
	core.Element
	setName(name string)
	kindName() string
	// requestNamed allocates a request pad under an explicit name, used
	// by the launch parser for pad-property templates like sink_0::mute.
	requestNamed(name string) (core.Pad, error)
	// outputPad picks the pad used when this element is the left side
	// of a link in a launch description.
	outputPad() (core.Pad, error)
	// inputPad picks the pad used when this element is the right side.
	inputPad() (core.Pad, error)
	start(b *bus) error
	shutdown()
}

type element struct {
	kind string

	mu     sync.Mutex
	name   string
	props  map[string]string
	sinks  []core.Pad
	srcs   []core.Pad
	padSeq int
	bus    *bus
	stopc  chan struct{}
}

func newElement(kind, name string) (ielement, error) {
	if kind == "webrtcbin" {
		return newWebRTCBin(name), nil
	}
	e := &element{kind: kind, name: name, props: make(map[string]string)}

	switch kind {
	case "audiotestsrc":
		e.srcs = append(e.srcs, newPad("src", core.DirSrc, core.KindAudio, nil))
	case "videotestsrc":
		e.srcs = append(e.srcs, newPad("src", core.DirSrc, core.KindVideo, nil))
	case "tee":
		e.sinks = append(e.sinks, newPad("sink", core.DirSink, core.KindUnknown, e.receive))
	case "queue", "decodebin":
		e.sinks = append(e.sinks, newPad("sink", core.DirSink, core.KindUnknown, e.receive))
		e.srcs = append(e.srcs, newPad("src", core.DirSrc, core.KindUnknown, nil))
	case "audiomixer":
		e.srcs = append(e.srcs, newPad("src", core.DirSrc, core.KindAudio, nil))
	case "compositor":
		e.srcs = append(e.srcs, newPad("src", core.DirSrc, core.KindVideo, nil))
	case "fakesink", "autoaudiosink", "autovideosink":
		e.sinks = append(e.sinks, newPad("sink", core.DirSink, core.KindUnknown, e.receive))
	default:
		return nil, errors.Errorf("unknown element kind %q", kind)
	}
	return e, nil
}

func (e *element) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

func (e *element) setName(name string) {
	e.mu.Lock()
	e.name = name
	e.mu.Unlock()
}

func (e *element) kindName() string { return e.kind }

func (e *element) StaticPad(name string) core.Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookup(name)
}

// lookup assumes e.mu is held.
func (e *element) lookup(name string) core.Pad {
	for _, p := range e.sinks {
		if p.Name() == name {
			return p
		}
	}
	for _, p := range e.srcs {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// RequestPad allocates the next dynamically-numbered pad. Only tees
// hand out src pads and only mixers hand out sink pads.
func (e *element) RequestPad(template string) (core.Pad, error) {
	if !strings.HasSuffix(template, "_%u") {
		return nil, errors.Errorf("bad pad template %q", template)
	}
	prefix := strings.TrimSuffix(template, "_%u")
	e.mu.Lock()
	var name string
	for {
		name = fmt.Sprintf("%s_%d", prefix, e.padSeq)
		e.padSeq++
		if e.lookup(name) == nil {
			break
		}
	}
	e.mu.Unlock()
	return e.requestNamed(name)
}

func (e *element) requestNamed(name string) (core.Pad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookup(name) != nil {
		return nil, errors.Errorf("pad %s already exists on %s", name, e.name)
	}
	switch e.kind {
	case "tee":
		p := newPad(name, core.DirSrc, core.KindUnknown, nil)
		e.srcs = append(e.srcs, p)
		return p, nil
	case "audiomixer", "compositor":
		kind := core.KindAudio
		if e.kind == "compositor" {
			kind = core.KindVideo
		}
		p := newPad(name, core.DirSink, kind, e.receive)
		e.sinks = append(e.sinks, p)
		return p, nil
	}
	return nil, errors.Errorf("%s has no request pads", e.kind)
}

func (e *element) ReleasePad(p core.Pad) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cand := range e.sinks {
		if cand == p {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			return
		}
	}
	for i, cand := range e.srcs {
		if cand == p {
			e.srcs = append(e.srcs[:i], e.srcs[i+1:]...)
			return
		}
	}
}

func (e *element) SinkPads() []core.Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Pad, len(e.sinks))
	copy(out, e.sinks)
	return out
}

func (e *element) Set(property string, value any) error {
	e.mu.Lock()
	e.props[property] = fmt.Sprint(value)
	e.mu.Unlock()
	return nil
}

func (e *element) prop(property string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[property]
}

// outputPad: tees fan out via request pads, everything else exposes a
// single static src.
func (e *element) outputPad() (core.Pad, error) {
	if e.kind == "tee" {
		return e.RequestPad("src_%u")
	}
	if p := e.StaticPad("src"); p != nil {
		return p, nil
	}
	return nil, errors.Errorf("%s %s has no src pad", e.kind, e.Name())
}

// inputPad: mixers reuse a pre-created free request pad if one exists
// (launch pad-properties create those), otherwise request a new one.
func (e *element) inputPad() (core.Pad, error) {
	switch e.kind {
	case "audiomixer", "compositor":
		for _, p := range e.SinkPads() {
			if p.Peer() == nil {
				return p, nil
			}
		}
		return e.RequestPad("sink_%u")
	}
	if p := e.StaticPad("sink"); p != nil {
		return p, nil
	}
	return nil, errors.Errorf("%s %s has no sink pad", e.kind, e.Name())
}

// receive consumes one packet arriving at a sink pad. Sinks are
// terminal; everything else forwards downstream. The engine never
// decodes or composites media, the graph is structural.
func (e *element) receive(_ *pad, pkt *rtp.Packet) {
	switch e.kind {
	case "fakesink", "autoaudiosink", "autovideosink":
		return
	}
	e.forward(pkt)
}

func (e *element) forward(pkt *rtp.Packet) {
	e.mu.Lock()
	srcs := make([]core.Pad, len(e.srcs))
	copy(srcs, e.srcs)
	e.mu.Unlock()
	for _, p := range srcs {
		if out, ok := p.(*pad); ok {
			out.push(pkt)
		}
	}
}

func (e *element) start(b *bus) error {
	e.mu.Lock()
	e.bus = b
	if e.stopc != nil {
		e.mu.Unlock()
		return nil
	}
	switch e.kind {
	case "audiotestsrc", "videotestsrc":
		e.stopc = make(chan struct{})
		go e.tick(e.stopc)
	}
	e.mu.Unlock()
	return nil
}

func (e *element) shutdown() {
	e.mu.Lock()
	if e.stopc != nil {
		close(e.stopc)
		e.stopc = nil
	}
	e.mu.Unlock()
}

// tick generates the synthetic RTP stream of a test source.
func (e *element) tick(stopc <-chan struct{}) {
	interval := audioTickInterval
	var pt uint8 = audioPayloadType
	var step uint32 = audioTSStep
	if e.kind == "videotestsrc" {
		interval = videoTickInterval
		pt = videoPayloadType
		step = videoTSStep
	}

	ssrc := rand.Uint32()
	var seq uint16
	var ts uint32

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopc:
			return
		case <-ticker.C:
			e.forward(&rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    pt,
					SequenceNumber: seq,
					Timestamp:      ts,
					SSRC:           ssrc,
				},
				Payload: make([]byte, 32),
			})
			seq++
			ts += step
		}
	}
}

// bus is the graph-wide status event channel. Posting never blocks; a
// full bus drops the event with a log line.
type bus struct {
	mu     sync.Mutex
	closed bool
	events chan core.Event
}

func newBus() *bus {
	return &bus{events: make(chan core.Event, 16)}
}

func (b *bus) post(ev core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		log.Warn().Str("module", "rtc").Str("source", ev.Source).Msg("bus full, dropping event")
	}
}

func (b *bus) close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
}

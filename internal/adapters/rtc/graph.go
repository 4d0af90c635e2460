package rtc

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dtrnv/roommix/internal/core"
)

// bin is a self-contained subgraph: a set of elements plus the ghost
// pads exposing its boundary. It starts and stops as one unit.
type bin struct {
	name string

	mu         sync.Mutex
	elements   []ielement
	byName     map[string]ielement
	ghosts     map[string]*ghostPad
	children   []*bin
	onPadAdded func(core.Pad)
	bus        *bus
	running    bool
}

var binSeq struct {
	mu sync.Mutex
	n  int
}

func newBin(p *parsed) *bin {
	binSeq.mu.Lock()
	binSeq.n++
	name := fmt.Sprintf("bin%d", binSeq.n)
	binSeq.mu.Unlock()

	return &bin{
		name:     name,
		elements: p.order,
		byName:   p.byName,
		ghosts:   make(map[string]*ghostPad),
	}
}

func (b *bin) ByName(name string) core.Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.byName[name]; ok {
		return el
	}
	for _, child := range b.children {
		if el := child.ByName(name); el != nil {
			return el
		}
	}
	return nil
}

func (b *bin) Pad(name string) core.Pad {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.ghosts[name]
	if !ok {
		return nil // typed nil inside an interface would bite callers
	}
	return g
}

func (b *bin) AddPad(name string, inner core.Pad) error {
	if inner == nil {
		return errors.Errorf("no inner pad for boundary %s", name)
	}
	g, err := newGhostPad(name, inner)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if _, exists := b.ghosts[name]; exists {
		b.mu.Unlock()
		return errors.Errorf("boundary pad %s already exists", name)
	}
	b.ghosts[name] = g
	cb := b.onPadAdded
	b.mu.Unlock()

	if cb != nil {
		cb(g)
	}
	return nil
}

func (b *bin) Add(sg core.Subgraph) error {
	child, ok := sg.(*bin)
	if !ok {
		return errors.New("foreign subgraph")
	}
	b.mu.Lock()
	b.children = append(b.children, child)
	busRef := b.bus
	b.mu.Unlock()
	if busRef != nil {
		child.attachBus(busRef)
	}
	return nil
}

func (b *bin) OnPadAdded(fn func(core.Pad)) {
	b.mu.Lock()
	b.onPadAdded = fn
	b.mu.Unlock()
}

// Sync asynchronously brings the bin (and nested bins) to the running
// state and reports the outcome from an engine worker goroutine.
func (b *bin) Sync(done func(error)) {
	go func() {
		done(b.startAll())
	}()
}

func (b *bin) startAll() error {
	b.mu.Lock()
	if b.running {
		children := append([]*bin(nil), b.children...)
		b.mu.Unlock()
		// idempotent; late-added children may still need starting
		for _, child := range children {
			if err := child.startAll(); err != nil {
				return err
			}
		}
		return nil
	}
	if b.bus == nil {
		b.mu.Unlock()
		return errors.Errorf("%s is not part of a graph", b.name)
	}
	b.running = true
	elements := append([]ielement(nil), b.elements...)
	children := append([]*bin(nil), b.children...)
	busRef := b.bus
	b.mu.Unlock()

	for _, el := range elements {
		if err := el.start(busRef); err != nil {
			return errors.Wrapf(err, "start %s", el.Name())
		}
	}
	for _, child := range children {
		if err := child.startAll(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bin) attachBus(busRef *bus) {
	b.mu.Lock()
	b.bus = busRef
	children := append([]*bin(nil), b.children...)
	b.mu.Unlock()
	for _, child := range children {
		child.attachBus(busRef)
	}
}

func (b *bin) Stop() {
	b.mu.Lock()
	b.running = false
	elements := append([]ielement(nil), b.elements...)
	children := append([]*bin(nil), b.children...)
	b.mu.Unlock()

	for _, el := range elements {
		el.shutdown()
	}
	for _, child := range children {
		child.Stop()
	}
}

func (b *bin) PostError(err error) {
	b.mu.Lock()
	busRef := b.bus
	b.mu.Unlock()
	if busRef == nil {
		log.Error().Str("module", "rtc").Str("bin", b.name).Err(err).Msg("error on detached bin")
		return
	}
	busRef.post(core.Event{Kind: core.EventError, Source: b.name, Err: err})
}

// graph is the running top-level media graph.
type graph struct {
	mu       sync.Mutex
	elements []ielement
	byName   map[string]ielement
	bins     []*bin
	bus      *bus
	started  bool
}

func (g *graph) ByName(name string) core.Element {
	g.mu.Lock()
	defer g.mu.Unlock()
	if el, ok := g.byName[name]; ok {
		return el
	}
	for _, b := range g.bins {
		if el := b.ByName(name); el != nil {
			return el
		}
	}
	return nil
}

func (g *graph) Add(sg core.Subgraph) error {
	b, ok := sg.(*bin)
	if !ok {
		return errors.New("foreign subgraph")
	}
	b.attachBus(g.bus)
	g.mu.Lock()
	g.bins = append(g.bins, b)
	g.mu.Unlock()
	return nil
}

func (g *graph) Remove(sg core.Subgraph) error {
	b, ok := sg.(*bin)
	if !ok {
		return errors.New("foreign subgraph")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, cand := range g.bins {
		if cand == b {
			g.bins = append(g.bins[:i], g.bins[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("%s is not in the graph", b.name)
}

func (g *graph) Start() error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	elements := append([]ielement(nil), g.elements...)
	busRef := g.bus
	g.mu.Unlock()

	for _, el := range elements {
		if err := el.start(busRef); err != nil {
			return errors.Wrapf(err, "start %s", el.Name())
		}
	}
	return nil
}

func (g *graph) Stop() {
	g.mu.Lock()
	elements := append([]ielement(nil), g.elements...)
	bins := append([]*bin(nil), g.bins...)
	g.started = false
	g.mu.Unlock()

	for _, b := range bins {
		b.Stop()
	}
	for _, el := range elements {
		el.shutdown()
	}
	g.bus.close()
}

func (g *graph) Events() <-chan core.Event {
	return g.bus.events
}

// Package core defines the capability surfaces the orchestration layer
// is written against: the media engine that runs the graph, and the
// signaling transport. Engine implementations live under
// internal/adapters; nothing here depends on a concrete runtime.
package core

// MediaKind tags a pad with the media it carries.
type MediaKind int

const (
	KindUnknown MediaKind = iota
	KindAudio
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

// PadDirection distinguishes data producers from consumers.
type PadDirection int

const (
	DirSink PadDirection = iota
	DirSrc
)

// ProbeID identifies one delivery block installed on a pad.
type ProbeID uint64

// EventKind classifies graph-wide status events.
type EventKind int

const (
	EventWarning EventKind = iota
	EventError
)

// Event is one graph-wide status message. Error events are fatal for
// the process; warnings are logged and dropped.
type Event struct {
	Kind   EventKind
	Source string
	Err    error
	Detail string
}

// Engine builds media graphs from textual descriptions.
type Engine interface {
	// NewGraph constructs and wires the top-level graph.
	NewGraph(desc string) (Graph, error)
	// NewSubgraph constructs an unattached bin, later added to a graph
	// or nested inside another subgraph.
	NewSubgraph(desc string) (Subgraph, error)
	// Missing reports which of the named element kinds this engine
	// cannot build. Used once, by the bootstrap capability probe.
	Missing(kinds ...string) []string
}

// Graph is the running top-level media graph.
type Graph interface {
	// ByName looks up an element anywhere in the graph. Nil if absent.
	ByName(name string) Element
	Add(sg Subgraph) error
	Remove(sg Subgraph) error
	Start() error
	Stop()
	// Events is the graph-wide status bus drained by the multiplexer.
	Events() <-chan Event
}

// Subgraph is a self-contained, independently startable portion of the
// graph belonging to one peer.
type Subgraph interface {
	ByName(name string) Element
	// Pad returns the named boundary pad, nil if absent.
	Pad(name string) Pad
	// AddPad exposes inner as a named boundary pad and fires the
	// pad-added callback.
	AddPad(name string, inner Pad) error
	// Add nests another subgraph inside this one.
	Add(sg Subgraph) error
	// OnPadAdded subscribes to boundary pads appearing after creation.
	OnPadAdded(fn func(Pad))
	// Sync asynchronously brings the subgraph to its parent's running
	// state, invoking done from an engine worker once settled.
	Sync(done func(error))
	Stop()
	// PostError raises a fatal structural error on the graph bus.
	PostError(err error)
}

// Element is one node of the graph.
type Element interface {
	Name() string
	// StaticPad returns an always-present pad, nil if absent.
	StaticPad(name string) Pad
	// RequestPad allocates the next pad from a template such as
	// "src_%u" or "sink_%u".
	RequestPad(template string) (Pad, error)
	// ReleasePad returns a request pad back to the element.
	ReleasePad(p Pad)
	// SinkPads lists current sink pads in creation order.
	SinkPads() []Pad
	// Set assigns a scalar element property.
	Set(property string, value any) error
}

// Pad is one connection point on an element.
type Pad interface {
	Name() string
	Direction() PadDirection
	Kind() MediaKind
	// Link connects this src pad to a sink pad.
	Link(sink Pad) error
	// Unlink disconnects a previously linked pair.
	Unlink(sink Pad) error
	// Peer returns the pad on the other side of the link, nil if none.
	Peer() Pad
	// Block installs a delivery-blocking probe: data arriving at the
	// pad is parked until the probe is removed.
	Block() ProbeID
	Unblock(id ProbeID)
	// Set assigns a per-pad property (tile geometry, mute, alpha).
	Set(property string, value any) error
}

// SessionDescription is the engine-level view of an SDP blob.
type SessionDescription struct {
	Kind string // "offer" or "answer"
	SDP  string
}

// Negotiator is the capability upgrade of a negotiation-endpoint
// element. Obtained by type-asserting the element returned from
// ByName. Offer/answer creation is asynchronous: done runs on an
// engine worker goroutine, never on the caller's.
type Negotiator interface {
	CreateOffer(done func(SessionDescription, error))
	CreateAnswer(done func(SessionDescription, error))
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	// AddICECandidate forwards a remote candidate. The engine owns any
	// buffering needed before a remote description exists.
	AddICECandidate(candidate string, mlineIndex uint32) error
	OnNegotiationNeeded(fn func())
	OnICECandidate(fn func(candidate string, mlineIndex uint32))
	// OnIncomingPad fires when the remote side starts sending a
	// stream; the pad is kind-tagged and ready to link.
	OnIncomingPad(fn func(Pad))
}

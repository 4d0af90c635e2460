// Package rtc is the production media engine: a structural graph
// runtime moving pion RTP packets between nodes, with webrtcbin
// elements backed by pion/webrtc peer connections. Mixers and sinks
// never decode or composite media; every structural contract the
// orchestration layer relies on (request pads, blocking probes, links,
// async state sync, bus events) is real.
package rtc

import (
	"github.com/dtrnv/roommix/internal/core"
)

var knownKinds = map[string]struct{}{
	"audiotestsrc":  {},
	"videotestsrc":  {},
	"tee":           {},
	"queue":         {},
	"audiomixer":    {},
	"compositor":    {},
	"decodebin":     {},
	"fakesink":      {},
	"autoaudiosink": {},
	"autovideosink": {},
	"webrtcbin":     {},
}

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (*Engine) NewGraph(desc string) (core.Graph, error) {
	p, err := parseLaunch(desc)
	if err != nil {
		return nil, err
	}
	return &graph{
		elements: p.order,
		byName:   p.byName,
		bus:      newBus(),
	}, nil
}

func (*Engine) NewSubgraph(desc string) (core.Subgraph, error) {
	p, err := parseLaunch(desc)
	if err != nil {
		return nil, err
	}
	return newBin(p), nil
}

func (*Engine) Missing(kinds ...string) []string {
	var missing []string
	for _, k := range kinds {
		if _, ok := knownKinds[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

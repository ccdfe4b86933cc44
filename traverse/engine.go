// Package traverse implements the provenance traversals as compositions of
// the store contract's primitives: anchor matching, single-hop expansion and
// bounded variable-length reachability.
//
// The engine holds no mutable state; one Engine can serve concurrent callers.
package traverse

import (
	"errors"
	"sort"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

// DefaultMaxHops bounds variable-length walks over SUPERSEDES and UPSTREAM.
const DefaultMaxHops = 256

// ErrNotFound is returned when an operation's anchor node does not exist.
var ErrNotFound = errors.New("not found")

// Engine runs traversals against a store.
type Engine struct {
	st              store.Store
	maxHops         int
	embedsExpansion bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxHops bounds variable-length walks. Non-positive values keep the default.
func WithMaxHops(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHops = n
		}
	}
}

// WithEmbedsExpansion additionally follows incoming EMBEDS edges between
// source locations when building the equivalence set of an impact query.
func WithEmbedsExpansion(on bool) Option {
	return func(e *Engine) {
		e.embedsExpansion = on
	}
}

// New creates an engine over st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{st: st, maxHops: DefaultMaxHops}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxHops returns the configured walk bound.
func (e *Engine) MaxHops() int {
	return e.maxHops
}

// EmbedsExpansion reports whether source-level EMBEDS expansion is enabled.
func (e *Engine) EmbedsExpansion() bool {
	return e.embedsExpansion
}

func (e *Engine) path(t graph.EdgeType, dir store.Direction, kind graph.NodeKind) store.Path {
	return store.Path{
		Hop:     store.Hop{Edge: t, Direction: dir, Kind: kind},
		MinHops: 0,
		MaxHops: e.maxHops,
	}
}

// nodeSet is an insertion-independent set of nodes keyed by id.
type nodeSet map[string]*graph.Node

func (s nodeSet) add(nodes ...*graph.Node) {
	for _, n := range nodes {
		s[n.ID] = n
	}
}

func (s nodeSet) addAll(byOrigin map[string][]*graph.Node) {
	for _, nodes := range byOrigin {
		s.add(nodes...)
	}
}

func (s nodeSet) union(other nodeSet) nodeSet {
	out := make(nodeSet, len(s)+len(other))
	for id, n := range s {
		out[id] = n
	}
	for id, n := range other {
		out[id] = n
	}
	return out
}

// ids returns the member ids in sorted order.
func (s nodeSet) ids() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// props returns the distinct values of prop across members, sorted.
func (s nodeSet) props(prop string) []string {
	seen := make(map[string]struct{}, len(s))
	var out []string
	for _, n := range s {
		v := n.Prop(prop)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s nodeSet) filter(keep func(*graph.Node) bool) nodeSet {
	out := make(nodeSet)
	for id, n := range s {
		if keep(n) {
			out[id] = n
		}
	}
	return out
}

func nodeIDs(nodes []*graph.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

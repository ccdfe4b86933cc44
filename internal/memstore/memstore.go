// Package memstore provides an in-process provenance graph store.
//
// It implements the same contract as the SQLite store with plain maps and
// breadth-first search, which makes it handy for embedding and for tests that
// need to run the traversal engine without a database file.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/internal/cas"
	"github.com/lslebodn/assayist/store"
)

type edgeKey struct {
	src, dst string
	typ      graph.EdgeType
}

// Store is an in-memory graph. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*graph.Node
	edges map[edgeKey]graph.Edge
	out   map[graph.EdgeType]map[string][]string
	in    map[graph.EdgeType]map[string][]string
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Writer = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		nodes: make(map[string]*graph.Node),
		edges: make(map[edgeKey]graph.Edge),
		out:   make(map[graph.EdgeType]map[string][]string),
		in:    make(map[graph.EdgeType]map[string][]string),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// PutNode inserts a node if it doesn't already exist.
func (s *Store) PutNode(ctx context.Context, n *graph.Node) error {
	id, err := graph.NodeID(n.Kind, n.Props)
	if err != nil {
		return err
	}
	if n.ID != id {
		return fmt.Errorf("node id %s does not match its natural key (want %s)", n.ID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[n.ID]; ok {
		return nil
	}
	cp := &graph.Node{ID: n.ID, Kind: n.Kind, Props: make(map[string]string, len(n.Props)), CreatedAt: n.CreatedAt}
	for k, v := range n.Props {
		cp.Props[k] = v
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = cas.NowMs()
	}
	s.nodes[n.ID] = cp
	return nil
}

// PutEdge inserts an edge if it doesn't already exist.
func (s *Store) PutEdge(ctx context.Context, e graph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.nodes[e.Src]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrMissingEndpoint, e.Src)
	}
	dst, ok := s.nodes[e.Dst]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrMissingEndpoint, e.Dst)
	}
	if err := graph.ValidateEdge(e.Type, src.Kind, dst.Kind); err != nil {
		return err
	}

	key := edgeKey{src: e.Src, dst: e.Dst, typ: e.Type}
	if _, ok := s.edges[key]; ok {
		return nil
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = cas.NowMs()
	}
	s.edges[key] = e
	adjAppend(s.out, e.Type, e.Src, e.Dst)
	adjAppend(s.in, e.Type, e.Dst, e.Src)
	return nil
}

func adjAppend(adj map[graph.EdgeType]map[string][]string, t graph.EdgeType, from, to string) {
	m, ok := adj[t]
	if !ok {
		m = make(map[string][]string)
		adj[t] = m
	}
	m[from] = append(m[from], to)
}

// Match returns every node of kind whose properties equal all of props.
func (s *Store) Match(ctx context.Context, kind graph.NodeKind, props map[string]string) ([]*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := store.Hop{Kind: kind, Where: props}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graph.Node
	for _, n := range s.nodes {
		if want.Matches(n) {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out, nil
}

// MatchAny returns every node of kind whose prop is one of values.
func (s *Store) MatchAny(ctx context.Context, kind graph.NodeKind, prop string, values []string) ([]*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			want[v] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graph.Node
	for _, n := range s.nodes {
		if n.Kind != kind {
			continue
		}
		if _, ok := want[n.Prop(prop)]; ok {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out, nil
}

// Neighbors follows exactly one hop from each origin.
func (s *Store) Neighbors(ctx context.Context, from []string, hop store.Hop) (map[string][]*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]*graph.Node)
	for _, origin := range from {
		if _, done := out[origin]; done {
			continue
		}
		next, err := s.step(origin, hop.Edge, hop.Direction)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{})
		var matched []*graph.Node
		for _, id := range next {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if n := s.nodes[id]; hop.Matches(n) {
				matched = append(matched, n)
			}
		}
		if len(matched) > 0 {
			sortNodes(matched)
			out[origin] = matched
		}
	}
	return out, nil
}

// Reach performs a breadth-first search bounded by path.MaxHops.
//
// The search runs over (node, min(depth, MinHops)) states: two visits of a
// node that agree on that pair behave identically from then on, so each state
// expands at most once and cycles terminate. A node is reported at the first
// depth >= MinHops it is reached at, which lets an origin on a cycle reappear
// when MinHops > 0.
func (s *Store) Reach(ctx context.Context, from []string, path store.Path) ([]store.Reached, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type state struct {
		id     string
		capped int
	}
	capped := func(d int) int { return min(d, path.MinHops) }

	visited := make(map[state]struct{})
	depth := make(map[string]int)
	record := func(id string, d int) {
		if d < path.MinHops {
			return
		}
		if _, ok := depth[id]; !ok {
			depth[id] = d
		}
	}

	var frontier []string
	for _, id := range from {
		if _, ok := s.nodes[id]; !ok {
			continue
		}
		st := state{id, capped(0)}
		if _, ok := visited[st]; ok {
			continue
		}
		visited[st] = struct{}{}
		record(id, 0)
		frontier = append(frontier, id)
	}

	for d := 0; d < path.MaxHops && len(frontier) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, id := range frontier {
			ids, err := s.step(id, path.Edge, path.Direction)
			if err != nil {
				return nil, err
			}
			for _, n := range ids {
				st := state{n, capped(d + 1)}
				if _, ok := visited[st]; ok {
					continue
				}
				visited[st] = struct{}{}
				record(n, d+1)
				next = append(next, n)
			}
		}
		frontier = next
	}

	var out []store.Reached
	for id, d := range depth {
		if n := s.nodes[id]; path.Matches(n) {
			out = append(out, store.Reached{Node: n, Depth: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out, nil
}

// step returns the ids adjacent to id along t. Callers hold the read lock.
func (s *Store) step(id string, t graph.EdgeType, dir store.Direction) ([]string, error) {
	switch dir {
	case store.Outgoing:
		return s.out[t][id], nil
	case store.Incoming:
		return s.in[t][id], nil
	case store.Both:
		both := append([]string(nil), s.out[t][id]...)
		return append(both, s.in[t][id]...), nil
	default:
		return nil, fmt.Errorf("unsupported direction %s", dir)
	}
}

func sortNodes(nodes []*graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

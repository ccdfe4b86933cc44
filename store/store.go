// Package store defines the contract between the traversal engine and a
// backing graph store.
//
// The contract is deliberately small: pattern matching on a single node kind,
// single-hop expansion with optional-match semantics, and bounded
// variable-length reachability. Union and de-duplication across stages is the
// engine's job, so any graph-capable backend can satisfy it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lslebodn/assayist/graph"
)

var (
	// ErrHopRange is returned for a Path whose hop range is invalid.
	ErrHopRange = errors.New("invalid hop range")
	// ErrMissingEndpoint is returned by PutEdge when either endpoint is absent.
	ErrMissingEndpoint = errors.New("edge endpoint not found")
)

// Direction selects which way an edge is followed relative to the origin.
type Direction int

const (
	// Outgoing follows src -> dst.
	Outgoing Direction = iota
	// Incoming follows dst -> src.
	Incoming
	// Both ignores edge direction.
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "out"
	case Incoming:
		return "in"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Hop describes one edge traversal and the node pattern at its far end.
type Hop struct {
	Edge      graph.EdgeType
	Direction Direction
	// Kind restricts the target node kind. Empty matches any kind.
	Kind graph.NodeKind
	// Where restricts target nodes to those whose properties equal every entry.
	Where map[string]string
}

// Matches reports whether n satisfies the hop's target pattern.
func (h Hop) Matches(n *graph.Node) bool {
	if n == nil {
		return false
	}
	if h.Kind != "" && n.Kind != h.Kind {
		return false
	}
	for k, v := range h.Where {
		if n.Prop(k) != v {
			return false
		}
	}
	return true
}

// Path is a variable-length traversal over a single edge type with an explicit
// hop range. MinHops 0 includes the origins themselves when they match.
type Path struct {
	Hop
	MinHops int
	MaxHops int
}

// Validate checks the hop range.
func (p Path) Validate() error {
	if p.MinHops < 0 || p.MaxHops < p.MinHops {
		return fmt.Errorf("%w: %d..%d", ErrHopRange, p.MinHops, p.MaxHops)
	}
	return nil
}

// Reached is a node found by a variable-length traversal together with the
// fewest hops needed to reach it from any origin.
type Reached struct {
	Node  *graph.Node
	Depth int
}

// Matcher finds anchor nodes.
type Matcher interface {
	// Match returns every node of kind whose properties equal all of props.
	Match(ctx context.Context, kind graph.NodeKind, props map[string]string) ([]*graph.Node, error)

	// MatchAny returns every node of kind whose prop is one of values.
	MatchAny(ctx context.Context, kind graph.NodeKind, prop string, values []string) ([]*graph.Node, error)
}

// Traverser expands node sets along edges.
type Traverser interface {
	// Neighbors follows exactly one hop from each origin id. The result is
	// keyed by origin id; an origin with no matching neighbour is absent from
	// the map, which is how callers express an optional match.
	Neighbors(ctx context.Context, from []string, hop Hop) (map[string][]*graph.Node, error)

	// Reach follows path.Edge between path.MinHops and path.MaxHops times from
	// any origin and returns each distinct matching node once, ordered by
	// depth and then id. It must terminate on cyclic data.
	Reach(ctx context.Context, from []string, path Path) ([]Reached, error)
}

// Store is the read contract the traversal engine depends on.
type Store interface {
	Matcher
	Traverser

	// Close releases the store.
	Close() error
}

// Writer appends nodes and edges. Writes are idempotent; existing nodes and
// edges are never modified.
type Writer interface {
	// PutNode inserts a node if it does not already exist.
	PutNode(ctx context.Context, n *graph.Node) error

	// PutEdge inserts an edge if it does not already exist. Both endpoints
	// must already be present.
	PutEdge(ctx context.Context, e graph.Edge) error
}

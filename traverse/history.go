package traverse

import (
	"context"
	"fmt"
	"sort"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

// Version is one entry of a version history.
type Version struct {
	graph.SourceLocation
	// Distance is the number of SUPERSEDES hops from the queried version.
	Distance int
}

// VersionHistory returns the source location of the given component version
// and every earlier version reachable over SUPERSEDES, nearest first.
func (e *Engine) VersionHistory(ctx context.Context, name, typ, version string) ([]Version, error) {
	components, err := e.st.Match(ctx, graph.KindComponent, map[string]string{
		graph.PropCanonicalName: name,
		graph.PropCanonicalType: typ,
	})
	if err != nil {
		return nil, fmt.Errorf("matching component: %w", err)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: component %s/%s", ErrNotFound, typ, name)
	}

	starts, err := e.st.Neighbors(ctx, nodeIDs(components), store.Hop{
		Edge:      graph.EdgeSourceFor,
		Direction: store.Incoming,
		Kind:      graph.KindSourceLocation,
		Where:     map[string]string{graph.PropCanonicalVersion: version},
	})
	if err != nil {
		return nil, fmt.Errorf("matching source location: %w", err)
	}
	startSet := make(nodeSet)
	startSet.addAll(starts)
	if len(startSet) == 0 {
		return nil, fmt.Errorf("%w: %s/%s version %s", ErrNotFound, typ, name, version)
	}

	reached, err := e.st.Reach(ctx, startSet.ids(), e.path(graph.EdgeSupersedes, store.Outgoing, graph.KindSourceLocation))
	if err != nil {
		return nil, fmt.Errorf("walking supersedes chain: %w", err)
	}

	out := make([]Version, 0, len(reached))
	for _, r := range reached {
		out = append(out, Version{
			SourceLocation: graph.SourceLocationFromNode(r.Node),
			Distance:       r.Depth,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

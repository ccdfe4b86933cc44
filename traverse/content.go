package traverse

import (
	"context"
	"fmt"
	"sort"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

// ContentSource pairs the internal source of an embedded artifact with the
// upstream it mirrors. Upstream is nil when the internal source has none.
type ContentSource struct {
	Internal string
	Upstream *string
}

// ContentSources returns one pair per artifact embedded in (or embedding) an
// artifact produced by the build, ordered by internal url then upstream url,
// with a missing upstream sorting last.
func (e *Engine) ContentSources(ctx context.Context, buildID string) ([]ContentSource, error) {
	builds, err := e.st.Match(ctx, graph.KindBuild, map[string]string{graph.PropID: buildID})
	if err != nil {
		return nil, fmt.Errorf("matching build: %w", err)
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("%w: build %s", ErrNotFound, buildID)
	}

	produced, err := e.st.Neighbors(ctx, nodeIDs(builds), store.Hop{
		Edge: graph.EdgeProduced, Direction: store.Outgoing, Kind: graph.KindArtifact,
	})
	if err != nil {
		return nil, fmt.Errorf("listing produced artifacts: %w", err)
	}
	artifacts := make(nodeSet)
	artifacts.addAll(produced)

	embedded, err := e.st.Neighbors(ctx, artifacts.ids(), store.Hop{
		Edge: graph.EdgeEmbeds, Direction: store.Both, Kind: graph.KindArtifact,
	})
	if err != nil {
		return nil, fmt.Errorf("listing embedded artifacts: %w", err)
	}
	embeddedSet := make(nodeSet)
	embeddedSet.addAll(embedded)

	producers, err := e.st.Neighbors(ctx, embeddedSet.ids(), store.Hop{
		Edge: graph.EdgeProduced, Direction: store.Incoming, Kind: graph.KindBuild,
	})
	if err != nil {
		return nil, fmt.Errorf("listing producing builds: %w", err)
	}
	producerSet := make(nodeSet)
	producerSet.addAll(producers)

	sources, err := e.st.Neighbors(ctx, producerSet.ids(), store.Hop{
		Edge: graph.EdgeBuiltFrom, Direction: store.Outgoing, Kind: graph.KindSourceLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("listing internal sources: %w", err)
	}
	internalSet := make(nodeSet)
	internalSet.addAll(sources)

	// Optional match: an internal source without an upstream is absent here.
	upstreams, err := e.st.Neighbors(ctx, internalSet.ids(), store.Hop{
		Edge: graph.EdgeUpstream, Direction: store.Outgoing, Kind: graph.KindSourceLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("listing upstream sources: %w", err)
	}

	var out []ContentSource
	for _, artifactID := range artifacts.ids() {
		for _, emb := range embedded[artifactID] {
			for _, build := range producers[emb.ID] {
				for _, internal := range sources[build.ID] {
					url := internal.Prop(graph.PropURL)
					ups := upstreams[internal.ID]
					if len(ups) == 0 {
						out = append(out, ContentSource{Internal: url})
						continue
					}
					for _, up := range ups {
						upURL := up.Prop(graph.PropURL)
						out = append(out, ContentSource{Internal: url, Upstream: &upURL})
					}
				}
			}
		}
	}

	sortContentSources(out)
	return out, nil
}

func sortContentSources(cs []ContentSource) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Internal != cs[j].Internal {
			return cs[i].Internal < cs[j].Internal
		}
		a, b := cs[i].Upstream, cs[j].Upstream
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

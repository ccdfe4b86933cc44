package traverse

import (
	"context"
	"fmt"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

// ImpactReport breaks an impact closure down by propagation path. Every id
// list is sorted and duplicate-free.
type ImpactReport struct {
	// Resolved holds the queried urls that matched a source location.
	Resolved []string `json:"resolved" yaml:"resolved"`
	// Unresolved holds the queried urls with no source location.
	Unresolved []string `json:"unresolved" yaml:"unresolved"`
	// Equivalent holds the urls of every source location considered the same
	// code as a queried one.
	Equivalent []string `json:"equivalent" yaml:"equivalent"`
	// SourceBuilds holds ids of builds built from an equivalent source.
	SourceBuilds []string `json:"source_builds" yaml:"source_builds"`
	// SourceArtifacts holds archive ids of artifacts those builds produced.
	SourceArtifacts []string `json:"source_artifacts" yaml:"source_artifacts"`
	// AffectedContainers holds archive ids of container artifacts that embed
	// a source artifact or were produced by a container source build.
	AffectedContainers []string `json:"affected_containers" yaml:"affected_containers"`
	// BuiltWithContainer holds ids of builds whose container artifact was
	// built with an affected container.
	BuiltWithContainer []string `json:"built_with_container" yaml:"built_with_container"`
	// BuiltWithSource holds ids of builds whose container artifact embeds
	// something built with a source artifact.
	BuiltWithSource []string `json:"built_with_source" yaml:"built_with_source"`
	// Builds is the union of BuiltWithContainer and BuiltWithSource.
	Builds []string `json:"builds" yaml:"builds"`
}

var containerOnly = map[string]string{graph.PropType: graph.TypeContainer}

// ImpactedContainerBuilds returns the ids of container builds transitively
// affected by the given source locations. Urls that match no source location
// are ignored.
func (e *Engine) ImpactedContainerBuilds(ctx context.Context, urls []string) ([]string, error) {
	report, err := e.Impact(ctx, urls)
	if err != nil {
		return nil, err
	}
	return report.Builds, nil
}

// Impact computes the impact closure of the given source location urls.
func (e *Engine) Impact(ctx context.Context, urls []string) (*ImpactReport, error) {
	report := &ImpactReport{}

	seeds, err := e.st.MatchAny(ctx, graph.KindSourceLocation, graph.PropURL, urls)
	if err != nil {
		return nil, fmt.Errorf("resolving source locations: %w", err)
	}
	seedSet := make(nodeSet)
	seedSet.add(seeds...)
	report.Resolved = seedSet.props(graph.PropURL)
	report.Unresolved = missing(urls, report.Resolved)
	if len(seedSet) == 0 {
		return report, nil
	}

	equivalent, err := e.equivalent(ctx, seedSet)
	if err != nil {
		return nil, err
	}
	report.Equivalent = equivalent.props(graph.PropURL)

	sourceBuilds, err := e.expand(ctx, equivalent, graph.EdgeBuiltFrom, store.Incoming, graph.KindBuild, nil)
	if err != nil {
		return nil, fmt.Errorf("listing source builds: %w", err)
	}
	report.SourceBuilds = sourceBuilds.props(graph.PropID)

	sourceArtifacts, err := e.expand(ctx, sourceBuilds, graph.EdgeProduced, store.Outgoing, graph.KindArtifact, nil)
	if err != nil {
		return nil, fmt.Errorf("listing source artifacts: %w", err)
	}
	report.SourceArtifacts = sourceArtifacts.props(graph.PropArchiveID)

	embedding, err := e.expand(ctx, sourceArtifacts, graph.EdgeEmbeds, store.Incoming, graph.KindArtifact, containerOnly)
	if err != nil {
		return nil, fmt.Errorf("listing embedding containers: %w", err)
	}
	containerBuilds := sourceBuilds.filter(func(n *graph.Node) bool {
		return n.Prop(graph.PropType) == graph.TypeContainer
	})
	direct, err := e.expand(ctx, containerBuilds, graph.EdgeProduced, store.Outgoing, graph.KindArtifact, containerOnly)
	if err != nil {
		return nil, fmt.Errorf("listing container build output: %w", err)
	}
	affected := embedding.union(direct)
	report.AffectedContainers = affected.props(graph.PropArchiveID)

	dependents, err := e.expand(ctx, affected, graph.EdgeBuiltWith, store.Incoming, graph.KindArtifact, containerOnly)
	if err != nil {
		return nil, fmt.Errorf("listing containers built with affected containers: %w", err)
	}
	viaContainer, err := e.expand(ctx, dependents, graph.EdgeProduced, store.Incoming, graph.KindBuild, nil)
	if err != nil {
		return nil, fmt.Errorf("listing dependent container builds: %w", err)
	}
	report.BuiltWithContainer = viaContainer.props(graph.PropID)

	compiled, err := e.expand(ctx, sourceArtifacts, graph.EdgeBuiltWith, store.Incoming, graph.KindArtifact, nil)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts built with source artifacts: %w", err)
	}
	images, err := e.expand(ctx, compiled, graph.EdgeEmbeds, store.Incoming, graph.KindArtifact, containerOnly)
	if err != nil {
		return nil, fmt.Errorf("listing containers embedding compiled artifacts: %w", err)
	}
	viaSource, err := e.expand(ctx, images, graph.EdgeProduced, store.Incoming, graph.KindBuild, nil)
	if err != nil {
		return nil, fmt.Errorf("listing compiled container builds: %w", err)
	}
	report.BuiltWithSource = viaSource.props(graph.PropID)

	report.Builds = viaContainer.union(viaSource).props(graph.PropID)
	return report, nil
}

// equivalent returns every source location reachable from seeds over
// UPSTREAM in either direction and, with expansion enabled, every source
// location embedding one of those.
func (e *Engine) equivalent(ctx context.Context, seeds nodeSet) (nodeSet, error) {
	reached, err := e.st.Reach(ctx, seeds.ids(), e.path(graph.EdgeUpstream, store.Both, graph.KindSourceLocation))
	if err != nil {
		return nil, fmt.Errorf("walking upstream relations: %w", err)
	}
	set := make(nodeSet, len(reached))
	for _, r := range reached {
		set.add(r.Node)
	}
	if !e.embedsExpansion {
		return set, nil
	}

	embedding, err := e.st.Reach(ctx, set.ids(), e.path(graph.EdgeEmbeds, store.Incoming, graph.KindSourceLocation))
	if err != nil {
		return nil, fmt.Errorf("walking embedding sources: %w", err)
	}
	for _, r := range embedding {
		set.add(r.Node)
	}
	return set, nil
}

// expand follows one hop from every member of from and returns the union of
// the neighbours.
func (e *Engine) expand(ctx context.Context, from nodeSet, t graph.EdgeType, dir store.Direction, kind graph.NodeKind, where map[string]string) (nodeSet, error) {
	out := make(nodeSet)
	if len(from) == 0 {
		return out, nil
	}
	byOrigin, err := e.st.Neighbors(ctx, from.ids(), store.Hop{Edge: t, Direction: dir, Kind: kind, Where: where})
	if err != nil {
		return nil, err
	}
	out.addAll(byOrigin)
	return out, nil
}

func missing(queried, resolved []string) []string {
	found := make(map[string]struct{}, len(resolved))
	for _, u := range resolved {
		found[u] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, u := range queried {
		if _, ok := found[u]; ok {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

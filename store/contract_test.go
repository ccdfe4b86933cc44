package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/internal/fixture"
	"github.com/lslebodn/assayist/internal/testutil"
	"github.com/lslebodn/assayist/store"
)

const (
	urlA = "git://example.local/a#1"
	urlB = "git://example.local/b#1"
	urlC = "git://example.local/c#1"
	urlU = "https://upstream.example.org/a-1.tar.gz"
)

// cycleDoc: a -> b -> c -> a over SUPERSEDES, and a -UPSTREAM-> u.
func cycleDoc() *fixture.Document {
	comp := graph.Component{Name: "a", Type: "generic"}
	return &fixture.Document{
		SourceLocations: []fixture.SourceLocation{
			{URL: urlA, Version: "3", Supersedes: urlB, Upstream: urlU, Component: &comp},
			{URL: urlB, Version: "2", Supersedes: urlC, Component: &comp},
			{URL: urlC, Version: "1", Supersedes: urlA, Component: &comp},
		},
		Builds: []fixture.Build{
			{ID: "1", Type: graph.TypeRPM, Source: urlA},
			{ID: "2", Type: graph.TypeContainer, Source: urlA},
		},
	}
}

func slID(t *testing.T, url string) string {
	t.Helper()
	id, err := graph.SourceLocationNodeID(url)
	require.NoError(t, err)
	return id
}

func reachedURLs(rs []store.Reached) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Node.Prop(graph.PropURL)
	}
	return out
}

func nodeProps(nodes []*graph.Node, key string) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Prop(key)
	}
	return out
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			// Keyed lookup.
			got, err := st.Match(ctx, graph.KindSourceLocation, map[string]string{graph.PropURL: urlB})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "2", got[0].Prop(graph.PropCanonicalVersion))

			// Keyed lookup with a non-key filter that does not hold.
			got, err = st.Match(ctx, graph.KindSourceLocation, map[string]string{graph.PropURL: urlB, graph.PropCanonicalVersion: "9"})
			require.NoError(t, err)
			assert.Empty(t, got)

			// Scan on a non-key property.
			got, err = st.Match(ctx, graph.KindBuild, map[string]string{graph.PropType: graph.TypeContainer})
			require.NoError(t, err)
			assert.Equal(t, []string{"2"}, nodeProps(got, graph.PropID))

			// Partial component key falls back to a scan.
			got, err = st.Match(ctx, graph.KindComponent, map[string]string{graph.PropCanonicalName: "a", graph.PropCanonicalType: "generic"})
			require.NoError(t, err)
			assert.Len(t, got, 1)

			got, err = st.Match(ctx, graph.KindBuild, map[string]string{graph.PropID: "404"})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMatchAny(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			got, err := st.MatchAny(ctx, graph.KindSourceLocation, graph.PropURL, []string{urlC, urlA, "git://missing", "", urlA})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{urlA, urlC}, nodeProps(got, graph.PropURL))

			got, err = st.MatchAny(ctx, graph.KindSourceLocation, graph.PropCanonicalVersion, []string{"1", "2"})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{urlB, urlC}, nodeProps(got, graph.PropURL))

			got, err = st.MatchAny(ctx, graph.KindSourceLocation, graph.PropURL, nil)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMatchAny_QuotedValues(t *testing.T) {
	ctx := context.Background()
	odd := `git://example.local/x'); DROP TABLE nodes; --"#1`
	doc := &fixture.Document{SourceLocations: []fixture.SourceLocation{{URL: odd, Version: `1"2`}}}

	for name, st := range testutil.Backends(t, doc) {
		t.Run(name, func(t *testing.T) {
			got, err := st.MatchAny(ctx, graph.KindSourceLocation, graph.PropURL, []string{odd})
			require.NoError(t, err)
			require.Len(t, got, 1)

			got, err = st.MatchAny(ctx, graph.KindSourceLocation, graph.PropCanonicalVersion, []string{`1"2`})
			require.NoError(t, err)
			assert.Equal(t, []string{odd}, nodeProps(got, graph.PropURL))
		})
	}
}

func TestNeighbors(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			a, b, u := slID(t, urlA), slID(t, urlB), slID(t, urlU)

			got, err := st.Neighbors(ctx, []string{a, b, u}, store.Hop{
				Edge: graph.EdgeUpstream, Direction: store.Outgoing, Kind: graph.KindSourceLocation,
			})
			require.NoError(t, err)
			require.Contains(t, got, a)
			assert.Equal(t, []string{urlU}, nodeProps(got[a], graph.PropURL))
			assert.NotContains(t, got, b, "optional match miss must be absent")
			assert.NotContains(t, got, u)

			got, err = st.Neighbors(ctx, []string{u}, store.Hop{Edge: graph.EdgeUpstream, Direction: store.Incoming})
			require.NoError(t, err)
			assert.Equal(t, []string{urlA}, nodeProps(got[u], graph.PropURL))

			got, err = st.Neighbors(ctx, []string{a}, store.Hop{Edge: graph.EdgeSupersedes, Direction: store.Both})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{urlB, urlC}, nodeProps(got[a], graph.PropURL))

			got, err = st.Neighbors(ctx, []string{a}, store.Hop{
				Edge: graph.EdgeBuiltFrom, Direction: store.Incoming, Kind: graph.KindBuild,
				Where: map[string]string{graph.PropType: graph.TypeContainer},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"2"}, nodeProps(got[a], graph.PropID))

			got, err = st.Neighbors(ctx, []string{a}, store.Hop{Edge: graph.EdgeBuiltFrom, Direction: store.Incoming, Kind: graph.KindArtifact})
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = st.Neighbors(ctx, nil, store.Hop{Edge: graph.EdgeBuiltFrom, Direction: store.Incoming})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestReach(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			a := slID(t, urlA)
			path := store.Path{
				Hop:     store.Hop{Edge: graph.EdgeSupersedes, Direction: store.Outgoing, Kind: graph.KindSourceLocation},
				MinHops: 0,
				MaxHops: 256,
			}

			got, err := st.Reach(ctx, []string{a}, path)
			require.NoError(t, err)
			assert.Equal(t, []string{urlA, urlB, urlC}, reachedURLs(got))
			for i, r := range got {
				assert.Equal(t, i, r.Depth)
			}

			path.MaxHops = 1
			got, err = st.Reach(ctx, []string{a}, path)
			require.NoError(t, err)
			assert.Equal(t, []string{urlA, urlB}, reachedURLs(got))

			// On a cycle the origin comes back around.
			path.MinHops, path.MaxHops = 1, 10
			got, err = st.Reach(ctx, []string{a}, path)
			require.NoError(t, err)
			assert.Equal(t, []string{urlB, urlC, urlA}, reachedURLs(got))
			assert.Equal(t, 3, got[2].Depth)

			path.MinHops, path.MaxHops = 1, 2
			got, err = st.Reach(ctx, []string{a}, path)
			require.NoError(t, err)
			assert.Equal(t, []string{urlB, urlC}, reachedURLs(got))
		})
	}
}

func TestReach_BothDirections(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			path := store.Path{
				Hop:     store.Hop{Edge: graph.EdgeUpstream, Direction: store.Both, Kind: graph.KindSourceLocation},
				MaxHops: 256,
			}
			got, err := st.Reach(ctx, []string{slID(t, urlU)}, path)
			require.NoError(t, err)
			assert.Equal(t, []string{urlU, urlA}, reachedURLs(got))
		})
	}
}

func TestReach_UnknownAndInvalid(t *testing.T) {
	ctx := context.Background()
	for name, st := range testutil.Backends(t, cycleDoc()) {
		t.Run(name, func(t *testing.T) {
			path := store.Path{Hop: store.Hop{Edge: graph.EdgeSupersedes, Direction: store.Outgoing}, MaxHops: 3}

			got, err := st.Reach(ctx, []string{"does-not-exist"}, path)
			require.NoError(t, err)
			assert.Empty(t, got)

			_, err = st.Reach(ctx, []string{slID(t, urlA)}, store.Path{Hop: path.Hop, MinHops: 2, MaxHops: 1})
			assert.ErrorIs(t, err, store.ErrHopRange)
		})
	}
}

func TestPathValidate(t *testing.T) {
	assert.NoError(t, store.Path{MinHops: 0, MaxHops: 0}.Validate())
	assert.ErrorIs(t, store.Path{MinHops: -1, MaxHops: 1}.Validate(), store.ErrHopRange)
	assert.ErrorIs(t, store.Path{MinHops: 3, MaxHops: 2}.Validate(), store.ErrHopRange)
}

func TestHopMatches(t *testing.T) {
	n, err := graph.Build{ID: "7", Type: graph.TypeRPM}.Node()
	require.NoError(t, err)

	assert.True(t, store.Hop{}.Matches(n))
	assert.True(t, store.Hop{Kind: graph.KindBuild, Where: map[string]string{graph.PropType: graph.TypeRPM}}.Matches(n))
	assert.False(t, store.Hop{Kind: graph.KindArtifact}.Matches(n))
	assert.False(t, store.Hop{Where: map[string]string{graph.PropType: graph.TypeContainer}}.Matches(n))
	assert.False(t, store.Hop{}.Matches(nil))
	assert.Equal(t, "both", store.Both.String())
}

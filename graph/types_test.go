package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_IgnoresNonKeyProps(t *testing.T) {
	a, err := Build{ID: "770188", Type: TypeRPM}.Node()
	require.NoError(t, err)
	b, err := Build{ID: "770188", Type: TypeContainer}.Node()
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)

	id, err := BuildNodeID("770188")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}

func TestNodeID_MissingKey(t *testing.T) {
	_, err := SourceLocation{CanonicalVersion: "1.9.3"}.Node()
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = Component{Name: "golang"}.Node()
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestNodeID_NamespaceOptional(t *testing.T) {
	n, err := Component{Name: "golang", Type: "generic"}.Node()
	require.NoError(t, err)
	assert.Equal(t, KindComponent, n.Kind)
	_, has := n.Props[PropCanonicalNamespace]
	assert.False(t, has, "empty props should not be stored")
}

func TestNodeID_UnknownKind(t *testing.T) {
	_, err := NodeID("Snapshot", map[string]string{"id": "x"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestValidateEdge(t *testing.T) {
	tests := []struct {
		name    string
		edge    EdgeType
		src     NodeKind
		dst     NodeKind
		wantErr error
	}{
		{"produced", EdgeProduced, KindBuild, KindArtifact, nil},
		{"supersedes", EdgeSupersedes, KindSourceLocation, KindSourceLocation, nil},
		{"embeds between source locations", EdgeEmbeds, KindSourceLocation, KindSourceLocation, nil},
		{"embeds from build", EdgeEmbeds, KindBuild, KindArtifact, ErrEdgeEndpoints},
		{"reversed built from", EdgeBuiltFrom, KindSourceLocation, KindBuild, ErrEdgeEndpoints},
		{"unknown", EdgeType("CONTAINS"), KindBuild, KindArtifact, ErrUnknownEdgeType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdge(tt.edge, tt.src, tt.dst)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	a := Artifact{ArchiveID: "5818103", Architecture: "x86_64", Filename: "etcd-3.2.22-1.el7.x86_64.rpm", Type: TypeRPM}
	n, err := a.Node()
	require.NoError(t, err)
	assert.Equal(t, a, ArtifactFromNode(n))

	s := SourceLocation{URL: "git://pks.domain.local/rpms/etcd#84858fb", CanonicalVersion: "3.2.22"}
	n, err = s.Node()
	require.NoError(t, err)
	assert.Equal(t, s, SourceLocationFromNode(n))
}

func TestEdgeTypesHaveEndpoints(t *testing.T) {
	for _, et := range EdgeTypes() {
		_, _, ok := et.Endpoints()
		assert.True(t, ok, et)
	}
}

// Package graph provides the provenance graph schema: node kinds, edge types
// and the typed records stored on nodes.
package graph

import (
	"errors"
	"fmt"

	"github.com/lslebodn/assayist/internal/cas"
)

// NodeKind represents the type of a node.
type NodeKind string

const (
	KindComponent      NodeKind = "Component"
	KindSourceLocation NodeKind = "SourceLocation"
	KindBuild          NodeKind = "Build"
	KindArtifact       NodeKind = "Artifact"
)

// EdgeType represents the type of relationship between nodes.
type EdgeType string

const (
	EdgeSourceFor  EdgeType = "SOURCE_FOR" // SourceLocation -> Component
	EdgeSupersedes EdgeType = "SUPERSEDES" // SourceLocation -> previous SourceLocation
	EdgeUpstream   EdgeType = "UPSTREAM"   // SourceLocation -> upstream origin SourceLocation
	EdgeProduced   EdgeType = "PRODUCED"   // Build -> Artifact
	EdgeBuiltFrom  EdgeType = "BUILT_FROM" // Build -> SourceLocation
	EdgeEmbeds     EdgeType = "EMBEDS"     // Artifact -> embedded Artifact
	EdgeBuiltWith  EdgeType = "BUILT_WITH" // Artifact -> buildroot Artifact
)

// Property keys.
const (
	PropCanonicalName      = "canonical_name"
	PropCanonicalType      = "canonical_type"
	PropCanonicalNamespace = "canonical_namespace"
	PropURL                = "url"
	PropCanonicalVersion   = "canonical_version"
	PropID                 = "id"
	PropType               = "type"
	PropArchiveID          = "archive_id"
	PropArchitecture       = "architecture"
	PropFilename           = "filename"
)

// Build and artifact types the traversals care about.
const (
	TypeContainer = "container"
	TypeRPM       = "rpm"
)

var (
	ErrUnknownKind     = errors.New("unknown node kind")
	ErrUnknownEdgeType = errors.New("unknown edge type")
	ErrMissingKey      = errors.New("missing natural key property")
	ErrEdgeEndpoints   = errors.New("edge endpoints do not match schema")
)

// naturalKeys lists the externally assigned properties that identify a node.
var naturalKeys = map[NodeKind][]string{
	KindComponent:      {PropCanonicalName, PropCanonicalType, PropCanonicalNamespace},
	KindSourceLocation: {PropURL},
	KindBuild:          {PropID},
	KindArtifact:       {PropArchiveID},
}

type endpoints struct {
	from, to NodeKind
}

// The first entry of each type is its primary shape. EMBEDS between source
// locations is accepted so graphs that carry it can be walked by the
// embeds-expansion mode of the impact closure.
var edgeSchema = map[EdgeType][]endpoints{
	EdgeSourceFor:  {{KindSourceLocation, KindComponent}},
	EdgeSupersedes: {{KindSourceLocation, KindSourceLocation}},
	EdgeUpstream:   {{KindSourceLocation, KindSourceLocation}},
	EdgeProduced:   {{KindBuild, KindArtifact}},
	EdgeBuiltFrom:  {{KindBuild, KindSourceLocation}},
	EdgeEmbeds:     {{KindArtifact, KindArtifact}, {KindSourceLocation, KindSourceLocation}},
	EdgeBuiltWith:  {{KindArtifact, KindArtifact}},
}

// Node represents a node in the graph.
type Node struct {
	ID        string
	Kind      NodeKind
	Props     map[string]string
	CreatedAt int64
}

// Prop returns a property value, or "" when unset.
func (n *Node) Prop(key string) string {
	if n == nil || n.Props == nil {
		return ""
	}
	return n.Props[key]
}

// Edge represents an edge in the graph.
type Edge struct {
	Src       string
	Type      EdgeType
	Dst       string
	CreatedAt int64
}

// Endpoints returns the node kinds an edge type primarily connects.
func (t EdgeType) Endpoints() (from, to NodeKind, ok bool) {
	eps, ok := edgeSchema[t]
	if !ok {
		return "", "", false
	}
	return eps[0].from, eps[0].to, true
}

// EdgeTypes returns every edge type in the schema.
func EdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeSourceFor, EdgeSupersedes, EdgeUpstream,
		EdgeProduced, EdgeBuiltFrom, EdgeEmbeds, EdgeBuiltWith,
	}
}

// ValidateEdge checks an edge type against the kinds of its endpoints.
func ValidateEdge(t EdgeType, src, dst NodeKind) error {
	eps, ok := edgeSchema[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEdgeType, t)
	}
	for _, ep := range eps {
		if ep.from == src && ep.to == dst {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must connect %s -> %s, got %s -> %s",
		ErrEdgeEndpoints, t, eps[0].from, eps[0].to, src, dst)
}

// NaturalKey returns the properties that identify a node of kind.
func NaturalKey(kind NodeKind) []string {
	return append([]string(nil), naturalKeys[kind]...)
}

// NodeID derives the id of a node from its kind and natural key properties.
func NodeID(kind NodeKind, props map[string]string) (string, error) {
	keys, ok := naturalKeys[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	key := make(map[string]string, len(keys))
	for _, k := range keys {
		v := props[k]
		// A component's namespace is optional; everything else is required.
		if v == "" && k != PropCanonicalNamespace {
			return "", fmt.Errorf("%w: %s.%s", ErrMissingKey, kind, k)
		}
		key[k] = v
	}
	return cas.NodeID(string(kind), key)
}

// NewNode builds a node and derives its id.
func NewNode(kind NodeKind, props map[string]string) (*Node, error) {
	id, err := NodeID(kind, props)
	if err != nil {
		return nil, err
	}
	cp := make(map[string]string, len(props))
	for k, v := range props {
		if v != "" {
			cp[k] = v
		}
	}
	return &Node{ID: id, Kind: kind, Props: cp}, nil
}

// BuildNodeID returns the id of the Build node with the given external id.
func BuildNodeID(buildID string) (string, error) {
	return NodeID(KindBuild, map[string]string{PropID: buildID})
}

// SourceLocationNodeID returns the id of the SourceLocation node with the given url.
func SourceLocationNodeID(url string) (string, error) {
	return NodeID(KindSourceLocation, map[string]string{PropURL: url})
}

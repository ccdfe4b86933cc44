package graph

// Component is a version-independent package identity.
type Component struct {
	Name      string `json:"canonical_name" yaml:"name"`
	Type      string `json:"canonical_type" yaml:"type"`
	Namespace string `json:"canonical_namespace,omitempty" yaml:"namespace,omitempty"`
}

// Node converts the component to a graph node.
func (c Component) Node() (*Node, error) {
	return NewNode(KindComponent, map[string]string{
		PropCanonicalName:      c.Name,
		PropCanonicalType:      c.Type,
		PropCanonicalNamespace: c.Namespace,
	})
}

// ComponentFromNode reads a component back from its node.
func ComponentFromNode(n *Node) Component {
	return Component{
		Name:      n.Prop(PropCanonicalName),
		Type:      n.Prop(PropCanonicalType),
		Namespace: n.Prop(PropCanonicalNamespace),
	}
}

// SourceLocation is one version-specific checkout or tarball.
type SourceLocation struct {
	URL              string `json:"url" yaml:"url"`
	CanonicalVersion string `json:"canonical_version,omitempty" yaml:"version,omitempty"`
}

// Node converts the source location to a graph node.
func (s SourceLocation) Node() (*Node, error) {
	return NewNode(KindSourceLocation, map[string]string{
		PropURL:              s.URL,
		PropCanonicalVersion: s.CanonicalVersion,
	})
}

// SourceLocationFromNode reads a source location back from its node.
func SourceLocationFromNode(n *Node) SourceLocation {
	return SourceLocation{
		URL:              n.Prop(PropURL),
		CanonicalVersion: n.Prop(PropCanonicalVersion),
	}
}

// Build is one build event.
type Build struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Node converts the build to a graph node.
func (b Build) Node() (*Node, error) {
	return NewNode(KindBuild, map[string]string{
		PropID:   b.ID,
		PropType: b.Type,
	})
}

// BuildFromNode reads a build back from its node.
func BuildFromNode(n *Node) Build {
	return Build{ID: n.Prop(PropID), Type: n.Prop(PropType)}
}

// Artifact is one binary output of a build.
type Artifact struct {
	ArchiveID    string `json:"archive_id" yaml:"archive_id"`
	Architecture string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Filename     string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Node converts the artifact to a graph node.
func (a Artifact) Node() (*Node, error) {
	return NewNode(KindArtifact, map[string]string{
		PropArchiveID:    a.ArchiveID,
		PropArchitecture: a.Architecture,
		PropFilename:     a.Filename,
		PropType:         a.Type,
	})
}

// ArtifactFromNode reads an artifact back from its node.
func ArtifactFromNode(n *Node) Artifact {
	return Artifact{
		ArchiveID:    n.Prop(PropArchiveID),
		Architecture: n.Prop(PropArchitecture),
		Filename:     n.Prop(PropFilename),
		Type:         n.Prop(PropType),
	}
}

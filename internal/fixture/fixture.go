// Package fixture reads provenance graph documents and writes them into a
// store. Documents are YAML, optionally zstd-compressed, and describe
// components, source locations, builds and artifacts together with the
// relationships between them.
//
// Fixtures seed test and demo stores; they are not an ingestion pipeline.
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

// Document is one fixture file.
type Document struct {
	Components      []graph.Component `yaml:"components,omitempty"`
	SourceLocations []SourceLocation  `yaml:"source_locations,omitempty"`
	Builds          []Build           `yaml:"builds,omitempty"`
}

// SourceLocation describes a source location and its outgoing edges.
// Referenced urls that are not declared elsewhere are created as bare
// source locations.
type SourceLocation struct {
	URL     string `yaml:"url"`
	Version string `yaml:"version,omitempty"`
	// Component gets a SOURCE_FOR edge.
	Component *graph.Component `yaml:"component,omitempty"`
	// Supersedes is the url of the previous version.
	Supersedes string `yaml:"supersedes,omitempty"`
	// Upstream is the url of the upstream origin.
	Upstream string `yaml:"upstream,omitempty"`
	// Embeds lists source-level EMBEDS targets by url.
	Embeds []string `yaml:"embeds,omitempty"`
}

// Build describes a build, the source it was built from and its artifacts.
type Build struct {
	ID        string     `yaml:"id"`
	Type      string     `yaml:"type,omitempty"`
	Source    string     `yaml:"source,omitempty"`
	Artifacts []Artifact `yaml:"artifacts,omitempty"`
}

// Artifact is a produced artifact. Embeds and BuiltWith reference other
// artifacts by archive id, in this document or already in the store.
type Artifact struct {
	graph.Artifact `yaml:",inline"`
	Embeds         []string `yaml:"embeds,omitempty"`
	BuiltWith      []string `yaml:"built_with,omitempty"`
}

// Stats counts what Apply wrote. Writes are idempotent, so these are
// attempted writes rather than newly created rows.
type Stats struct {
	Nodes int `json:"nodes" yaml:"nodes"`
	Edges int `json:"edges" yaml:"edges"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Nodes += other.Nodes
	s.Edges += other.Edges
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &doc, nil
}

// Marshal encodes a document as YAML.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding fixture: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFile reads a fixture from disk. Files ending in .zst are decompressed.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	if strings.HasSuffix(path, ".zst") {
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// WriteFile writes a fixture to disk, compressing it when path ends in .zst.
func WriteFile(path string, doc *Document) error {
	data, err := Marshal(doc)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}
	return os.WriteFile(path, data, 0644)
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// Expand resolves glob patterns (with ** support) to a sorted list of files.
// A pattern without glob characters must name an existing file.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err != nil {
				return nil, fmt.Errorf("no fixture matches %q", pattern)
			}
			matches = []string{pattern}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Apply writes every node of the document first and then every edge, so edges
// may reference nodes declared later in the same document.
func (d *Document) Apply(ctx context.Context, w store.Writer) (Stats, error) {
	return ApplyAll(ctx, w, d)
}

// ApplyAll writes docs as if they were one document. Source locations
// declared in any of them are written before bare url references from any
// of them, so a declared version is kept regardless of document order.
func ApplyAll(ctx context.Context, w store.Writer, docs ...*Document) (Stats, error) {
	a := applier{w: w, written: make(map[string]struct{})}
	for _, d := range docs {
		if err := a.declared(ctx, d); err != nil {
			return a.stats, err
		}
	}
	for _, d := range docs {
		if err := a.references(ctx, d); err != nil {
			return a.stats, err
		}
	}
	for _, d := range docs {
		if err := a.edges(ctx, d); err != nil {
			return a.stats, err
		}
	}
	return a.stats, nil
}

type applier struct {
	w       store.Writer
	stats   Stats
	written map[string]struct{}
}

type noder interface {
	Node() (*graph.Node, error)
}

func (a *applier) put(ctx context.Context, r noder) (string, error) {
	n, err := r.Node()
	if err != nil {
		return "", err
	}
	if _, ok := a.written[n.ID]; ok {
		return n.ID, nil
	}
	if err := a.w.PutNode(ctx, n); err != nil {
		return "", err
	}
	a.written[n.ID] = struct{}{}
	a.stats.Nodes++
	return n.ID, nil
}

// declared writes components and declared source locations.
func (a *applier) declared(ctx context.Context, d *Document) error {
	for _, c := range d.Components {
		if _, err := a.put(ctx, c); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	for _, sl := range d.SourceLocations {
		if _, err := a.put(ctx, graph.SourceLocation{URL: sl.URL, CanonicalVersion: sl.Version}); err != nil {
			return fmt.Errorf("source location %s: %w", sl.URL, err)
		}
	}
	return nil
}

// references writes everything else: source locations known only by url,
// builds and artifacts.
func (a *applier) references(ctx context.Context, d *Document) error {
	for _, sl := range d.SourceLocations {
		if sl.Component != nil {
			if _, err := a.put(ctx, *sl.Component); err != nil {
				return fmt.Errorf("component of %s: %w", sl.URL, err)
			}
		}
		refs := append([]string{sl.Supersedes, sl.Upstream}, sl.Embeds...)
		for _, ref := range refs {
			if ref == "" {
				continue
			}
			if _, err := a.put(ctx, graph.SourceLocation{URL: ref}); err != nil {
				return fmt.Errorf("source location %s: %w", ref, err)
			}
		}
	}
	for _, b := range d.Builds {
		if _, err := a.put(ctx, graph.Build{ID: b.ID, Type: b.Type}); err != nil {
			return fmt.Errorf("build %s: %w", b.ID, err)
		}
		if b.Source != "" {
			if _, err := a.put(ctx, graph.SourceLocation{URL: b.Source}); err != nil {
				return fmt.Errorf("source of build %s: %w", b.ID, err)
			}
		}
		for _, art := range b.Artifacts {
			if _, err := a.put(ctx, art.Artifact); err != nil {
				return fmt.Errorf("artifact of build %s: %w", b.ID, err)
			}
		}
	}
	return nil
}

func (a *applier) link(ctx context.Context, src string, t graph.EdgeType, dst string) error {
	if err := a.w.PutEdge(ctx, graph.Edge{Src: src, Type: t, Dst: dst}); err != nil {
		return fmt.Errorf("%s edge: %w", t, err)
	}
	a.stats.Edges++
	return nil
}

type urlEdge struct {
	t   graph.EdgeType
	url string
}

func (a *applier) edges(ctx context.Context, d *Document) error {
	for _, sl := range d.SourceLocations {
		src, err := graph.SourceLocationNodeID(sl.URL)
		if err != nil {
			return err
		}
		if sl.Component != nil {
			c, err := sl.Component.Node()
			if err != nil {
				return err
			}
			if err := a.link(ctx, src, graph.EdgeSourceFor, c.ID); err != nil {
				return err
			}
		}
		targets := []urlEdge{{graph.EdgeSupersedes, sl.Supersedes}, {graph.EdgeUpstream, sl.Upstream}}
		for _, e := range sl.Embeds {
			targets = append(targets, urlEdge{graph.EdgeEmbeds, e})
		}
		for _, tgt := range targets {
			if tgt.url == "" {
				continue
			}
			dst, err := graph.SourceLocationNodeID(tgt.url)
			if err != nil {
				return err
			}
			if err := a.link(ctx, src, tgt.t, dst); err != nil {
				return err
			}
		}
	}

	for _, b := range d.Builds {
		build, err := graph.BuildNodeID(b.ID)
		if err != nil {
			return err
		}
		if b.Source != "" {
			sl, err := graph.SourceLocationNodeID(b.Source)
			if err != nil {
				return err
			}
			if err := a.link(ctx, build, graph.EdgeBuiltFrom, sl); err != nil {
				return err
			}
		}
		for _, art := range b.Artifacts {
			n, err := art.Artifact.Node()
			if err != nil {
				return err
			}
			if err := a.link(ctx, build, graph.EdgeProduced, n.ID); err != nil {
				return err
			}
			if err := a.linkArtifacts(ctx, n.ID, graph.EdgeEmbeds, art.Embeds); err != nil {
				return err
			}
			if err := a.linkArtifacts(ctx, n.ID, graph.EdgeBuiltWith, art.BuiltWith); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) linkArtifacts(ctx context.Context, src string, t graph.EdgeType, archiveIDs []string) error {
	for _, archiveID := range archiveIDs {
		dst, err := graph.NodeID(graph.KindArtifact, map[string]string{graph.PropArchiveID: archiveID})
		if err != nil {
			return err
		}
		if err := a.link(ctx, src, t, dst); err != nil {
			return fmt.Errorf("artifact %s: %w", archiveID, err)
		}
	}
	return nil
}

// Package proto defines wire format DTOs for the assayist HTTP API.
package proto

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SourceLocation is a source location in a version history.
type SourceLocation struct {
	URL              string `json:"url"`
	CanonicalVersion string `json:"canonicalVersion,omitempty"`
	// Distance is the number of SUPERSEDES hops from the queried version.
	Distance int `json:"distance"`
}

// VersionHistoryResponse lists a version and its predecessors, nearest first.
type VersionHistoryResponse struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Version  string            `json:"version"`
	Versions []*SourceLocation `json:"versions"`
}

// ContentSourcesResponse holds index-aligned internal and upstream urls.
type ContentSourcesResponse struct {
	BuildID      string    `json:"buildId"`
	InternalURLs []string  `json:"internalUrls"`
	UpstreamURLs []*string `json:"upstreamUrls"`
}

// SourceLocationRef identifies a source location in an impact request.
type SourceLocationRef struct {
	URL string `json:"url"`
}

// ImpactRequest asks which container builds a set of sources affects.
type ImpactRequest struct {
	SourceLocations []SourceLocationRef `json:"sourceLocations"`
	// Explain adds the per-path breakdown to the response.
	Explain bool `json:"explain,omitempty"`
}

// ImpactResponse lists affected container build ids, sorted.
type ImpactResponse struct {
	Builds  []string       `json:"builds"`
	Explain *ImpactExplain `json:"explain,omitempty"`
}

// ImpactExplain breaks an impact result down by propagation path.
type ImpactExplain struct {
	Unresolved         []string `json:"unresolved,omitempty"`
	Equivalent         []string `json:"equivalent"`
	SourceBuilds       []string `json:"sourceBuilds"`
	SourceArtifacts    []string `json:"sourceArtifacts"`
	AffectedContainers []string `json:"affectedContainers"`
	BuiltWithContainer []string `json:"builtWithContainer"`
	BuiltWithSource    []string `json:"builtWithSource"`
}

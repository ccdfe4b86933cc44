// Package query is the public entry point for provenance questions. It
// validates arguments, runs the traversal engine and shapes its results.
package query

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lslebodn/assayist/store"
	"github.com/lslebodn/assayist/traverse"
)

// Options configures a Service.
type Options struct {
	// Logger receives one debug entry per query. Nil discards.
	Logger *logrus.Logger
	// MaxHops bounds variable-length walks. Zero means traverse.DefaultMaxHops.
	MaxHops int
	// EmbedsExpansion enables source-level EMBEDS expansion in impact queries.
	EmbedsExpansion bool
}

// Service answers provenance queries against a store. It is safe for
// concurrent use.
type Service struct {
	engine *traverse.Engine
	log    *logrus.Logger
}

// New creates a service over st.
func New(st store.Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Service{
		engine: traverse.New(st,
			traverse.WithMaxHops(opts.MaxHops),
			traverse.WithEmbedsExpansion(opts.EmbedsExpansion),
		),
		log: log,
	}
}

// SourceLocationRecord is one entry of a version history.
type SourceLocationRecord struct {
	URL              string `json:"url" yaml:"url"`
	CanonicalVersion string `json:"canonical_version,omitempty" yaml:"canonical_version,omitempty"`
	// Distance is the number of SUPERSEDES hops from the queried version.
	Distance int `json:"distance" yaml:"distance"`
}

// ContentSourcesResult holds index-aligned internal and upstream urls. An
// upstream entry is nil when the internal source has no upstream.
type ContentSourcesResult struct {
	InternalURLs []string  `json:"internal_urls" yaml:"internal_urls"`
	UpstreamURLs []*string `json:"upstream_urls" yaml:"upstream_urls"`
}

// SourceLocationInput identifies a source location by url.
type SourceLocationInput struct {
	URL string `json:"url" yaml:"url"`
}

// VersionHistory returns the source location of a component version and all
// earlier versions, nearest first.
func (s *Service) VersionHistory(ctx context.Context, name, typ, version string) ([]SourceLocationRecord, error) {
	q := s.begin("version_history", logrus.Fields{"name": name, "type": typ, "version": version})

	for _, f := range [][2]string{{"name", name}, {"type", typ}, {"version", version}} {
		if strings.TrimSpace(f[1]) == "" {
			return nil, q.done(0, invalid("component %s is required", f[0]))
		}
	}

	versions, err := s.engine.VersionHistory(ctx, name, typ, version)
	if err != nil {
		return nil, q.done(0, classify("version_history", err))
	}

	out := make([]SourceLocationRecord, len(versions))
	for i, v := range versions {
		out[i] = SourceLocationRecord{URL: v.URL, CanonicalVersion: v.CanonicalVersion, Distance: v.Distance}
	}
	return out, q.done(len(out), nil)
}

// ContentSources returns the internal and upstream sources of the content
// embedded in what the build produced.
func (s *Service) ContentSources(ctx context.Context, buildID string) (*ContentSourcesResult, error) {
	q := s.begin("content_sources", logrus.Fields{"build": buildID})

	if err := validateBuildID(buildID); err != nil {
		return nil, q.done(0, err)
	}

	sources, err := s.engine.ContentSources(ctx, buildID)
	if err != nil {
		return nil, q.done(0, classify("content_sources", err))
	}

	res := &ContentSourcesResult{
		InternalURLs: make([]string, len(sources)),
		UpstreamURLs: make([]*string, len(sources)),
	}
	for i, cs := range sources {
		res.InternalURLs[i] = cs.Internal
		res.UpstreamURLs[i] = cs.Upstream
	}
	return res, q.done(len(sources), nil)
}

// ImpactedContainerBuilds returns the sorted ids of container builds
// affected by the given source locations.
func (s *Service) ImpactedContainerBuilds(ctx context.Context, locations []SourceLocationInput) ([]string, error) {
	report, err := s.impact(ctx, "impacted_container_builds", locations)
	if err != nil {
		return nil, err
	}
	return report.Builds, nil
}

// Impact is ImpactedContainerBuilds with the per-path breakdown.
func (s *Service) Impact(ctx context.Context, locations []SourceLocationInput) (*traverse.ImpactReport, error) {
	return s.impact(ctx, "impact", locations)
}

func (s *Service) impact(ctx context.Context, op string, locations []SourceLocationInput) (*traverse.ImpactReport, error) {
	q := s.begin(op, logrus.Fields{"locations": len(locations)})

	urls, err := validateLocations(locations)
	if err != nil {
		return nil, q.done(0, err)
	}

	report, err := s.engine.Impact(ctx, urls)
	if err != nil {
		return nil, q.done(0, classify(op, err))
	}
	if report.Builds == nil {
		report.Builds = []string{}
	}
	if len(report.Unresolved) > 0 {
		q.entry.WithField("unresolved", report.Unresolved).Debug("ignoring unknown source locations")
	}
	return report, q.done(len(report.Builds), nil)
}

func validateBuildID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("build id is required")
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return invalid("malformed build id %q", id)
	}
	return nil
}

func validateLocations(locations []SourceLocationInput) ([]string, error) {
	if len(locations) == 0 {
		return nil, invalid("at least one source location is required")
	}
	urls := make([]string, len(locations))
	for i, loc := range locations {
		if strings.TrimSpace(loc.URL) == "" {
			return nil, invalid("source location %d has no url", i)
		}
		urls[i] = loc.URL
	}
	return urls, nil
}

// classify maps engine errors onto the public taxonomy. Anything that is not
// a missing anchor came from the store.
func classify(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

type queryLog struct {
	entry *logrus.Entry
	start time.Time
}

func (s *Service) begin(op string, fields logrus.Fields) queryLog {
	return queryLog{
		entry: s.log.WithFields(fields).WithFields(logrus.Fields{
			"op":       op,
			"query_id": uuid.NewString(),
		}),
		start: time.Now(),
	}
}

func (q queryLog) done(results int, err error) error {
	e := q.entry.WithFields(logrus.Fields{
		"results":  results,
		"duration": time.Since(q.start),
	})
	if err != nil {
		e.WithError(err).Debug("query failed")
		return err
	}
	e.Debug("query done")
	return nil
}

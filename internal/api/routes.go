package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/lslebodn/assayist/internal/config"
	"github.com/lslebodn/assayist/internal/proto"
	"github.com/lslebodn/assayist/query"
)

// maxBodySize caps impact request bodies.
const maxBodySize = 4 << 20

// Handler serves provenance queries over HTTP.
type Handler struct {
	svc *query.Service
	cfg *config.Config
	log *logrus.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *query.Service, cfg *config.Config, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, cfg: cfg, log: log}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(svc *query.Service, cfg *config.Config, log *logrus.Logger) http.Handler {
	h := NewHandler(svc, cfg, log)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("GET /v1/components/{type}/{name}/versions/{version}/history", h.VersionHistory)
	mux.HandleFunc("GET /v1/builds/{id}/content-sources", h.ContentSources)
	mux.HandleFunc("POST /v1/impact", h.Impact)

	return mux
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	})
}

// ----- Queries -----

func (h *Handler) VersionHistory(w http.ResponseWriter, r *http.Request) {
	name, typ, version := r.PathValue("name"), r.PathValue("type"), r.PathValue("version")

	records, err := h.svc.VersionHistory(r.Context(), name, typ, version)
	if err != nil {
		h.queryError(w, err)
		return
	}

	resp := proto.VersionHistoryResponse{
		Name:     name,
		Type:     typ,
		Version:  version,
		Versions: make([]*proto.SourceLocation, len(records)),
	}
	for i, rec := range records {
		resp.Versions[i] = &proto.SourceLocation{
			URL:              rec.URL,
			CanonicalVersion: rec.CanonicalVersion,
			Distance:         rec.Distance,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ContentSources(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.svc.ContentSources(r.Context(), id)
	if err != nil {
		h.queryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, proto.ContentSourcesResponse{
		BuildID:      id,
		InternalURLs: res.InternalURLs,
		UpstreamURLs: res.UpstreamURLs,
	})
}

func (h *Handler) Impact(w http.ResponseWriter, r *http.Request) {
	var req proto.ImpactRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	locations := make([]query.SourceLocationInput, len(req.SourceLocations))
	for i, sl := range req.SourceLocations {
		locations[i] = query.SourceLocationInput{URL: sl.URL}
	}

	report, err := h.svc.Impact(r.Context(), locations)
	if err != nil {
		h.queryError(w, err)
		return
	}

	resp := proto.ImpactResponse{Builds: report.Builds}
	if req.Explain {
		resp.Explain = &proto.ImpactExplain{
			Unresolved:         report.Unresolved,
			Equivalent:         report.Equivalent,
			SourceBuilds:       report.SourceBuilds,
			SourceArtifacts:    report.SourceArtifacts,
			AffectedContainers: report.AffectedContainers,
			BuiltWithContainer: report.BuiltWithContainer,
			BuiltWithSource:    report.BuiltWithSource,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryError maps the query error taxonomy onto HTTP statuses.
func (h *Handler) queryError(w http.ResponseWriter, err error) {
	var se *query.StoreError
	switch {
	case errors.Is(err, query.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input", err)
	case errors.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "query timeout", err)
	case errors.As(err, &se):
		h.log.WithError(err).WithField("op", se.Op).Error("store failure")
		writeError(w, http.StatusServiceUnavailable, "store error", nil)
	default:
		h.log.WithError(err).Error("query failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := proto.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

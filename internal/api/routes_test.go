package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/internal/config"
	"github.com/lslebodn/assayist/internal/fixture"
	"github.com/lslebodn/assayist/internal/proto"
	"github.com/lslebodn/assayist/internal/testutil"
	"github.com/lslebodn/assayist/query"
	"github.com/lslebodn/assayist/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupRouter(t *testing.T, docs ...*fixture.Document) http.Handler {
	t.Helper()
	svc := query.New(testutil.SeedSQLite(t, docs...), query.Options{})
	return NewRouter(svc, &config.Config{Version: "1.0.0"}, quietLogger())
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := NewHandler(nil, &config.Config{Version: "1.0.0"}, quietLogger())

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp proto.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestVersionHistory(t *testing.T) {
	router := setupRouter(t, testutil.VersionChain())

	w := do(t, router, "GET", "/v1/components/generic/golang/versions/1.9.4/history", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.VersionHistoryResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Versions, 2)
	assert.Equal(t, testutil.GolangURL("1.9.4"), resp.Versions[0].URL)
	assert.Equal(t, "1.9.3", resp.Versions[1].CanonicalVersion)
	assert.Equal(t, 1, resp.Versions[1].Distance)

	w = do(t, router, "GET", "/v1/components/generic/golang/versions/9.9/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentSources(t *testing.T) {
	router := setupRouter(t, testutil.ContentScenario())

	w := do(t, router, "GET", "/v1/builds/"+testutil.ContainerBuildID+"/content-sources", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.ContentSourcesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{testutil.EtcdInternalURL, testutil.YumUtilsInternalURL}, resp.InternalURLs)
	require.Len(t, resp.UpstreamURLs, 2)
	assert.Equal(t, testutil.EtcdUpstreamURL, *resp.UpstreamURLs[0])

	w = do(t, router, "GET", "/v1/builds/1/content-sources", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentSources_NullUpstream(t *testing.T) {
	router := setupRouter(t, testutil.ContentScenario())

	w := do(t, router, "GET", "/v1/builds/770188/content-sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"upstreamUrls":[null]`)
}

func TestImpact(t *testing.T) {
	s := testutil.NewImpactScenario()
	router := setupRouter(t, s.Doc)

	req := proto.ImpactRequest{Explain: true}
	for _, u := range s.QueryURLs() {
		req.SourceLocations = append(req.SourceLocations, proto.SourceLocationRef{URL: u})
	}

	w := do(t, router, "POST", "/v1/impact", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.ImpactResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, s.Expected, resp.Builds)
	require.NotNil(t, resp.Explain)
	assert.Equal(t, []string{s.PrometheusContainerBuild}, resp.Explain.BuiltWithSource)
}

func TestImpact_Empty(t *testing.T) {
	router := setupRouter(t, testutil.VersionChain())

	w := do(t, router, "POST", "/v1/impact", proto.ImpactRequest{
		SourceLocations: []proto.SourceLocationRef{{URL: "git://nowhere#0"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"builds":[]}`, w.Body.String())
}

func TestImpact_InvalidInput(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty list", `{"sourceLocations":[]}`},
		{"missing url", `{"sourceLocations":[{"url":""}]}`},
		{"wrong shape", `{"sourceLocations":"git://a"}`},
		{"unknown field", `{"sourceLocations":[{"uri":"git://a"}]}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/impact", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp proto.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

type failingStore struct{ err error }

func (f failingStore) Match(context.Context, graph.NodeKind, map[string]string) ([]*graph.Node, error) {
	return nil, f.err
}

func (f failingStore) MatchAny(context.Context, graph.NodeKind, string, []string) ([]*graph.Node, error) {
	return nil, f.err
}

func (f failingStore) Neighbors(context.Context, []string, store.Hop) (map[string][]*graph.Node, error) {
	return nil, f.err
}

func (f failingStore) Reach(context.Context, []string, store.Path) ([]store.Reached, error) {
	return nil, f.err
}

func (f failingStore) Close() error { return nil }

func TestStoreErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errors.New("disk I/O error"), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		svc := query.New(failingStore{err: tt.err}, query.Options{})
		router := NewRouter(svc, &config.Config{}, quietLogger())

		w := do(t, router, "GET", "/v1/builds/1/content-sources", nil)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		assert.NotContains(t, w.Body.String(), "disk I/O")
	}
}

func TestWithDefaults_Gzip(t *testing.T) {
	handler := WithDefaults(setupRouter(t, testutil.VersionChain()), quietLogger(), time.Minute)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	gr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var resp proto.HealthResponse
	require.NoError(t, json.NewDecoder(gr).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestWithDefaults_GzipRequestBody(t *testing.T) {
	s := testutil.NewImpactScenario()
	handler := WithDefaults(setupRouter(t, s.Doc), quietLogger(), time.Minute)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	require.NoError(t, json.NewEncoder(gz).Encode(proto.ImpactRequest{
		SourceLocations: []proto.SourceLocationRef{{URL: s.Queried["1.9.3"]}},
	}))
	require.NoError(t, gz.Close())

	req := httptest.NewRequest("POST", "/v1/impact", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp proto.ImpactResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{s.PrometheusContainerBuild}, resp.Builds)
}

func TestLoggingMiddleware(t *testing.T) {
	var logs bytes.Buffer
	log := logrus.New()
	log.SetOutput(&logs)

	h := LoggingMiddleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Contains(t, logs.String(), "request_id="+id)
	assert.Contains(t, logs.String(), "level=warning")
	assert.Contains(t, logs.String(), "status=418")
	assert.Contains(t, logs.String(), "bytes=15")
	assert.Contains(t, logs.String(), "path=/x")
}

func TestLoggingMiddleware_KeepsClientRequestID(t *testing.T) {
	var logs bytes.Buffer
	log := logrus.New()
	log.SetOutput(&logs)

	h := LoggingMiddleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(RequestIDHeader, "scan-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "scan-42", w.Header().Get(RequestIDHeader))
	assert.Contains(t, logs.String(), "request_id=scan-42")
	assert.Contains(t, logs.String(), "level=error")
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	w := httptest.NewRecorder()
	TimeoutMiddleware(slow, 10*time.Millisecond).ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"query timed out"}`, w.Body.String())

	assert.NotNil(t, TimeoutMiddleware(slow, 0))
}

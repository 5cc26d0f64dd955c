package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssw-flow-tracer/internal/imprint"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	content := `
app:
  log_level: error
tracker:
  max_nodes: 10000
  max_depth: 20
  interner_capacity: 20000
server:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	application, err := New(path)
	require.NoError(t, err)
	return application
}

func postObservations(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/observe", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestObserveEndpointRecordsFlows(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	rec := postObservations(t, router, `[
		{"object_id":"o1","method_signature":"A.alloc","ref_count":1},
		{"object_id":"o1","method_signature":"B.use","ref_count":1},
		{"object_id":"o1","method_signature":"C.free","ref_count":0}
	]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result["accepted"])

	stats := application.Tracker().Stats()
	assert.Equal(t, int64(1), stats.CleanReleases)
	assert.Equal(t, 0, stats.ActiveFlows)
	assert.Equal(t, int64(3), stats.NodeCount)
}

func TestObserveEndpointRejectsGarbage(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	rec := postObservations(t, router, `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Records missing required fields are skipped, not fatal.
	rec = postObservations(t, router, `[{"object_id":"","method_signature":"A.a","ref_count":1}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result["accepted"])
}

func TestTrieEndpoints(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	postObservations(t, router, `[
		{"object_id":"o1","method_signature":"A.alloc","ref_count":1},
		{"object_id":"o1","method_signature":"B.use","ref_count":1},
		{"object_id":"o1","method_signature":"C.free","ref_count":0}
	]`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trie", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view imprint.TrieView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Roots, 1)
	assert.Equal(t, "A.alloc", view.Roots[0].Signature)
	assert.Equal(t, int64(3), view.NodeCount)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/trie/text", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "A.alloc [b1]")
	assert.Contains(t, rec.Body.String(), "clean=1")
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "tracker")
	assert.Contains(t, payload, "leak_queue")
	assert.Contains(t, payload, "pusher")
}

func TestResetEndpoint(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	postObservations(t, router, `[
		{"object_id":"o1","method_signature":"A.alloc","ref_count":1}
	]`)
	require.Equal(t, 1, application.Tracker().Stats().ActiveFlows)

	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := application.Tracker().Stats()
	assert.Zero(t, stats.ActiveFlows)
	assert.Zero(t, stats.NodeCount)
	assert.Zero(t, stats.Observations)
}

func TestObserveFlushTurnsHeldFlowsIntoLeaks(t *testing.T) {
	application := newTestApp(t)
	router := application.Router()

	postObservations(t, router, `[
		{"object_id":"o1","method_signature":"A.alloc","ref_count":1},
		{"object_id":"o2","method_signature":"A.alloc","ref_count":1}
	]`)
	require.Equal(t, 2, application.Tracker().Stats().ActiveFlows)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/observe/flush", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result["flushed"])
}

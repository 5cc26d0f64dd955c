// Package app HTTP handlers for the management API
package app

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/pkg/types"
)

// metricsMiddleware records response time for all management endpoints
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.ResponseTimeSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// registerHandlers configures the management API routes.
//
// Core endpoints:
//   - GET  /health            : application and component health status
//   - GET  /stats             : tracker, queue, pusher and reload statistics
//   - GET  /api/v1/trie       : JSON render of the imprint trie
//   - GET  /api/v1/trie/text  : human-readable render of the imprint trie
//   - POST /api/v1/observe    : feed observation records (testing, replay)
//   - POST /api/v1/observe/flush : drop replayed objects so GC reclaims them
//   - POST /reset             : zero all tracker state
//   - POST /config/reload     : force a configuration reload
//   - GET  /metrics           : Prometheus metrics
func (app *App) registerHandlers(router *mux.Router) {
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", app.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/trie", app.handleTrieJSON).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/trie/text", app.handleTrieText).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/observe", app.handleObserve).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/observe/flush", app.handleObserveFlush).Methods(http.MethodPost)
	router.HandleFunc("/reset", app.handleReset).Methods(http.MethodPost)
	router.HandleFunc("/config/reload", app.handleConfigReload).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	sinkHealth := make(map[string]bool, len(app.leakSinks))
	healthy := true
	for _, sink := range app.leakSinks {
		stats := sink.Stats()
		sinkHealth[stats.SinkType] = stats.Healthy
		if !stats.Healthy {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"uptime":     time.Since(app.startedAt).String(),
		"goroutines": runtime.NumGoroutine(),
		"sinks":      sinkHealth,
	})
}

func (app *App) handleStats(w http.ResponseWriter, r *http.Request) {
	// Aggregates should include recently reclaimed objects.
	app.flowTracker.ProcessReclamationQueue()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracker":    app.flowTracker.Stats(),
		"leak_queue": app.flowTracker.LeakQueue().Stats(),
		"pusher":     app.pusher.Stats(),
		"hot_reload": app.reloader.GetStats(),
		"resources":  app.resourceMonitor.GetMetrics(),
	})
}

func (app *App) handleTrieJSON(w http.ResponseWriter, r *http.Request) {
	_, span := app.tracingManager.Start(r.Context(), "render.trie_json")
	defer span.End()

	app.flowTracker.ProcessReclamationQueue()
	writeJSON(w, http.StatusOK, app.flowTracker.Trie().Snapshot())
}

func (app *App) handleTrieText(w http.ResponseWriter, r *http.Request) {
	_, span := app.tracingManager.Start(r.Context(), "render.trie_text")
	defer span.End()

	app.flowTracker.ProcessReclamationQueue()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(app.flowTracker.Trie().RenderText()))
}

// handleObserve accepts a JSON array of observation records and routes them
// through the tracker as if instrumentation had produced them. Objects are
// materialized per object id and held until released (ref_count 0), flushed,
// or swept at shutdown.
func (app *App) handleObserve(w http.ResponseWriter, r *http.Request) {
	var observations []types.Observation
	if err := json.NewDecoder(r.Body).Decode(&observations); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid observation payload"})
		return
	}

	accepted := 0
	for _, obs := range observations {
		if obs.ObjectID == "" || obs.MethodSignature == "" {
			continue
		}
		obj := app.replayObjectFor(obs.ObjectID)
		app.flowTracker.RecordMethodCallDirect(obj, obs.MethodSignature, obs.RefCount, obs.Direct)
		if obs.RefCount == 0 {
			app.releaseReplayObject(obs.ObjectID)
		}
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

// handleObserveFlush drops every replayed object reference. The runtime
// reclaims them on its next cycle, which turns their unreleased flows into
// leak events.
func (app *App) handleObserveFlush(w http.ResponseWriter, r *http.Request) {
	app.replayMu.Lock()
	flushed := len(app.replayFlows)
	app.replayFlows = make(map[string]*replayObject)
	app.replayMu.Unlock()

	runtime.GC()
	app.flowTracker.ProcessReclamationQueue()

	writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
}

func (app *App) handleReset(w http.ResponseWriter, r *http.Request) {
	app.replayMu.Lock()
	app.replayFlows = make(map[string]*replayObject)
	app.replayMu.Unlock()

	app.flowTracker.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (app *App) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := app.reloader.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (app *App) replayObjectFor(id string) *replayObject {
	app.replayMu.Lock()
	defer app.replayMu.Unlock()
	obj, ok := app.replayFlows[id]
	if !ok {
		obj = &replayObject{id: id}
		app.replayFlows[id] = obj
	}
	return obj
}

func (app *App) releaseReplayObject(id string) {
	app.replayMu.Lock()
	delete(app.replayFlows, id)
	app.replayMu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

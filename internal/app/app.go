// Package app provides the main application implementation for the SSW Flow
// Tracer.
//
// This package contains the wiring that assembles the tracking engine
// (tracker façade, active flow table, imprint trie) with its delivery and
// observability components: leak-event pusher and sinks, management HTTP
// surface, Prometheus metrics, resource monitoring, configuration hot reload
// and tracing.
//
// The App struct is the main entry point that:
//   - Initializes and coordinates all components
//   - Manages the application lifecycle (start, stop, graceful shutdown)
//   - Provides HTTP endpoints for health, stats, trie rendering and reset
//
// Example usage:
//
//	app, err := app.New("/path/to/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := app.Run(); err != nil {
//		log.Fatal(err)
//	}
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ssw-flow-tracer/internal/config"
	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/internal/sinks"
	"ssw-flow-tracer/internal/tracker"
	"ssw-flow-tracer/pkg/hotreload"
	"ssw-flow-tracer/pkg/monitoring"
	"ssw-flow-tracer/pkg/tracing"
	"ssw-flow-tracer/pkg/types"
)

// App coordinates the tracker and its supporting components.
type App struct {
	config *types.Config
	logger *logrus.Logger

	flowTracker *tracker.Tracker
	pusher      *sinks.Pusher
	leakSinks   []types.LeakSink

	resourceMonitor *monitoring.ResourceMonitor
	reloader        *hotreload.ConfigReloader
	tracingManager  *tracing.Manager

	httpServer *http.Server

	// Replay flows created through the observe endpoint, keyed by the
	// caller-supplied object id. Holding the objects keeps them alive so
	// replayed flows terminate the same way in-process ones do.
	replayMu    sync.Mutex
	replayFlows map[string]*replayObject

	ctx        context.Context
	cancel     context.CancelFunc
	configFile string

	startedAt time.Time
}

// replayObject is the synthetic tracked object behind one replayed flow.
type replayObject struct {
	id string
}

// New creates a fully initialized App from the configuration file.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:      cfg,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		configFile:  configFile,
		replayFlows: make(map[string]*replayObject),
	}

	if err := app.initialize(); err != nil {
		cancel()
		return nil, err
	}
	return app, nil
}

// Run starts all components and blocks until a termination signal arrives,
// then shuts everything down gracefully: reclamation queue drained,
// remaining flows marked as leaks, final push delivered to the sinks.
func (app *App) Run() error {
	app.startedAt = time.Now()
	app.logger.WithFields(logrus.Fields{
		"max_nodes": app.config.Tracker.MaxNodes,
		"max_depth": app.config.Tracker.MaxDepth,
		"sinks":     len(app.leakSinks),
	}).Info("Starting SSW Flow Tracer")

	for _, sink := range app.leakSinks {
		if err := sink.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start sink: %w", err)
		}
	}

	if err := app.pusher.Start(); err != nil {
		return fmt.Errorf("failed to start pusher: %w", err)
	}
	if err := app.resourceMonitor.Start(); err != nil {
		return fmt.Errorf("failed to start resource monitor: %w", err)
	}
	if err := app.reloader.Start(); err != nil {
		app.logger.WithError(err).Warn("Configuration hot reload unavailable")
	}

	g, gctx := errgroup.WithContext(app.ctx)

	if app.config.Server.Enabled {
		g.Go(func() error {
			app.logger.WithFields(logrus.Fields{
				"host": app.config.Server.Host,
				"port": app.config.Server.Port,
			}).Info("Management server listening")
			if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("management server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return app.statsLoop(gctx)
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
			app.cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	app.shutdown()
	return err
}

// statsLoop mirrors tracker counters into the Prometheus gauges and drains
// the reclamation queue on a fixed cadence so leaks surface even when the
// observation stream goes quiet.
func (app *App) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	// Hot-path counters live as plain atomics in the tracker; only their
	// deltas are pushed into the Prometheus counters here.
	var lastObserved, lastDropped, lastClean, lastLeaks, lastQueueDropped, lastOverflows int64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			app.flowTracker.ProcessReclamationQueue()
			metrics.ReclamationDrainDuration.Observe(time.Since(start).Seconds())

			stats := app.flowTracker.Stats()
			metrics.ActiveFlows.Set(float64(stats.ActiveFlows))
			metrics.TrieNodes.Set(float64(stats.NodeCount))
			metrics.TrieRoots.Set(float64(stats.RootCount))
			metrics.InternerSize.Set(float64(stats.InternerSize))

			metrics.ObservationsTotal.WithLabelValues("recorded").Add(float64(stats.Observations - lastObserved))
			metrics.ObservationsTotal.WithLabelValues("dropped").Add(float64(stats.DroppedObservations - lastDropped))
			metrics.FlowOutcomesTotal.WithLabelValues("clean").Add(float64(stats.CleanReleases - lastClean))
			metrics.FlowOutcomesTotal.WithLabelValues("leak").Add(float64(stats.LeaksDetected - lastLeaks))
			lastObserved, lastDropped = stats.Observations, stats.DroppedObservations
			lastClean, lastLeaks = stats.CleanReleases, stats.LeaksDetected

			if dropped := app.flowTracker.LeakQueue().Dropped(); dropped > lastQueueDropped {
				metrics.LeakEventsDropped.Add(float64(dropped - lastQueueDropped))
				lastQueueDropped = dropped
			}
			if overflows := stats.InternerOverflows; overflows > lastOverflows {
				metrics.InternerOverflows.Add(float64(overflows - lastOverflows))
				lastOverflows = overflows
			}

			for _, sink := range app.leakSinks {
				sinkStats := sink.Stats()
				health := 0.0
				if sinkStats.Healthy {
					health = 1.0
				}
				metrics.ComponentHealth.WithLabelValues("sink", sinkStats.SinkType).Set(health)
			}
		}
	}
}

// shutdown stops components in reverse dependency order.
func (app *App) shutdown() {
	app.logger.Info("Shutting down")

	if app.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		app.httpServer.Shutdown(shutdownCtx)
		cancel()
	}

	app.reloader.Stop()
	app.resourceMonitor.Stop()

	// Finalization: drain the reclamation queue, mark remaining flows as
	// leaks, then let the pusher's final drain deliver the events.
	app.flowTracker.Shutdown()
	app.pusher.Stop()

	for _, sink := range app.leakSinks {
		if err := sink.Stop(); err != nil {
			app.logger.WithError(err).Warn("Sink stop failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	app.tracingManager.Shutdown(shutdownCtx)
	cancel()

	app.logger.WithField("uptime", time.Since(app.startedAt)).Info("Shutdown complete")
}

// Tracker exposes the tracker for library embedding.
func (app *App) Tracker() *tracker.Tracker {
	return app.flowTracker
}

// Router builds the HTTP router; split out so tests can exercise the API
// without a listening socket.
func (app *App) Router() *mux.Router {
	router := mux.NewRouter()
	app.registerHandlers(router)
	return router
}

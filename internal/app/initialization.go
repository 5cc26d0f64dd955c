package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/internal/sinks"
	"ssw-flow-tracer/internal/tracker"
	"ssw-flow-tracer/pkg/hotreload"
	"ssw-flow-tracer/pkg/monitoring"
	"ssw-flow-tracer/pkg/tracing"
	"ssw-flow-tracer/pkg/types"
)

// initialize builds all components from the loaded configuration.
func (app *App) initialize() error {
	metrics.Register()

	var err error
	app.tracingManager, err = tracing.New(app.config.Tracing, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.flowTracker = tracker.Configure(tracker.New(app.config.Tracker, app.logger))

	if err := app.initializeSinks(); err != nil {
		return err
	}

	app.pusher = sinks.NewPusher(
		app.config.Pusher,
		app.flowTracker.LeakQueue(),
		app.leakSinks,
		app.tracingManager,
		app.logger,
	)

	app.resourceMonitor = monitoring.NewResourceMonitor(
		app.config.Monitoring,
		app.flowTracker.Stats,
		app.logger,
	)

	app.reloader, err = hotreload.NewConfigReloader(app.config.HotReload, app.configFile, app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize hot reload: %w", err)
	}
	app.reloader.SetCallback(app.applyReloadedConfig)

	if app.config.Server.Enabled {
		app.httpServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
			Handler:      app.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}

	return nil
}

// initializeSinks builds the enabled leak sinks. The log sink is forced on
// when nothing else is configured so leaks are never silently discarded.
func (app *App) initializeSinks() error {
	logCfg := app.config.Sinks.Log
	if !logCfg.Enabled && !app.config.Sinks.File.Enabled && !app.config.Sinks.Kafka.Enabled {
		logCfg.Enabled = true
	}
	if logCfg.Enabled {
		app.leakSinks = append(app.leakSinks, sinks.NewLogSink(logCfg, app.logger))
	}

	if app.config.Sinks.File.Enabled {
		fileSink, err := sinks.NewFileSink(app.config.Sinks.File, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize file sink: %w", err)
		}
		app.leakSinks = append(app.leakSinks, fileSink)
	}

	if app.config.Sinks.Kafka.Enabled {
		kafkaSink, err := sinks.NewKafkaSink(app.config.Sinks.Kafka, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka sink: %w", err)
		}
		app.leakSinks = append(app.leakSinks, kafkaSink)
	}

	return nil
}

// applyReloadedConfig re-applies the hot-reloadable configuration subset.
// Tracker limits are snapshotted at startup and deliberately not touched.
func (app *App) applyReloadedConfig(old, updated *types.Config) error {
	if old.App.LogLevel != updated.App.LogLevel {
		if level, err := logrus.ParseLevel(updated.App.LogLevel); err == nil {
			app.logger.SetLevel(level)
			app.logger.WithField("log_level", updated.App.LogLevel).Info("Log level updated")
		}
	}

	if old.Pusher.Interval != updated.Pusher.Interval {
		app.pusher.SetInterval(updated.Pusher.Interval)
		app.logger.WithField("interval", updated.Pusher.Interval).Info("Pusher interval updated")
	}

	app.config.App.LogLevel = updated.App.LogLevel
	app.config.Pusher.Interval = updated.Pusher.Interval
	return nil
}

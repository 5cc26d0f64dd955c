// Package hotreload watches the configuration file and re-applies the
// non-hot-path subset of the configuration (log level, push interval) on
// change. Tracker limits and sink settings are snapshotted at initialization
// and never reloaded.
package hotreload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/config"
	"ssw-flow-tracer/pkg/types"
)

// ConfigReloader manages automatic configuration reloads.
type ConfigReloader struct {
	config      types.HotReloadConfig
	logger      *logrus.Logger
	configFile  string
	currentHash string

	watcher *fsnotify.Watcher

	// onConfigChanged receives (old, new); returning an error rejects the
	// reload and keeps the old configuration active.
	onConfigChanged func(*types.Config, *types.Config) error

	currentConfig atomic.Pointer[types.Config]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	stats Stats
	mu    sync.Mutex
}

// Stats holds reload statistics.
type Stats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReloadTime    time.Time `json:"last_reload_time"`
	LastError         string    `json:"last_error,omitempty"`
	IsWatching        bool      `json:"is_watching"`
}

// NewConfigReloader creates a reloader for configFile.
func NewConfigReloader(cfg types.HotReloadConfig, configFile string, initial *types.Config, logger *logrus.Logger) (*ConfigReloader, error) {
	cr := &ConfigReloader{
		config:     cfg,
		logger:     logger,
		configFile: configFile,
	}
	cr.currentConfig.Store(initial)

	if !cfg.Enabled {
		return cr, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	cr.watcher = watcher

	if cr.config.DebounceInterval <= 0 {
		cr.config.DebounceInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	cr.ctx = ctx
	cr.cancel = cancel

	if hash, err := fileHash(configFile); err == nil {
		cr.currentHash = hash
	} else {
		logger.WithError(err).Warn("Failed to calculate initial config hash")
	}

	return cr, nil
}

// SetCallback registers the handler invoked with (old, new) on change.
func (cr *ConfigReloader) SetCallback(onChanged func(*types.Config, *types.Config) error) {
	cr.onConfigChanged = onChanged
}

// Start begins watching the configuration file.
func (cr *ConfigReloader) Start() error {
	if !cr.config.Enabled {
		cr.logger.Info("Configuration hot reload disabled")
		return nil
	}
	if !cr.running.CompareAndSwap(false, true) {
		return nil
	}

	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	dir := filepath.Dir(cr.configFile)
	if err := cr.watcher.Add(dir); err != nil {
		cr.running.Store(false)
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	cr.mu.Lock()
	cr.stats.IsWatching = true
	cr.mu.Unlock()

	cr.wg.Add(1)
	go cr.watchLoop()

	cr.logger.WithField("config_file", cr.configFile).Info("Configuration hot reload started")
	return nil
}

// Stop halts the watcher.
func (cr *ConfigReloader) Stop() error {
	if !cr.config.Enabled || !cr.running.CompareAndSwap(true, false) {
		return nil
	}
	cr.cancel()
	cr.watcher.Close()
	cr.wg.Wait()

	cr.mu.Lock()
	cr.stats.IsWatching = false
	cr.mu.Unlock()
	return nil
}

// Current returns the active configuration.
func (cr *ConfigReloader) Current() *types.Config {
	return cr.currentConfig.Load()
}

// GetStats returns reload statistics.
func (cr *ConfigReloader) GetStats() Stats {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.stats
}

func (cr *ConfigReloader) watchLoop() {
	defer cr.wg.Done()

	var debounce *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case <-cr.ctx.Done():
			return
		case event, ok := <-cr.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cr.configFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(cr.config.DebounceInterval, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})
		case err, ok := <-cr.watcher.Errors:
			if !ok {
				return
			}
			cr.logger.WithError(err).Warn("Config watcher error")
		case <-debounceCh:
			cr.reload()
		}
	}
}

// Reload forces a reload regardless of watcher state. Used by the
// management API's reload endpoint.
func (cr *ConfigReloader) Reload() error {
	return cr.reload()
}

func (cr *ConfigReloader) reload() error {
	cr.mu.Lock()
	cr.stats.TotalReloads++
	cr.stats.LastReloadTime = time.Now()
	cr.mu.Unlock()

	hash, err := fileHash(cr.configFile)
	if err == nil && hash == cr.currentHash {
		return nil
	}

	newCfg, err := config.LoadConfig(cr.configFile)
	if err != nil {
		cr.recordFailure(err)
		return err
	}

	old := cr.currentConfig.Load()
	if cr.onConfigChanged != nil {
		if err := cr.onConfigChanged(old, newCfg); err != nil {
			cr.recordFailure(err)
			return err
		}
	}

	cr.currentConfig.Store(newCfg)
	cr.currentHash = hash

	cr.mu.Lock()
	cr.stats.SuccessfulReloads++
	cr.stats.LastError = ""
	cr.mu.Unlock()

	cr.logger.WithField("config_file", cr.configFile).Info("Configuration reloaded")
	return nil
}

func (cr *ConfigReloader) recordFailure(err error) {
	cr.mu.Lock()
	cr.stats.FailedReloads++
	cr.stats.LastError = err.Error()
	cr.mu.Unlock()
	cr.logger.WithError(err).Warn("Configuration reload failed; keeping previous configuration")
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

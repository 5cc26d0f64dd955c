package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/pkg/compression"
	"ssw-flow-tracer/pkg/types"
)

const (
	defaultFileSinkMaxSizeMB = 64
	defaultFileSinkMaxFiles  = 5
)

// FileSink appends leak events as NDJSON with size-based rotation. Rotated
// segments are compressed with the configured codec and kept as
// path.1<ext> .. path.N<ext>, oldest dropped.
type FileSink struct {
	config     types.FileSinkConfig
	logger     *logrus.Logger
	compressor *compression.Compressor

	mu       sync.Mutex
	file     *os.File
	size     int64
	maxBytes int64

	emitted atomic.Int64
	failed  atomic.Int64
	healthy atomic.Bool
}

// NewFileSink creates a file sink.
func NewFileSink(config types.FileSinkConfig, logger *logrus.Logger) (*FileSink, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("file sink: no path configured")
	}
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = defaultFileSinkMaxSizeMB
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = defaultFileSinkMaxFiles
	}
	compressor, err := compression.New(config.Compression)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	return &FileSink{
		config:     config,
		logger:     logger,
		compressor: compressor,
		maxBytes:   config.MaxSizeMB * 1024 * 1024,
	}, nil
}

// Start opens the output file, creating parent directories as needed.
func (fs *FileSink) Start(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.config.Path), 0o755); err != nil {
		return fmt.Errorf("file sink: failed to create directory: %w", err)
	}
	if err := fs.openLocked(); err != nil {
		return err
	}
	fs.healthy.Store(true)

	fs.logger.WithFields(logrus.Fields{
		"path":        fs.config.Path,
		"max_size_mb": fs.config.MaxSizeMB,
		"max_files":   fs.config.MaxFiles,
		"compression": string(fs.compressor.Algorithm()),
	}).Info("File sink started")
	return nil
}

func (fs *FileSink) openLocked() error {
	f, err := os.OpenFile(fs.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fs.healthy.Store(false)
		return fmt.Errorf("file sink: failed to open %s: %w", fs.config.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		fs.healthy.Store(false)
		return fmt.Errorf("file sink: failed to stat %s: %w", fs.config.Path, err)
	}
	fs.file = f
	fs.size = info.Size()
	return nil
}

// Emit appends each event as one JSON line, rotating when the size cap is
// crossed.
func (fs *FileSink) Emit(ctx context.Context, events []types.LeakEvent) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		fs.failed.Add(int64(len(events)))
		return fmt.Errorf("file sink: not started")
	}

	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			fs.failed.Add(1)
			continue
		}
		line = append(line, '\n')
		n, err := fs.file.Write(line)
		fs.size += int64(n)
		if err != nil {
			fs.failed.Add(1)
			fs.healthy.Store(false)
			return fmt.Errorf("file sink: write failed: %w", err)
		}
		fs.emitted.Add(1)
		metrics.EventsSentTotal.WithLabelValues("file", "success").Inc()

		if fs.size >= fs.maxBytes {
			if err := fs.rotateLocked(); err != nil {
				fs.logger.WithError(err).Warn("File sink rotation failed")
			}
		}
	}
	fs.healthy.Store(true)
	return nil
}

// rotateLocked shifts path.N-1 -> path.N, compresses the active file into
// path.1 and reopens a fresh one.
func (fs *FileSink) rotateLocked() error {
	fs.file.Close()
	fs.file = nil

	ext := fs.compressor.Ext()
	oldest := fmt.Sprintf("%s.%d%s", fs.config.Path, fs.config.MaxFiles, ext)
	os.Remove(oldest)
	for i := fs.config.MaxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d%s", fs.config.Path, i, ext)
		to := fmt.Sprintf("%s.%d%s", fs.config.Path, i+1, ext)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}

	data, err := os.ReadFile(fs.config.Path)
	if err != nil {
		return fmt.Errorf("file sink: rotate read failed: %w", err)
	}
	compressed, err := fs.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("file sink: rotate compression failed: %w", err)
	}
	if err := os.WriteFile(fs.config.Path+".1"+ext, compressed, 0o644); err != nil {
		return fmt.Errorf("file sink: rotate write failed: %w", err)
	}
	if err := os.Remove(fs.config.Path); err != nil {
		return fmt.Errorf("file sink: rotate remove failed: %w", err)
	}
	return fs.openLocked()
}

// Stop flushes and closes the output file.
func (fs *FileSink) Stop() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	fs.healthy.Store(false)
	return err
}

// IsHealthy reports whether the last write succeeded.
func (fs *FileSink) IsHealthy() bool {
	return fs.healthy.Load()
}

// Stats returns delivery statistics.
func (fs *FileSink) Stats() types.SinkStats {
	return types.SinkStats{
		SinkType: "file",
		Emitted:  fs.emitted.Load(),
		Failed:   fs.failed.Load(),
		Healthy:  fs.healthy.Load(),
	}
}

package sinks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/pkg/tracing"
	"ssw-flow-tracer/pkg/types"
)

const (
	defaultPushInterval = 10 * time.Second
	defaultPushBatch    = 512
)

// Pusher drains the leak-event queue on its own cadence and fans the events
// out to the configured sinks. Sink failures are isolated: one failing sink
// never blocks delivery to the others, and a failed batch is logged and
// dropped rather than retried into an ever-growing backlog.
type Pusher struct {
	queue  *LeakQueue
	sinks  []types.LeakSink
	logger *logrus.Logger
	tracer *tracing.Manager

	interval  atomic.Int64 // nanoseconds, hot-reloadable
	batchSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	isRunning bool
	mutex     sync.Mutex

	pushCycles   atomic.Int64
	eventsPushed atomic.Int64
	lastPush     atomic.Int64 // unix nanos
}

// NewPusher creates a pusher draining queue into sinks.
func NewPusher(config types.PusherConfig, queue *LeakQueue, sinkList []types.LeakSink, tracer *tracing.Manager, logger *logrus.Logger) *Pusher {
	if config.Interval <= 0 {
		config.Interval = defaultPushInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultPushBatch
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pusher{
		queue:     queue,
		sinks:     sinkList,
		logger:    logger,
		tracer:    tracer,
		batchSize: config.BatchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.interval.Store(int64(config.Interval))
	return p
}

// Start launches the push loop.
func (p *Pusher) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isRunning {
		return nil
	}
	p.isRunning = true

	p.logger.WithFields(logrus.Fields{
		"interval": time.Duration(p.interval.Load()),
		"sinks":    len(p.sinks),
	}).Info("Starting leak-event pusher")

	p.wg.Add(1)
	go p.pushLoop()
	return nil
}

// Stop halts the loop and performs a final drain so shutdown leaks reach
// the sinks.
func (p *Pusher) Stop() error {
	p.mutex.Lock()
	if !p.isRunning {
		p.mutex.Unlock()
		return nil
	}
	p.isRunning = false
	p.mutex.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("Pusher shutdown timeout")
	}

	p.Push(context.Background())
	p.logger.Info("Leak-event pusher stopped")
	return nil
}

// SetInterval adjusts the push cadence. Applied on the next tick; used by
// configuration hot reload.
func (p *Pusher) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

func (p *Pusher) pushLoop() {
	defer p.wg.Done()

	for {
		interval := time.Duration(p.interval.Load())
		select {
		case <-time.After(interval):
			p.Push(p.ctx)
		case <-p.ctx.Done():
			return
		}
	}
}

// Push drains the queue once and delivers the batch to every sink. Safe to
// call directly (the final drain on Stop does).
func (p *Pusher) Push(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "pusher.push")
	defer span.End()

	start := time.Now()
	events := p.queue.Drain()

	qs := p.queue.Stats()
	metrics.LeakQueueDepth.Set(float64(qs.Pending))
	metrics.LeakQueueUtilization.Set(float64(qs.Pending) / float64(qs.Capacity))

	if len(events) == 0 {
		return
	}

	p.pushCycles.Add(1)
	p.eventsPushed.Add(int64(len(events)))
	p.lastPush.Store(time.Now().UnixNano())

	for _, sink := range p.sinks {
		for offset := 0; offset < len(events); offset += p.batchSize {
			end := offset + p.batchSize
			if end > len(events) {
				end = len(events)
			}
			batch := events[offset:end]
			if err := sink.Emit(ctx, batch); err != nil {
				stats := sink.Stats()
				metrics.ErrorsTotal.WithLabelValues("pusher", "emit_failed").Inc()
				p.logger.WithError(err).WithFields(logrus.Fields{
					"sink_type": stats.SinkType,
					"batch":     len(batch),
				}).Warn("Leak-event delivery failed")
				break
			}
		}
	}

	metrics.PushDuration.Observe(time.Since(start).Seconds())
}

// Stats returns drain/push statistics.
func (p *Pusher) Stats() types.PusherStats {
	sinkStats := make([]types.SinkStats, 0, len(p.sinks))
	for _, s := range p.sinks {
		sinkStats = append(sinkStats, s.Stats())
	}
	var last time.Time
	if nanos := p.lastPush.Load(); nanos > 0 {
		last = time.Unix(0, nanos)
	}
	return types.PusherStats{
		PushCycles:   p.pushCycles.Load(),
		EventsPushed: p.eventsPushed.Load(),
		LastPush:     last,
		Sinks:        sinkStats,
	}
}

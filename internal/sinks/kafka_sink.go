package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/pkg/types"
)

// KafkaSink delivers leak events to Apache Kafka. Events are keyed by their
// root method; with the default hash partitioner all leaks of one allocation
// site land on one partition, while the round-robin and random strategies
// ignore the key.
type KafkaSink struct {
	config   types.KafkaSinkConfig
	logger   *logrus.Logger
	producer sarama.AsyncProducer

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.RWMutex

	// Tracks the producer response goroutine
	loopWg sync.WaitGroup

	sentCount  atomic.Int64
	errorCount atomic.Int64
	healthy    atomic.Bool
}

// NewKafkaSink creates a Kafka sink.
func NewKafkaSink(config types.KafkaSinkConfig, logger *logrus.Logger) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)

	switch strings.ToLower(config.Compression) {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if config.BatchSize > 0 {
		saramaConfig.Producer.Flush.Messages = config.BatchSize
	}
	if config.BatchTimeout != "" {
		if timeout, err := time.ParseDuration(config.BatchTimeout); err == nil {
			saramaConfig.Producer.Flush.Frequency = timeout
		}
	}
	if config.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	}
	if config.RetryMax > 0 {
		saramaConfig.Producer.Retry.Max = config.RetryMax
	}
	if config.Timeout != "" {
		if timeout, err := time.ParseDuration(config.Timeout); err == nil {
			saramaConfig.Net.DialTimeout = timeout
			saramaConfig.Net.ReadTimeout = timeout
			saramaConfig.Net.WriteTimeout = timeout
		}
	}

	if config.Auth.Enabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.Auth.Username
		saramaConfig.Net.SASL.Password = config.Auth.Password

		switch strings.ToUpper(config.Auth.Mechanism) {
		case "PLAIN":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		}
	}

	if config.TLS.Enabled {
		tlsConfig, err := createTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = tlsConfig
	}

	switch strings.ToLower(config.Partitioning.Strategy) {
	case "round-robin":
		saramaConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "random":
		saramaConfig.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	}

	producer, err := sarama.NewAsyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: failed to create producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger.WithFields(logrus.Fields{
		"brokers":     config.Brokers,
		"topic":       config.Topic,
		"compression": config.Compression,
		"batch_size":  config.BatchSize,
	}).Info("Kafka sink initialized")

	sink := &KafkaSink{
		config:   config,
		logger:   logger,
		producer: producer,
		ctx:      ctx,
		cancel:   cancel,
	}
	sink.healthy.Store(true)
	return sink, nil
}

// Start begins consuming producer responses.
func (ks *KafkaSink) Start(ctx context.Context) error {
	ks.mutex.Lock()
	if ks.isRunning {
		ks.mutex.Unlock()
		return fmt.Errorf("kafka sink already running")
	}
	ks.isRunning = true
	ks.mutex.Unlock()

	ks.loopWg.Add(1)
	go ks.handleProducerResponses()

	ks.logger.Info("Kafka sink started")
	return nil
}

// handleProducerResponses consumes delivery acks and errors from sarama.
func (ks *KafkaSink) handleProducerResponses() {
	defer ks.loopWg.Done()

	successes := ks.producer.Successes()
	errors := ks.producer.Errors()
	for successes != nil || errors != nil {
		select {
		case _, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			ks.sentCount.Add(1)
			ks.healthy.Store(true)
			metrics.EventsSentTotal.WithLabelValues("kafka", "success").Inc()
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			ks.errorCount.Add(1)
			ks.healthy.Store(false)
			metrics.EventsSentTotal.WithLabelValues("kafka", "error").Inc()
			ks.logger.WithError(err.Err).Warn("Kafka sink delivery failed")
		}
	}
}

// Emit hands a batch of events to the async producer. Delivery results
// arrive through the response goroutine; Emit itself only fails when the
// sink is not running or a context is cancelled. An event that cannot be
// serialized is counted as an error and skipped.
func (ks *KafkaSink) Emit(ctx context.Context, events []types.LeakEvent) error {
	ks.mutex.RLock()
	running := ks.isRunning
	ks.mutex.RUnlock()
	if !running {
		return fmt.Errorf("kafka sink: not running")
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			ks.errorCount.Add(1)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: ks.config.Topic,
			Key:   sarama.StringEncoder(ev.RootMethod),
			Value: sarama.ByteEncoder(payload),
		}
		select {
		case ks.producer.Input() <- msg:
		case <-ks.ctx.Done():
			return ks.ctx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop shuts the producer down and waits for pending responses.
func (ks *KafkaSink) Stop() error {
	ks.mutex.Lock()
	if !ks.isRunning {
		ks.mutex.Unlock()
		return nil
	}
	ks.isRunning = false
	ks.mutex.Unlock()

	ks.logger.Info("Stopping Kafka sink")
	ks.cancel()

	// AsyncClose flushes buffered messages, then closes the response
	// channels which ends the response goroutine.
	ks.producer.AsyncClose()

	done := make(chan struct{})
	go func() {
		ks.loopWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ks.logger.Info("Kafka sink stopped")
	case <-time.After(10 * time.Second):
		ks.logger.Warn("Kafka sink shutdown timeout")
	}
	return nil
}

// IsHealthy reports whether the last delivery succeeded.
func (ks *KafkaSink) IsHealthy() bool {
	return ks.healthy.Load()
}

// Stats returns delivery statistics.
func (ks *KafkaSink) Stats() types.SinkStats {
	return types.SinkStats{
		SinkType: "kafka",
		Emitted:  ks.sentCount.Load(),
		Failed:   ks.errorCount.Load(),
		Healthy:  ks.healthy.Load(),
	}
}

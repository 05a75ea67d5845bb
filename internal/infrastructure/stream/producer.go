// Package stream publishes pipeline events to a Kafka-compatible
// broker with franz-go. Publishing is fire-and-forget from the
// request path: a lost event never fails a prescription.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
)

// ProducerConfig holds broker and batching settings.
type ProducerConfig struct {
	Brokers            []string
	BatchMaxBytes      int32
	LingerMS           int64
	MaxBufferedRecords int
	MaxRetries         int
	RetryBackoffMS     int64
}

// DefaultProducerConfig returns defaults sized for a single
// interpretation service instance.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:            []string{"localhost:9092"},
		BatchMaxBytes:      1024 * 1024,
		LingerMS:           25,
		MaxBufferedRecords: 100_000,
		MaxRetries:         3,
		RetryBackoffMS:     100,
	}
}

// ProcessedEvent is emitted after a prescription completes the
// pipeline. The payload is already anonymized.
type ProcessedEvent struct {
	PrescriptionID string    `json:"prescription_id"`
	UserID         string    `json:"user_id"`
	Status         rx.Status `json:"status"`
	Medications    []string  `json:"medications"`
	Interactions   int       `json:"interactions"`
	Alternatives   int       `json:"alternatives"`
	DurationMS     int64     `json:"duration_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// FailureEvent is emitted to the dead-letter topic when the pipeline
// aborts before producing a prescription.
type FailureEvent struct {
	UserID     string    `json:"user_id"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer publishes pipeline events.
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	mu          sync.RWMutex
	published   int64
	errorCount  int64
	lastPublish time.Time
}

// NewProducer connects to the brokers in cfg.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Duration(cfg.RetryBackoffMS) * time.Millisecond * time.Duration(attempt+1)
		}),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("stream-producer"),
	}, nil
}

// PublishProcessed emits a ProcessedEvent keyed by prescription id.
// Errors are logged, never returned to the caller.
func (p *Producer) PublishProcessed(ctx context.Context, event ProcessedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode processed event", zap.Error(err))
		return
	}
	p.publish(ctx, TopicPrescriptionProcessed, event.PrescriptionID, payload)
}

// PublishFailure emits a FailureEvent to the dead-letter topic.
func (p *Producer) PublishFailure(ctx context.Context, event FailureEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode failure event", zap.Error(err))
		return
	}
	p.publish(ctx, TopicPipelineDeadLetter, event.UserID, payload)
}

func (p *Producer) publish(ctx context.Context, topic, key string, value []byte) {
	ctx, span := p.tracer.Start(ctx, "publish_event",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("value_size", len(value)),
		))

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	injectTraceHeaders(ctx, record)

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		span.End()
		if err != nil {
			p.mu.Lock()
			p.errorCount++
			p.mu.Unlock()
			p.logger.Error("event publish failed",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		p.mu.Lock()
		p.published++
		p.lastPublish = time.Now()
		p.mu.Unlock()
		p.logger.Debug("event published",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset))
	})
}

// Stats reports publish counters.
func (p *Producer) Stats() (published, errors int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errorCount
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
}

// injectTraceHeaders adds trace context to record headers.
func injectTraceHeaders(ctx context.Context, record *kgo.Record) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	sc := span.SpanContext()
	record.Headers = append(record.Headers,
		kgo.RecordHeader{Key: "traceparent", Value: []byte(fmt.Sprintf("00-%s-%s-%02x",
			sc.TraceID().String(),
			sc.SpanID().String(),
			sc.TraceFlags()))},
	)
}

// Package audit publishes lifecycle events for every submission attempt and
// outcome. Recording is fire-and-forget: a broken audit pipe is logged and
// counted but never fails or delays a transfer.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var auditPublishErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_publish_errors_total",
		Help: "Total number of audit events that failed to publish",
	},
)

// Event kinds emitted by the serializer and reconciler.
const (
	KindTransferAccepted   = "transfer_accepted"
	KindAttemptFailed      = "attempt_failed"
	KindTransferSent       = "transfer_sent"
	KindTransferFailed     = "transfer_failed"
	KindTransferCompleted  = "transfer_completed"
	KindTransferTimedOut   = "transfer_timed_out"
	KindLateConfirmation   = "late_confirmation"
	KindTokenRegistered    = "token_registered"
	KindTokenRegisterError = "token_register_error"
)

type Event struct {
	Kind           string    `json:"kind"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	ExternalTxID   string    `json:"external_tx_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Token          string    `json:"token,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	State          string    `json:"state,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// KafkaRecorder publishes events to a kafka topic. Each Record call writes
// from its own goroutine with a short deadline so the hot path never waits
// on the broker.
type KafkaRecorder struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaRecorder(brokers []string, topic string, logger *zap.Logger) *KafkaRecorder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaRecorder{writer: writer, logger: logger}
}

func (r *KafkaRecorder) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		auditPublishErrors.Inc()
		r.logger.Warn("failed to encode audit event",
			zap.String("kind", event.Kind),
			zap.Error(err))
		return
	}

	// Detached from the request context: a caller timing out must not
	// cancel the audit write.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := r.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(event.TransactionID),
			Value: payload,
		})
		if err != nil {
			auditPublishErrors.Inc()
			r.logger.Warn("failed to publish audit event",
				zap.String("kind", event.Kind),
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err))
		}
	}()
}

func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}

// NopRecorder discards events. Used when no brokers are configured.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) {}

// MemoryRecorder collects events for tests.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]Event, len(r.events))
	copy(events, r.events)
	return events
}

// EventsOfKind filters collected events by kind.
func (r *MemoryRecorder) EventsOfKind(kind string) []Event {
	var filtered []Event
	for _, event := range r.Events() {
		if event.Kind == kind {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

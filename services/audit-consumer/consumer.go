package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/metrics"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditConsumer reads access audit events and turns them into log lines and counters
type AuditConsumer struct {
	reader messageReader
	log    logrus.FieldLogger

	mu     sync.Mutex
	counts map[audit.EventType]int64
}

// NewAuditConsumer creates a consumer in the audit-consumer group
func NewAuditConsumer(broker, topic string, log logrus.FieldLogger) *AuditConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          topic,
		GroupID:        "audit-consumer",
		MinBytes:       1,    // deliver promptly, audit volume is low
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return newAuditConsumer(reader, log)
}

func newAuditConsumer(reader messageReader, log logrus.FieldLogger) *AuditConsumer {
	return &AuditConsumer{
		reader: reader,
		log:    log,
		counts: make(map[audit.EventType]int64),
	}
}

// Run consumes until ctx is cancelled. Messages are committed after they are handled.
func (ac *AuditConsumer) Run(ctx context.Context) {
	ac.log.Info("Starting audit event consumer...")

	for {
		msg, err := ac.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				ac.log.Info("Audit event consumer stopped")
				return
			}
			ac.log.WithError(err).Error("Error reading audit message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ac.handle(msg)

		if err := ac.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			ac.log.WithError(err).Warn("Failed to commit audit message")
		}
	}
}

func (ac *AuditConsumer) handle(msg kafka.Message) {
	var event audit.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		ac.log.WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"error":     err,
		}).Warn("Skipping malformed audit event")
		return
	}

	ac.mu.Lock()
	ac.counts[event.Type]++
	ac.mu.Unlock()
	metrics.AuditEvents.WithLabelValues("consumed", string(event.Type)).Inc()

	entry := ac.log.WithFields(logrus.Fields{
		"type":      event.Type,
		"reason":    event.Reason,
		"user_id":   event.UserID,
		"tenant_id": event.TenantID,
		"host":      event.Host,
		"method":    event.Method,
		"path":      event.Path,
		"role":      event.Role,
		"at":        event.At,
	})
	switch event.Type {
	case audit.EventError:
		entry.WithField("error", event.Error).Error("Access check failed")
	case audit.EventDeny, audit.EventNotFound:
		entry.Warn("Access denied")
	default:
		entry.Infof("Audit %s", event.Type)
	}
}

// Counts returns how many events of each type this process has consumed
func (ac *AuditConsumer) Counts() map[audit.EventType]int64 {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	out := make(map[audit.EventType]int64, len(ac.counts))
	for k, v := range ac.counts {
		out[k] = v
	}
	return out
}

// Close closes the reader
func (ac *AuditConsumer) Close() error {
	if err := ac.reader.Close(); err != nil {
		return fmt.Errorf("failed to close audit reader: %w", err)
	}
	return nil
}

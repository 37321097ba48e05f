// Package audit publishes access decisions and pipeline failures to Kafka
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/metrics"
)

// EventType classifies an audit event
type EventType string

const (
	EventAllow       EventType = "access_allow"
	EventDeny        EventType = "access_deny"
	EventNotFound    EventType = "tenant_not_found"
	EventError       EventType = "access_error"
	EventProvisioned EventType = "user_provisioned"
	EventElevated    EventType = "elevation_verified"
)

// Event is one audit record. An access_error is never a deny: the check did not run.
type Event struct {
	Type     EventType `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	Email    string    `json:"email,omitempty"`
	Host     string    `json:"host,omitempty"`
	Method   string    `json:"method,omitempty"`
	Path     string    `json:"path,omitempty"`
	Role     string    `json:"role,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher accepts events without blocking the request
type Publisher interface {
	Publish(event Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(Event) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events to Kafka from a buffered queue drained by a worker pool
type Producer struct {
	writer      messageWriter
	topic       string
	events      chan Event
	workerCount int
	log         logrus.FieldLogger

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// NewProducer creates a producer writing to topic on broker and starts its workers
func NewProducer(broker, topic string, log logrus.FieldLogger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, topic, 1000, 4, log)
}

func newProducer(writer messageWriter, topic string, queueSize, workers int, log logrus.FieldLogger) *Producer {
	p := &Producer{
		writer:       writer,
		topic:        topic,
		events:       make(chan Event, queueSize),
		workerCount:  workers,
		log:          log,
		shutdownChan: make(chan struct{}),
	}

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.WithFields(logrus.Fields{"workers": workers, "topic": topic}).Info("Audit producer started")
	return p
}

// Publish queues event. A full queue drops it with a warning.
func (p *Producer) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case p.events <- event:
	default:
		metrics.AuditEvents.WithLabelValues("dropped", string(event.Type)).Inc()
		p.log.WithField("type", event.Type).Warn("Audit queue full, event dropped")
	}
}

func (p *Producer) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.events:
			p.send(id, event)
		case <-p.shutdownChan:
			// Drain what was queued before shutdown.
			for {
				select {
				case event := <-p.events:
					p.send(id, event)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) send(worker int, event Event) {
	if err := p.write(event); err != nil {
		metrics.AuditEvents.WithLabelValues("dropped", string(event.Type)).Inc()
		p.log.WithFields(logrus.Fields{
			"worker": worker,
			"type":   event.Type,
			"error":  err,
		}).Error("Failed to publish audit event")
		return
	}
	metrics.AuditEvents.WithLabelValues("published", string(event.Type)).Inc()
}

func (p *Producer) write(event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write audit event to Kafka: %w", err)
	}
	return nil
}

// Close stops the workers after they flush the queue, then closes the writer
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.shutdownChan)
		p.wg.Wait()
		if closeErr := p.writer.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close Kafka writer: %w", closeErr)
		}
	})
	return err
}

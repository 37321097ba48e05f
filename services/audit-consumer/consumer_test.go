package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/metrics"
)

// fakeReader hands out queued messages, then blocks until the context ends
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func encode(t *testing.T, e audit.Event) kafka.Message {
	value, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(e.TenantID), Value: value}
}

func TestAuditConsumer_HandlesAndCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafka.Message{
		encode(t, audit.Event{Type: audit.EventAllow, UserID: "u1", TenantID: "t1", Path: "/api/jobs"}),
		encode(t, audit.Event{Type: audit.EventDeny, Reason: "insufficient_role", TenantID: "t1"}),
		{Value: []byte("not json"), Offset: 7},
		encode(t, audit.Event{Type: audit.EventError, Error: "db down"}),
	}
	log, hook := logtest.NewNullLogger()
	consumer := newAuditConsumer(reader, log)
	denyBefore := testutil.ToFloat64(metrics.AuditEvents.WithLabelValues("consumed", string(audit.EventDeny)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reader.committedCount() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, map[audit.EventType]int64{
		audit.EventAllow: 1,
		audit.EventDeny:  1,
		audit.EventError: 1,
	}, consumer.Counts())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEvents.WithLabelValues("consumed", string(audit.EventDeny)))-denyBefore)

	levels := map[string]logrus.Level{}
	for _, e := range hook.AllEntries() {
		levels[e.Message] = e.Level
	}
	assert.Equal(t, logrus.WarnLevel, levels["Access denied"])
	assert.Equal(t, logrus.WarnLevel, levels["Skipping malformed audit event"])
	assert.Equal(t, logrus.ErrorLevel, levels["Access check failed"])
	assert.Equal(t, logrus.InfoLevel, levels["Audit access_allow"])
}

func TestAuditConsumer_Close(t *testing.T) {
	reader := &fakeReader{}
	log, _ := logtest.NewNullLogger()

	require.NoError(t, newAuditConsumer(reader, log).Close())
	assert.True(t, reader.closed)
}

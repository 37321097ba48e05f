package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/metrics"
)

type codeStore interface {
	PurgeElevationCodes(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	ElevationCodeStats(ctx context.Context, now time.Time) (live, consumed, expired int64, err error)
}

// Stats describes the elevation code table
type Stats struct {
	Live     int64     `json:"live"`
	Consumed int64     `json:"consumed"`
	Expired  int64     `json:"expired"`
	Purged   int64     `json:"purged_total"`
	LastRun  time.Time `json:"last_run"`
}

// Sweeper deletes elevation codes that can never verify again. Codes are kept for a
// retention period after expiry or use so recent activity stays inspectable.
type Sweeper struct {
	store     codeStore
	retention time.Duration
	batchSize int
	interval  time.Duration
	log       logrus.FieldLogger
	now       func() time.Time

	mu      sync.Mutex
	purged  int64
	lastRun time.Time
}

// NewSweeper creates a sweeper
func NewSweeper(store codeStore, retention, interval time.Duration, batchSize int, log logrus.FieldLogger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		batchSize: batchSize,
		interval:  interval,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"interval":  s.interval,
		"retention": s.retention,
	}).Info("Starting elevation code sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("Elevation code sweep failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info("Elevation code sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce purges batches until a short batch shows nothing is left
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)

	var total int64
	for {
		n, err := s.store.PurgeElevationCodes(ctx, cutoff, s.batchSize)
		total += n
		metrics.ElevationCodesPurged.Add(float64(n))
		if err != nil {
			s.record(total)
			return total, err
		}
		if n < int64(s.batchSize) {
			break
		}
	}

	s.record(total)
	if total > 0 {
		s.log.WithField("purged", total).Info("Purged dead elevation codes")
	}
	return total, nil
}

func (s *Sweeper) record(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged += n
	s.lastRun = s.now()
}

// Stats reports the current table breakdown and what this process has purged
func (s *Sweeper) Stats(ctx context.Context) (Stats, error) {
	live, consumed, expired, err := s.store.ElevationCodeStats(ctx, s.now())
	if err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Live:     live,
		Consumed: consumed,
		Expired:  expired,
		Purged:   s.purged,
		LastRun:  s.lastRun,
	}, nil
}

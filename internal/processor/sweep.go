package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/store"
)

// OfflineSweep periodically marks devices offline when their last_seen
// is older than the threshold. It reads and writes through the same
// device store as the pipeline and adds no new invariants.
type OfflineSweep struct {
	devices   *store.DeviceStore
	interval  time.Duration
	threshold time.Duration
	logger    *logrus.Entry
}

// NewOfflineSweep creates a sweep with the given cadence and staleness
// threshold.
func NewOfflineSweep(devices *store.DeviceStore, interval, threshold time.Duration, logger *logrus.Entry) *OfflineSweep {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	return &OfflineSweep{
		devices:   devices,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled.
func (s *OfflineSweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OfflineSweep) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ids, err := s.devices.MarkStaleOffline(sweepCtx, time.Now().Add(-s.threshold))
	if err != nil {
		s.logger.WithError(err).Warn("Offline sweep failed")
		return
	}
	if len(ids) > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":   len(ids),
			"devices": ids,
		}).Info("Marked stale devices offline")
	}
}

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/pkg/logging"
)

// JobManager runs the background maintenance jobs: the midnight payment
// code reset and the capacity alert sweep.
type JobManager struct {
	codes    *ledger.CodeAllocator
	notifier ledger.Notifier
	logger   logging.Logger
	stopCh   chan struct{}

	// alertThreshold is the pool utilization fraction above which an
	// audit alert fires.
	alertThreshold float64
	sweepInterval  time.Duration
}

// NewJobManager creates the job manager.
func NewJobManager(codes *ledger.CodeAllocator, notifier ledger.Notifier, logger logging.Logger) *JobManager {
	if notifier == nil {
		notifier = ledger.NopNotifier{}
	}
	return &JobManager{
		codes:          codes,
		notifier:       notifier,
		logger:         logger,
		stopCh:         make(chan struct{}),
		alertThreshold: 0.9,
		sweepInterval:  10 * time.Minute,
	}
}

// Start begins all background jobs.
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting reconciliation job manager")
	go jm.runDailyReset(ctx)
	go jm.runCapacitySweep(ctx)
}

// Stop stops all background jobs.
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping reconciliation job manager")
	close(jm.stopCh)
}

// untilNextMidnight returns the wait until the next local midnight. The
// reset tracks the wall clock, not a fixed 24h period, so it stays aligned
// across restarts and DST shifts.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

// runDailyReset zeroes opted-in payment codes at local midnight. A failed
// reset retries hourly until it succeeds, then the schedule realigns to
// the next midnight.
func (jm *JobManager) runDailyReset(ctx context.Context) {
	jm.logger.Info("Starting daily payment code reset job")

	timer := time.NewTimer(untilNextMidnight(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-timer.C:
			count, err := jm.codes.DailyReset(ctx)
			if err != nil {
				jm.logger.WithError(err).Error("Daily payment code reset failed, retrying in 1h")
				timer.Reset(time.Hour)
				continue
			}
			jm.logger.WithField("codes_reset", count).Info("Daily payment code reset done")
			timer.Reset(untilNextMidnight(time.Now()))
		}
	}
}

// runCapacitySweep watches pool utilization and raises an audit alert when
// the pool is nearly full. The alert re-arms once utilization drops back
// under the threshold, so a full pool produces one alert, not one per
// sweep.
func (jm *JobManager) runCapacitySweep(ctx context.Context) {
	jm.logger.Info("Starting payment code capacity sweep")

	ticker := time.NewTicker(jm.sweepInterval)
	defer ticker.Stop()

	alerted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			stats, err := jm.codes.Stats(ctx)
			if err != nil {
				jm.logger.WithError(err).Error("Capacity sweep failed")
				continue
			}

			metrics.CodePoolUsed.Set(float64(stats.TotalUsed))
			metrics.CodePoolCapacity.Set(float64(stats.TotalCapacity))

			if stats.TotalCapacity == 0 {
				continue
			}
			utilization := float64(stats.TotalUsed) / float64(stats.TotalCapacity)
			if utilization >= jm.alertThreshold && !alerted {
				jm.notifier.LogToAudit(ctx, fmt.Sprintf(
					"Payment code pool at %.0f%% capacity (%d/%d across %d active codes)",
					utilization*100, stats.TotalUsed, stats.TotalCapacity, stats.ActiveCodes))
				alerted = true
			} else if utilization < jm.alertThreshold {
				alerted = false
			}
		}
	}
}

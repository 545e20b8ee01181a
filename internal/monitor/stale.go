// Package monitor flags jobs whose worker appears to have stopped.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/icron"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// StaleLister is the part of the broker the sweeper reads.
type StaleLister interface {
	Stale(ctx context.Context, olderThan time.Duration) ([]dispatch.Delivery, error)
}

// StaleJob is a job still processing under a claim older than the threshold.
type StaleJob struct {
	JobID     string    `json:"job_id"`
	BatchID   string    `json:"batch_id"`
	ClaimedBy string    `json:"claimed_by"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// StaleSweeper periodically reports stuck jobs. It only logs; no job is
// transitioned because workers hold no lease that could prove them dead.
type StaleSweeper struct {
	lister   StaleLister
	store    jobs.Store
	cron     *cron.Cron
	cronExpr string
	after    time.Duration

	group singleflight.Group
}

func NewStaleSweeper(lister StaleLister, store jobs.Store, c *cron.Cron, cronExpr string, after time.Duration) (*StaleSweeper, error) {
	if _, err := icron.Parse(cronExpr); err != nil {
		return nil, err
	}
	if after <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	return &StaleSweeper{
		lister:   lister,
		store:    store,
		cron:     c,
		cronExpr: cronExpr,
		after:    after,
	}, nil
}

// Schedule registers the sweep on the cron. Overlapping ticks collapse into
// the sweep already running.
func (s *StaleSweeper) Schedule(ctx context.Context) error {
	log.WithComponent("monitor").Infof("stale sweep scheduled %q, threshold %s", s.cronExpr, s.after)
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		_, _, _ = s.group.Do("sweep", func() (any, error) {
			if _, err := s.Sweep(ctx); err != nil {
				log.WithComponent("monitor").Errorf("stale sweep failed: %v", err)
			}
			return nil, nil
		})
	})
	return err
}

// Sweep lists claims older than the threshold and returns those whose job
// is still processing.
func (s *StaleSweeper) Sweep(ctx context.Context) ([]StaleJob, error) {
	deliveries, err := s.lister.Stale(ctx, s.after)
	if err != nil {
		return nil, fmt.Errorf("list stale deliveries: %w", err)
	}

	logger := log.WithComponent("monitor")
	ret := make([]StaleJob, 0)
	for i := range deliveries {
		d := deliveries[i]
		msg, err := d.Decode()
		if err != nil {
			logger.Warnf("stale delivery %s is unreadable: %v", d.Key, err)
			continue
		}
		job, err := s.store.GetJob(ctx, msg.BatchID, msg.JobID)
		if err != nil {
			if jobs.IsNotFound(err) {
				logger.Warnf("stale delivery %s has no job", d.Key)
				continue
			}
			return nil, err
		}
		if job.Status != jobs.StatusProcessing {
			logger.Debugf("stale delivery %s: job is %s, ack missing", d.Key, job.Status)
			continue
		}

		stuck := StaleJob{
			JobID:     job.JobID,
			BatchID:   job.BatchID,
			ClaimedBy: d.ClaimedBy,
			ClaimedAt: d.ClaimedAt,
		}
		log.WithJob(job.BatchID, job.JobID).
			WithField("claimed_by", d.ClaimedBy).
			WithField("claimed_for", time.Since(d.ClaimedAt).Round(time.Second).String()).
			Warn("job stuck in processing")
		ret = append(ret, stuck)
	}
	return ret, nil
}

// NextRun reports when the next sweep fires after ref.
func (s *StaleSweeper) NextRun(ref time.Time) (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.cronExpr, ref)
}

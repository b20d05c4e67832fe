// Package monitor periodically reports processing statistics and jobs that
// have been processing for suspiciously long.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/MimeLyc/image-captioner/pkg/log"
)

// Report is the outcome of one check.
type Report struct {
	Snapshot stats.Snapshot
	// Tracked counts registry entries per status.
	Tracked map[jobs.Status]int
	Stale   []*jobs.Job
}

// Monitor only observes; it never changes job state.
type Monitor struct {
	cronExpr   string
	staleAfter time.Duration
	store      *jobs.Store
	stats      *stats.Aggregator
	cron       *cron.Cron
	group      singleflight.Group
	now        func() time.Time
}

func New(
	cronExpr string,
	staleAfter time.Duration,
	store *jobs.Store,
	aggregator *stats.Aggregator,
	cron *cron.Cron,
) *Monitor {
	return &Monitor{
		cronExpr:   cronExpr,
		staleAfter: staleAfter,
		store:      store,
		stats:      aggregator,
		cron:       cron,
		now:        time.Now,
	}
}

// Schedule registers the periodic check on the cron engine. Overlapping
// runs collapse into one.
func (m *Monitor) Schedule(ctx context.Context) error {
	log.Info("Scheduling monitor with %q", m.cronExpr)

	runFunc := func() {
		if ctx.Err() != nil {
			return
		}
		_, _, _ = m.group.Do("check", func() (any, error) {
			return m.Check(), nil
		})
	}
	if _, err := m.cron.AddFunc(m.cronExpr, runFunc); err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}
	return nil
}

// Check logs the current statistics and job counts and warns about stale
// jobs.
func (m *Monitor) Check() Report {
	report := Report{
		Snapshot: m.stats.Snapshot(),
		Tracked:  make(map[jobs.Status]int),
	}
	s := report.Snapshot
	log.Info("Stats: total=%d success=%d failure=%d success_rate=%.2f%% avg=%.3fs",
		s.TotalProcessed, s.SuccessCount, s.FailureCount, s.SuccessRatePercent, s.AverageDurationSec)

	for _, job := range m.store.List() {
		report.Tracked[job.Status]++
	}
	log.Info("Jobs: processing=%d processed=%d failed=%d",
		report.Tracked[jobs.StatusProcessing], report.Tracked[jobs.StatusProcessed], report.Tracked[jobs.StatusFailed])

	if m.staleAfter <= 0 {
		return report
	}
	now := m.now()
	report.Stale = m.store.ProcessingSince(now.Add(-m.staleAfter))
	for _, job := range report.Stale {
		log.Warn("Job %s (%s) still processing after %s",
			job.ID, job.Filename, now.Sub(job.CreatedAt).Round(time.Second))
	}
	return report
}

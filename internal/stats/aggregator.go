package stats

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the aggregate counters.
type Snapshot struct {
	TotalProcessed     int     `json:"total_processed"`
	SuccessCount       int     `json:"success_count"`
	FailureCount       int     `json:"failure_count"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	FailureRatePercent float64 `json:"failure_rate_percent"`
	AverageDurationSec float64 `json:"average_processing_time_sec"`
}

// Aggregator counts job outcomes. Safe for concurrent use.
type Aggregator struct {
	mu            sync.Mutex
	successCount  int
	failureCount  int
	durationCount int
	durationSum   float64
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordSuccess counts one successful job and its duration in seconds.
func (a *Aggregator) RecordSuccess(durationSeconds float64) {
	a.mu.Lock()
	a.successCount++
	a.durationCount++
	a.durationSum += durationSeconds
	a.mu.Unlock()
}

// RecordDuration is RecordSuccess for a time.Duration.
func (a *Aggregator) RecordDuration(d time.Duration) {
	a.RecordSuccess(d.Seconds())
}

// RecordFailure counts one failed job. Failures carry no duration.
func (a *Aggregator) RecordFailure() {
	a.mu.Lock()
	a.failureCount++
	a.mu.Unlock()
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	success, failure := a.successCount, a.failureCount
	count, sum := a.durationCount, a.durationSum
	a.mu.Unlock()

	snap := Snapshot{
		TotalProcessed: success + failure,
		SuccessCount:   success,
		FailureCount:   failure,
	}
	if snap.TotalProcessed > 0 {
		snap.SuccessRatePercent = float64(success) / float64(snap.TotalProcessed) * 100
		snap.FailureRatePercent = float64(failure) / float64(snap.TotalProcessed) * 100
	}
	if count > 0 {
		snap.AverageDurationSec = sum / float64(count)
	}
	return snap
}

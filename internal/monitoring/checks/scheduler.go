package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/syncmeet/internal/monitoring"
)

const defaultSchedulerMaxAge = 2 * time.Hour

// Scheduler reports background jobs that keep failing or have stopped running. A job that has
// not run yet is healthy; the scheduler may have just started.
func Scheduler(tracker *monitoring.JobTracker, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultSchedulerMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("scheduler", func(context.Context) monitoring.ProbeResult {
		if tracker == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "scheduler disabled"}
		}

		status := monitoring.StatusUp
		var problems []string
		current := now()

		for _, job := range tracker.Snapshot() {
			if job.TotalRuns == 0 {
				continue
			}
			if job.ConsecutiveFailures >= 3 {
				status = monitoring.WorstStatus(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": "+job.LastError)
			}
			if current.Sub(job.LastRunAt) > maxAge {
				status = monitoring.WorstStatus(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": last run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}

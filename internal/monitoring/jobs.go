package monitoring

import (
	"sort"
	"sync"
	"time"
)

// JobState summarises the run history of one background job.
type JobState struct {
	Job                 string    `json:"job"`
	TotalRuns           uint64    `json:"total_runs"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// JobTracker records background job outcomes for health reporting.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*JobState
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobState)}
}

// Register makes job visible before its first run.
func (t *JobTracker) Register(job string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job]; !ok {
		t.jobs[job] = &JobState{Job: job}
	}
}

// Record stores the outcome of one run.
func (t *JobTracker) Record(job string, at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[job]
	if !ok {
		state = &JobState{Job: job}
		t.jobs[job] = state
	}
	state.TotalRuns++
	state.LastRunAt = at
	if err != nil {
		state.ConsecutiveFailures++
		state.LastError = err.Error()
		return
	}
	state.ConsecutiveFailures = 0
	state.LastSuccessAt = at
	state.LastError = ""
}

// Snapshot returns a copy of every job state ordered by name.
func (t *JobTracker) Snapshot() []JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]JobState, 0, len(t.jobs))
	for _, state := range t.jobs {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

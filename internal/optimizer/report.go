package optimizer

import "time"

// ReportKey is the state cache key holding the most recent Report.
const ReportKey = "optimizer:last_report"

// Report summarizes one optimization cycle.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	ExpiredRecords  int            `json:"expired_records"`
	ExpiredCache    int            `json:"expired_cache_entries"`
	CategoryEvicted map[string]int `json:"category_evicted"`
	GlobalEvicted   int            `json:"global_evicted"`

	// Failures counts deletes that errored and were skipped.
	Failures int      `json:"failures"`
	Errors   []string `json:"errors,omitempty"`
}

// Evicted is the number of records removed across all steps.
func (r *Report) Evicted() int {
	n := r.ExpiredRecords + r.GlobalEvicted
	for _, v := range r.CategoryEvicted {
		n += v
	}
	return n
}

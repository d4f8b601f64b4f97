package runtime

import "time"

// StepStatus is the terminal state of one step execution.
type StepStatus string

const (
	StatusSuccess          StepStatus = "success"
	StatusSkipped          StepStatus = "skipped"
	StatusFailed           StepStatus = "failed"
	StatusDefaulted        StepStatus = "defaulted"
	StatusDeadlineExceeded StepStatus = "deadline_exceeded"
)

// StepTraceEntry records one step execution for the explanation trace.
type StepTraceEntry struct {
	StepID     string     `json:"step_id"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMS int64      `json:"duration_ms"`
	Result     StepStatus `json:"result"`
	// Attempts counts executions of the step body, including retries.
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Trace is the ordered list of step executions of one request. Branch steps
// contribute their sub-pipeline entries in branch-index order after the
// join.
type Trace []StepTraceEntry

// traceRecorder builds trace entries with consistent timing.
type traceRecorder struct {
	entries Trace
}

func (t *traceRecorder) add(entry StepTraceEntry) {
	t.entries = append(t.entries, entry)
}

func (t *traceRecorder) addAll(entries Trace) {
	t.entries = append(t.entries, entries...)
}

// begin returns a partially filled entry; the caller finishes it with
// finish once the step settles.
func begin(stepID string) StepTraceEntry {
	return StepTraceEntry{StepID: stepID, StartedAt: time.Now()}
}

func finish(entry StepTraceEntry, status StepStatus, attempts int, err error) StepTraceEntry {
	entry.DurationMS = time.Since(entry.StartedAt).Milliseconds()
	entry.Result = status
	entry.Attempts = attempts
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

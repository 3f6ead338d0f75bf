// Package reporting accumulates checkout log entries and summarizes them
// into settlement retrospectives for the admin report endpoint.
package reporting

import (
	"sync"
	"time"
)

// Entry statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Checkout stages an entry can describe.
const (
	StageBegin   = "begin"
	StageCapture = "capture"
)

// LogEntry is a single event from the checkout flow.
type LogEntry struct {
	Timestamp time.Time
	OrderID   string
	OwnerID   string
	Stage     string // begin | capture
	Status    string // SUCCESS | FAILURE
	Amount    float64
	Currency  string
	ErrorKind string // empty on success
}

// Retrospective summarizes checkout activity over a window of entries.
type Retrospective struct {
	TotalEvents         int
	CheckoutsStarted    int
	CapturesSucceeded   int
	Failures            int
	TotalAmountCaptured float64            // successful captures only
	AmountByCurrency    map[string]float64 // successful captures only
	ErrorBreakdown      map[string]int     // per ErrorKind, failures only
	DateFrom            time.Time
	DateTo              time.Time
}

// Recorder collects log entries in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an entry, stamping the time if unset.
func (r *Recorder) Record(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a snapshot of the recorded log.
func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}

// GenerateRetrospective summarizes the recorded entries.
func (r *Recorder) GenerateRetrospective() *Retrospective {
	entries := r.Entries()

	report := &Retrospective{
		AmountByCurrency: make(map[string]float64),
		ErrorBreakdown:   make(map[string]int),
	}
	for i, e := range entries {
		report.TotalEvents++
		if i == 0 || e.Timestamp.Before(report.DateFrom) {
			report.DateFrom = e.Timestamp
		}
		if e.Timestamp.After(report.DateTo) {
			report.DateTo = e.Timestamp
		}

		switch {
		case e.Stage == StageBegin && e.Status == StatusSuccess:
			report.CheckoutsStarted++
		case e.Stage == StageCapture && e.Status == StatusSuccess:
			report.CapturesSucceeded++
			report.TotalAmountCaptured += e.Amount
			report.AmountByCurrency[e.Currency] += e.Amount
		case e.Status == StatusFailure:
			report.Failures++
			if e.ErrorKind != "" {
				report.ErrorBreakdown[e.ErrorKind]++
			}
		}
	}
	return report
}

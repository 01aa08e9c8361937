package models

import (
	"fmt"
	"time"
)

// CollectionStatus represents the lifecycle state of a historical collection run.
type CollectionStatus string

const (
	CollectionPending    CollectionStatus = "pending"     // CollectionPending indicates the run is registered but no page has been fetched
	CollectionInProgress CollectionStatus = "in_progress" // CollectionInProgress indicates pages are being fetched
	CollectionCompleted  CollectionStatus = "completed"   // CollectionCompleted indicates coverage reached the completion threshold
	CollectionError      CollectionStatus = "error"       // CollectionError indicates the run stopped on a fatal failure
)

// MaxRecordedErrors caps the number of per-page error messages kept on a
// checkpoint so a long run with a flaky upstream cannot grow the file
// without bound.
const MaxRecordedErrors = 50

// CollectionProgress is the durable checkpoint for one instrument's
// historical backfill. It is persisted after every page so a crashed or
// interrupted run resumes from CurrentDate instead of starting over.
type CollectionProgress struct {
	InstrumentID    string           `json:"coin_id"`
	TotalDays       int              `json:"total_days"`
	CollectedDays   int              `json:"collected_days"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	CurrentDate     time.Time        `json:"current_date"`
	Status          CollectionStatus `json:"status"`
	Errors          []string         `json:"errors"`
	LastError       string           `json:"last_error,omitempty"`
	CollectionStart time.Time        `json:"collection_start"`
	CollectionEnd   time.Time        `json:"collection_end,omitempty"`
}

// NewCollectionProgress creates a pending checkpoint covering the inclusive
// date range [startDate, endDate]. Both dates should already be truncated to
// UTC midnight.
func NewCollectionProgress(instrumentID string, startDate, endDate time.Time) *CollectionProgress {
	totalDays := int(endDate.Sub(startDate).Hours()/24) + 1
	if totalDays < 0 {
		totalDays = 0
	}
	return &CollectionProgress{
		InstrumentID:  instrumentID,
		TotalDays:     totalDays,
		CollectedDays: 0,
		StartDate:     startDate,
		EndDate:       endDate,
		CurrentDate:   startDate,
		Status:        CollectionPending,
		Errors:        []string{},
	}
}

// Validate checks the checkpoint for internal consistency.
func (p *CollectionProgress) Validate() error {
	var errs []ValidationError

	if p.InstrumentID == "" {
		errs = append(errs, ValidationError{Field: "InstrumentID", Message: "instrument ID is required"})
	}
	if p.TotalDays < 0 {
		errs = append(errs, ValidationError{Field: "TotalDays", Message: "total days cannot be negative"})
	}
	if p.CollectedDays < 0 {
		errs = append(errs, ValidationError{Field: "CollectedDays", Message: "collected days cannot be negative"})
	}
	if !p.isValidStatus() {
		errs = append(errs, ValidationError{
			Field: "Status",
			Message: fmt.Sprintf("invalid status '%s', must be one of: %s, %s, %s, %s",
				p.Status, CollectionPending, CollectionInProgress, CollectionCompleted, CollectionError),
		})
	}
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.StartDate.After(p.EndDate) {
		errs = append(errs, ValidationError{Field: "StartDate", Message: "start date must not be after end date"})
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed with %d errors: %v", len(errs), errs)
	}
	return nil
}

func (p *CollectionProgress) isValidStatus() bool {
	switch p.Status {
	case CollectionPending, CollectionInProgress, CollectionCompleted, CollectionError:
		return true
	default:
		return false
	}
}

// State Transition Methods

// Start transitions the checkpoint into in_progress and records the wall
// clock start of the run. A checkpoint in the error state may be restarted,
// which clears the recorded fatal error but keeps the page error history.
func (p *CollectionProgress) Start(now time.Time) error {
	if p.Status != CollectionPending && p.Status != CollectionError {
		return fmt.Errorf("cannot start collection: current status is %s", p.Status)
	}

	p.Status = CollectionInProgress
	p.LastError = ""
	p.CollectionEnd = time.Time{}
	if p.CollectionStart.IsZero() {
		p.CollectionStart = now.UTC()
	}
	return nil
}

// AdvancePage records a successfully collected page. daysCollected is the
// number of daily rows the page contributed and nextDate is where the next
// page will begin.
func (p *CollectionProgress) AdvancePage(daysCollected int, nextDate time.Time) error {
	if p.Status != CollectionInProgress {
		return fmt.Errorf("cannot advance collection: current status is %s", p.Status)
	}
	if daysCollected < 0 {
		return fmt.Errorf("invalid days collected: %d, cannot be negative", daysCollected)
	}

	p.CollectedDays += daysCollected
	p.CurrentDate = nextDate
	return nil
}

// RecordPageError appends a non-fatal page failure. The run keeps going; the
// message is retained for the final report, capped at MaxRecordedErrors.
func (p *CollectionProgress) RecordPageError(msg string) {
	if len(p.Errors) < MaxRecordedErrors {
		p.Errors = append(p.Errors, msg)
	}
	p.LastError = msg
}

// Complete transitions the checkpoint from in_progress to completed and
// stamps the finish time.
func (p *CollectionProgress) Complete(now time.Time) error {
	if p.Status != CollectionInProgress {
		return fmt.Errorf("cannot complete collection: current status is %s", p.Status)
	}

	p.Status = CollectionCompleted
	p.CollectionEnd = now.UTC()
	return nil
}

// Fail transitions the checkpoint from in_progress to error, recording the
// fatal message and the finish time.
func (p *CollectionProgress) Fail(msg string, now time.Time) error {
	if p.Status != CollectionInProgress {
		return fmt.Errorf("cannot fail collection: current status is %s", p.Status)
	}

	p.Status = CollectionError
	p.LastError = msg
	if len(p.Errors) < MaxRecordedErrors {
		p.Errors = append(p.Errors, msg)
	}
	p.CollectionEnd = now.UTC()
	return nil
}

// Progress Reporting

// ProgressPercentage returns collected coverage as a percentage of the
// requested range. An empty range reports 0 rather than dividing by zero,
// and over-collection is clamped at 100.
func (p *CollectionProgress) ProgressPercentage() float64 {
	if p.TotalDays == 0 {
		return 0
	}
	pct := float64(p.CollectedDays) / float64(p.TotalDays) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CoverageRatio returns collected/total as a fraction in [0, 1].
func (p *CollectionProgress) CoverageRatio() float64 {
	return p.ProgressPercentage() / 100
}

// EstimatedTimeRemaining extrapolates the remaining runtime from the pace
// observed so far. It returns 0 unless the run is in progress and has
// collected at least one day.
func (p *CollectionProgress) EstimatedTimeRemaining(now time.Time) time.Duration {
	if p.Status != CollectionInProgress || p.CollectedDays <= 0 || p.CollectionStart.IsZero() {
		return 0
	}

	elapsed := now.Sub(p.CollectionStart)
	if elapsed <= 0 {
		return 0
	}

	remaining := p.TotalDays - p.CollectedDays
	if remaining <= 0 {
		return 0
	}

	perDay := elapsed / time.Duration(p.CollectedDays)
	return perDay * time.Duration(remaining)
}

// IsComplete returns true once the run has finished successfully.
func (p *CollectionProgress) IsComplete() bool {
	return p.Status == CollectionCompleted
}

// IsResumable reports whether the run can pick up from CurrentDate.
func (p *CollectionProgress) IsResumable() bool {
	return p.Status == CollectionInProgress || p.Status == CollectionError
}

// Summary returns a one-line human-readable description for logs and status
// displays.
func (p *CollectionProgress) Summary() string {
	return fmt.Sprintf("%s: %s [%s to %s] %d/%d days (%.1f%%), %d errors",
		p.InstrumentID,
		p.Status,
		p.StartDate.Format(time.DateOnly),
		p.EndDate.Format(time.DateOnly),
		p.CollectedDays,
		p.TotalDays,
		p.ProgressPercentage(),
		len(p.Errors),
	)
}

// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values held by the registry.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Progress counts detail pages attempted against those discovered.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Job is one crawl-and-extract run tracked by the registry.
type Job struct {
	ID              string            `json:"id"`
	SeedURL         string            `json:"seed_url"`
	Status          JobStatus         `json:"status"`
	Progress        Progress          `json:"progress"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Records         []ExtractedRecord `json:"records"`
	PageErrors      []PageError       `json:"page_errors"`
	Reason          string            `json:"reason,omitempty"`
	CancelRequested bool              `json:"cancel_requested"`
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	cp := j
	if j.StartedAt != nil {
		ts := *j.StartedAt
		cp.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	cp.Records = make([]ExtractedRecord, len(j.Records))
	for i, rec := range j.Records {
		rec.Warnings = append([]ExtractionWarning(nil), rec.Warnings...)
		cp.Records[i] = rec
	}
	cp.PageErrors = append(make([]PageError, 0, len(j.PageErrors)), j.PageErrors...)
	return cp
}

// DetailTarget is a detail-page URL plus its position in discovery order.
type DetailTarget struct {
	URL   string `json:"url"`
	Index int    `json:"index"`
}

// ExtractionWarning notes a field whose selector matched nothing.
type ExtractionWarning struct {
	Field    string `json:"field"`
	Selector string `json:"selector"`
	Required bool   `json:"required"`
}

// ExtractedRecord is the structured data pulled from one detail page.
// Optional fields are empty when their selector did not match.
type ExtractedRecord struct {
	Index        int                 `json:"index"`
	RoleURL      string              `json:"role_page_url"`
	ContactName  string              `json:"founder_name,omitempty"`
	ContactTitle string              `json:"founder_title,omitempty"`
	ProfileURL   string              `json:"linkedin_url,omitempty"`
	Warnings     []ExtractionWarning `json:"warnings,omitempty"`
	ExtractedAt  time.Time           `json:"extraction_timestamp"`
}

// Partial reports whether any field could not be located.
func (r ExtractedRecord) Partial() bool {
	return len(r.Warnings) > 0
}

// FailureKind classifies why a target produced no record.
type FailureKind string

// Failure kinds carried by PageError.
const (
	FailureTimeout         FailureKind = "timeout"
	FailureMissingElement  FailureKind = "missing-element"
	FailureNavigationError FailureKind = "navigation-error"
)

// PageError records a target whose fetch never succeeded.
type PageError struct {
	Index            int         `json:"index"`
	URL              string      `json:"url"`
	Kind             FailureKind `json:"kind"`
	Attempts         int         `json:"attempts"`
	RetriesExhausted bool        `json:"retries_exhausted"`
	Message          string      `json:"message,omitempty"`
}

// Snapshot is the raw HTTP response behind a statically fetched page.
type Snapshot struct {
	URL        string
	StatusCode int
	Body       []byte
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	SeedURL   string
	Submitted int64
}

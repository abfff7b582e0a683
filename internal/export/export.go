// Package export renders a job's extracted records as CSV or JSON datasets.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Format names a dataset encoding.
type Format string

// Supported dataset formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Record status values written to the dataset.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
)

// Columns is the CSV header row.
var Columns = []string{
	"role_page_url",
	"founder_name",
	"founder_title",
	"linkedin_url",
	"extraction_timestamp",
	"status",
}

// ParseFormat maps a user-supplied name onto a Format. Empty means CSV.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", crawler.ErrInvalidInput, name)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// ObjectPath is where an archived dataset for the job is stored.
func ObjectPath(jobID string, f Format) string {
	return fmt.Sprintf("jobs/%s/dataset.%s", jobID, f)
}

// Metadata summarizes the job a dataset came from.
type Metadata struct {
	JobID          string            `json:"job_id"`
	SourceURL      string            `json:"source_url"`
	Status         crawler.JobStatus `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	RecordCount    int               `json:"record_count"`
	PageErrorCount int               `json:"page_error_count"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Envelope is the JSON dataset document.
type Envelope struct {
	Metadata   Metadata                  `json:"metadata"`
	Records    []crawler.ExtractedRecord `json:"records"`
	PageErrors []crawler.PageError       `json:"page_errors"`
}

// NewEnvelope builds the JSON document for job.
func NewEnvelope(job crawler.Job) Envelope {
	records := job.Records
	if records == nil {
		records = []crawler.ExtractedRecord{}
	}
	pageErrors := job.PageErrors
	if pageErrors == nil {
		pageErrors = []crawler.PageError{}
	}
	return Envelope{
		Metadata: Metadata{
			JobID:          job.ID,
			SourceURL:      job.SeedURL,
			Status:         job.Status,
			Reason:         job.Reason,
			RecordCount:    len(job.Records),
			PageErrorCount: len(job.PageErrors),
			CompletedAt:    job.CompletedAt,
		},
		Records:    records,
		PageErrors: pageErrors,
	}
}

// Write renders job in the requested format.
func Write(w io.Writer, f Format, job crawler.Job) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, job)
	case FormatJSON:
		return WriteJSON(w, job)
	default:
		return fmt.Errorf("%w: unsupported format %q", crawler.ErrInvalidInput, f)
	}
}

// WriteCSV writes one row per record in discovery order.
func WriteCSV(w io.Writer, job crawler.Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range job.Records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write csv row %d: %w", rec.Index, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes the dataset envelope.
func WriteJSON(w io.Writer, job crawler.Job) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewEnvelope(job)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func row(rec crawler.ExtractedRecord) []string {
	status := StatusOK
	if rec.Partial() {
		status = StatusPartial
	}
	ts := ""
	if !rec.ExtractedAt.IsZero() {
		ts = rec.ExtractedAt.UTC().Format(time.RFC3339)
	}
	return []string{rec.RoleURL, rec.ContactName, rec.ContactTitle, rec.ProfileURL, ts, status}
}

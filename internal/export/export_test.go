package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func sampleJob() crawler.Job {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return crawler.Job{
		ID:          "job-1",
		SeedURL:     "https://board.example.com/jobs",
		Status:      crawler.JobStatusCompleted,
		CompletedAt: &ts,
		Records: []crawler.ExtractedRecord{
			{
				Index:        0,
				RoleURL:      "https://board.example.com/jobs/1",
				ContactName:  "Ada Lovelace",
				ContactTitle: "Founder, CEO",
				ProfileURL:   "https://www.linkedin.com/in/ada",
				ExtractedAt:  ts,
			},
			{
				Index:       2,
				RoleURL:     "https://board.example.com/jobs/3",
				ExtractedAt: ts,
				Warnings:    []crawler.ExtractionWarning{{Field: "contact_name", Selector: ".founder", Required: true}},
			},
		},
		PageErrors: []crawler.PageError{
			{Index: 1, URL: "https://board.example.com/jobs/2", Kind: crawler.FailureTimeout, Attempts: 3, RetriesExhausted: true},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleJob()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"https://board.example.com/jobs/1",
		"Ada Lovelace",
		"Founder, CEO",
		"https://www.linkedin.com/in/ada",
		"2024-03-01T12:00:00Z",
		StatusOK,
	}, rows[1])
	assert.Equal(t, "https://board.example.com/jobs/3", rows[2][0])
	assert.Equal(t, "", rows[2][1])
	assert.Equal(t, StatusPartial, rows[2][5])
}

func TestWriteCSVEmptyJob(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, crawler.Job{ID: "empty"}))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleJob()))

	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "job-1", env.Metadata.JobID)
	assert.Equal(t, "https://board.example.com/jobs", env.Metadata.SourceURL)
	assert.Equal(t, 2, env.Metadata.RecordCount)
	assert.Equal(t, 1, env.Metadata.PageErrorCount)
	assert.Equal(t, crawler.JobStatusCompleted, env.Metadata.Status)
	require.Len(t, env.Records, 2)
	assert.True(t, env.Records[1].Partial())
	require.Len(t, env.PageErrors, 1)
	assert.Equal(t, crawler.FailureTimeout, env.PageErrors[0].Kind)
}

func TestNewEnvelopeUsesEmptySlices(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, crawler.Job{ID: "x", Status: crawler.JobStatusFailed, Reason: "boom"}))
	assert.Contains(t, buf.String(), `"records": []`)
	assert.Contains(t, buf.String(), `"page_errors": []`)
	assert.Contains(t, buf.String(), `"reason": "boom"`)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	assert.Equal(t, "application/json", f.ContentType())

	_, err = ParseFormat("xml")
	require.ErrorIs(t, err, crawler.ErrInvalidInput)
	require.ErrorIs(t, Write(&bytes.Buffer{}, Format("xml"), crawler.Job{}), crawler.ErrInvalidInput)

	assert.Equal(t, "jobs/abc/dataset.csv", ObjectPath("abc", FormatCSV))
}

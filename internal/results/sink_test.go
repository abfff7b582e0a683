package results

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/export"
	"github.com/JakeFAU/jobboard-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/jobboard-crawler/internal/publisher/memory"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/memory"
)

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) StoreRecords(ctx context.Context, job crawler.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockRecordStore) Close() {}

func finishedJob() crawler.Job {
	done := time.Unix(1700000000, 0).UTC()
	return crawler.Job{
		ID:          "job-1",
		SeedURL:     "https://board.example.com/jobs",
		Status:      crawler.JobStatusCompleted,
		CompletedAt: &done,
		Records: []crawler.ExtractedRecord{
			{Index: 0, RoleURL: "https://board.example.com/jobs/1", ContactName: "Ada", ExtractedAt: done},
		},
		PageErrors: []crawler.PageError{
			{Index: 1, URL: "https://board.example.com/jobs/2", Kind: crawler.FailureTimeout, Attempts: 3},
		},
	}
}

func TestJobFinishedArchivesStoresAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	records := &mockRecordStore{}
	records.On("StoreRecords", mock.Anything, mock.MatchedBy(func(j crawler.Job) bool { return j.ID == "job-1" })).Return(nil)
	pub := pubmemory.New()

	sink := New(blobs, records, pub, Config{
		Formats: []export.Format{export.FormatCSV, export.FormatJSON},
		Topic:   "jobs-finished",
		Hasher:  sha256.New(),
	}, nil)

	require.NoError(t, sink.JobFinished(context.Background(), finishedJob()))

	assert.Equal(t, []string{"jobs/job-1/dataset.csv", "jobs/job-1/dataset.json"}, blobs.Paths())
	csvObj, ok := blobs.Get("jobs/job-1/dataset.csv")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(csvObj.Data), "role_page_url,"))
	assert.Equal(t, export.FormatCSV.ContentType(), csvObj.ContentType)
	records.AssertExpectations(t)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "jobs-finished", msgs[0].Topic)
	event, ok := msgs[0].Payload.(JobFinishedEvent)
	require.True(t, ok)
	assert.Equal(t, 1, event.RecordCount)
	assert.Equal(t, 1, event.PageErrorCount)
	assert.Equal(t, "memory://jobs/job-1/dataset.json", event.Artifacts["json"])

	jsonObj, ok := blobs.Get("jobs/job-1/dataset.json")
	require.True(t, ok)
	want, err := sha256.New().Hash(jsonObj.Data)
	require.NoError(t, err)
	assert.Equal(t, want, event.Checksums["json"])
	assert.Len(t, event.Checksums, 2)
}

var (
	_ Hasher = (*sha256.Hasher)(nil)
	_ Hasher = failingHasher{}
)

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("hash broke") }

func TestJobFinishedChecksumFailureSkipsUpload(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	sink := New(blobs, nil, nil, Config{
		Formats: []export.Format{export.FormatCSV},
		Hasher:  failingHasher{},
	}, nil)

	err := sink.JobFinished(context.Background(), finishedJob())
	require.ErrorContains(t, err, "checksum csv")
	assert.Empty(t, blobs.Paths())
}

func TestJobFinishedWithNothingConfigured(t *testing.T) {
	t.Parallel()

	sink := New(nil, nil, nil, Config{}, nil)
	require.NoError(t, sink.JobFinished(context.Background(), finishedJob()))
}

func TestJobFinishedSkipsRecordStoreForEmptyJob(t *testing.T) {
	t.Parallel()

	records := &mockRecordStore{}
	sink := New(nil, records, nil, Config{}, nil)
	require.NoError(t, sink.JobFinished(context.Background(), crawler.Job{ID: "failed", Status: crawler.JobStatusFailed}))
	records.AssertNotCalled(t, "StoreRecords", mock.Anything, mock.Anything)
}

func TestJobFinishedJoinsFailures(t *testing.T) {
	t.Parallel()

	records := &mockRecordStore{}
	records.On("StoreRecords", mock.Anything, mock.Anything).Return(errors.New("db down"))
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic gone"))
	blobs := memory.NewBlobStore()

	sink := New(blobs, records, pub, Config{
		Formats: []export.Format{export.Format("xml"), export.FormatCSV},
		Topic:   "jobs-finished",
	}, nil)

	err := sink.JobFinished(context.Background(), finishedJob())
	require.Error(t, err)
	assert.ErrorContains(t, err, "render xml")
	assert.ErrorContains(t, err, "db down")
	assert.ErrorContains(t, err, "topic gone")
	assert.Equal(t, []string{"jobs/job-1/dataset.csv"}, blobs.Paths())
}

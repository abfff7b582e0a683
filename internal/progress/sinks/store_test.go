package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

type fakeRepo struct {
	calls [][]progress.Event
	err   error
}

func (f *fakeRepo) AppendEvents(_ context.Context, events []progress.Event) error {
	f.calls = append(f.calls, events)
	return f.err
}

func jobEvents() []progress.Event {
	now := time.Unix(1700000000, 0).UTC()
	return []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStarted, URL: "https://board.example.com/jobs"},
		{JobID: "job-1", TS: now, Stage: progress.StageTargetsPlanned, Count: 2},
		{JobID: "job-1", TS: now, Stage: progress.StageTargetDone, URL: "https://board.example.com/jobs/1", Outcome: progress.OutcomeOK, Attempts: 1},
		{JobID: "job-1", TS: now, Stage: progress.StageJobFinished, Outcome: "completed", Dur: time.Second},
	}
}

func TestStoreSinkForwardsBatch(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), jobEvents()))
	require.Len(t, repo.calls, 1)
	require.Len(t, repo.calls[0], 4)
	require.NoError(t, sink.Close(context.Background()))
}

func TestStoreSinkFiltersStages(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, nil, progress.StageJobStarted, progress.StageJobFinished)
	require.NoError(t, sink.Consume(context.Background(), jobEvents()))
	require.Len(t, repo.calls, 1)
	require.Equal(t, progress.StageJobStarted, repo.calls[0][0].Stage)
	require.Equal(t, progress.StageJobFinished, repo.calls[0][1].Stage)

	// Nothing selected means no repository call.
	require.NoError(t, sink.Consume(context.Background(), jobEvents()[1:3]))
	require.Len(t, repo.calls, 1)
}

func TestStoreSinkWrapsErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{err: errors.New("db down")}
	err := NewStoreSink(repo, nil).Consume(context.Background(), jobEvents())
	require.ErrorContains(t, err, "append 4 events")
	require.ErrorContains(t, err, "db down")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), jobEvents()))
}

func TestLogSinkWritesOneLinePerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), jobEvents()))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("job event").All()
	require.Len(t, entries, 4)
	require.Equal(t, "job-1", entries[0].ContextMap()["job_id"])
	require.Equal(t, progress.OutcomeOK, entries[2].ContextMap()["outcome"])
	require.EqualValues(t, 2, entries[1].ContextMap()["count"])
}

package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// Repository appends events to durable storage.
type Repository interface {
	AppendEvents(ctx context.Context, events []progress.Event) error
}

// StoreSink persists events through a Repository.
type StoreSink struct {
	repo   Repository
	stages map[progress.Stage]bool
	logger *zap.Logger
}

// NewStoreSink builds a StoreSink. With no stages every event is stored.
func NewStoreSink(repo Repository, logger *zap.Logger, stages ...progress.Stage) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	var keep map[progress.Stage]bool
	if len(stages) > 0 {
		keep = make(map[progress.Stage]bool, len(stages))
		for _, stage := range stages {
			keep[stage] = true
		}
	}
	return &StoreSink{repo: repo, stages: keep, logger: logger.Named("event_store")}
}

// Consume forwards the selected events in one call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	selected := batch
	if s.stages != nil {
		selected = make([]progress.Event, 0, len(batch))
		for _, evt := range batch {
			if s.stages[evt.Stage] {
				selected = append(selected, evt)
			}
		}
	}
	if len(selected) == 0 {
		return nil
	}
	if err := s.repo.AppendEvents(ctx, selected); err != nil {
		return fmt.Errorf("append %d events: %w", len(selected), err)
	}
	s.logger.Debug("events stored", zap.Int("count", len(selected)))
	return nil
}

// Close is a no-op; the repository is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

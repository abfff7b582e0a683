// Package sinks holds progress.Sink implementations for logs and durable
// storage.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// LogSink writes each event as a structured debug line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageTargetsPlanned:
			fields = append(fields, zap.Int("count", evt.Count))
		case progress.StageTargetDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int("index", evt.Index),
				zap.String("outcome", evt.Outcome),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageJobFinished:
			fields = append(fields, zap.String("outcome", evt.Outcome), zap.Duration("dur", evt.Dur))
		default:
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("job event", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}

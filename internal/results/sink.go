// Package results hands terminal jobs to the archive, record store and
// completion topic.
package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/export"
)

// Config selects what happens to a finished job.
type Config struct {
	// Formats are archived in order. Empty archives nothing.
	Formats []export.Format
	// Topic receives a JobFinishedEvent when set.
	Topic string
	// Hasher fingerprints each archived dataset. Nil skips checksums.
	Hasher Hasher
}

// Hasher fingerprints an archived dataset.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// JobFinishedEvent is published for every terminal job.
type JobFinishedEvent struct {
	JobID          string            `json:"job_id"`
	SeedURL        string            `json:"seed_url"`
	Status         crawler.JobStatus `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	RecordCount    int               `json:"record_count"`
	PageErrorCount int               `json:"page_error_count"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
	Checksums      map[string]string `json:"checksums,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Sink implements crawler.ResultSink. Any collaborator may be nil.
type Sink struct {
	blobs     crawler.BlobStore
	records   crawler.RecordStore
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Sink.
func New(
	blobs crawler.BlobStore,
	records crawler.RecordStore,
	publisher crawler.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		blobs:     blobs,
		records:   records,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("results"),
	}
}

// JobFinished archives, persists and announces job. Every step runs even if
// an earlier one fails; the failures are joined.
func (s *Sink) JobFinished(ctx context.Context, job crawler.Job) error {
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	var errs []error

	artifacts, checksums, err := s.archive(ctx, job)
	if err != nil {
		errs = append(errs, err)
	}

	if s.records != nil && len(job.Records) > 0 {
		if err := s.records.StoreRecords(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("store records: %w", err))
		} else {
			logger.Debug("records stored", zap.Int("count", len(job.Records)))
		}
	}

	if s.publisher != nil && s.cfg.Topic != "" {
		event := JobFinishedEvent{
			JobID:          job.ID,
			SeedURL:        job.SeedURL,
			Status:         job.Status,
			Reason:         job.Reason,
			RecordCount:    len(job.Records),
			PageErrorCount: len(job.PageErrors),
			Artifacts:      artifacts,
			Checksums:      checksums,
			CompletedAt:    job.CompletedAt,
		}
		id, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish job event: %w", err))
		} else {
			logger.Debug("job event published", zap.String("message_id", id))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("job %s results: %w", job.ID, err)
	}
	logger.Info("job results handled", zap.Int("artifacts", len(artifacts)))
	return nil
}

// archive returns format to URI and format to checksum maps.
func (s *Sink) archive(ctx context.Context, job crawler.Job) (map[string]string, map[string]string, error) {
	if s.blobs == nil || len(s.cfg.Formats) == 0 {
		return nil, nil, nil
	}
	artifacts := make(map[string]string, len(s.cfg.Formats))
	var checksums map[string]string
	if s.cfg.Hasher != nil {
		checksums = make(map[string]string, len(s.cfg.Formats))
	}
	var errs []error
	for _, format := range s.cfg.Formats {
		var buf bytes.Buffer
		if err := export.Write(&buf, format, job); err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", format, err))
			continue
		}
		if s.cfg.Hasher != nil {
			sum, err := s.cfg.Hasher.Hash(buf.Bytes())
			if err != nil {
				errs = append(errs, fmt.Errorf("checksum %s: %w", format, err))
				continue
			}
			checksums[string(format)] = sum
		}
		uri, err := s.blobs.PutObject(ctx, export.ObjectPath(job.ID, format), format.ContentType(), &buf)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", format, err))
			continue
		}
		artifacts[string(format)] = uri
	}
	return artifacts, checksums, errors.Join(errs...)
}

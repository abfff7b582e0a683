// Package service is the entry point for submitting, polling and canceling
// crawl jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
)

// ErrBusy is returned when the job could not be scheduled.
var ErrBusy = errors.New("no capacity to schedule job")

// Store is the job registry surface the service needs.
type Store interface {
	crawler.Registry
	List() []crawler.Job
}

// Scheduler accepts jobs without blocking the caller.
type Scheduler interface {
	TryEnqueue(item crawler.QueueItem) error
}

// Config restricts which seeds are accepted.
type Config struct {
	// AllowedHosts limits seeds to these hostnames when non-empty.
	AllowedHosts []string
	// PathPrefix, when set, must prefix the seed path.
	PathPrefix string
}

// Service validates submissions and exposes job state.
type Service struct {
	store     Store
	scheduler Scheduler
	clock     crawler.Clock
	validate  *validator.Validate
	allowed   map[string]struct{}
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Service.
func New(store Store, scheduler Scheduler, clock crawler.Clock, cfg Config, logger *zap.Logger) *Service {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, host := range cfg.AllowedHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			allowed[host] = struct{}{}
		}
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		clock:     clock,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		allowed:   allowed,
		cfg:       cfg,
		logger:    logger.Named("service"),
	}
}

// SubmitJob validates seedURL, registers a pending job and schedules it.
// Invalid seeds fail with crawler.ErrInvalidInput and create no job.
func (s *Service) SubmitJob(ctx context.Context, seedURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	seedURL = strings.TrimSpace(seedURL)
	if err := s.ValidateSeed(seedURL); err != nil {
		return "", err
	}

	jobID, err := s.store.Create(seedURL)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusPending))

	item := crawler.QueueItem{JobID: jobID, SeedURL: seedURL, Submitted: s.clock.Now().Unix()}
	if err := s.scheduler.TryEnqueue(item); err != nil {
		s.logger.Warn("job not scheduled", zap.String("job_id", jobID), zap.Error(err))
		failErr := s.store.Update(jobID, func(job *crawler.Job) error {
			now := s.clock.Now()
			job.Status = crawler.JobStatusFailed
			job.Reason = fmt.Sprintf("not scheduled: %v", err)
			job.CompletedAt = &now
			return nil
		})
		if failErr != nil {
			s.logger.Error("mark unscheduled job failed", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", fmt.Errorf("submit job: %w: %w", ErrBusy, err)
	}

	s.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("seed_url", seedURL))
	return jobID, nil
}

// ValidateSeed checks seedURL against the URL rules and host allow-list.
func (s *Service) ValidateSeed(seedURL string) error {
	if err := s.validate.Var(seedURL, "required,http_url"); err != nil {
		return fmt.Errorf("%w: seed url %q is not an http(s) url", crawler.ErrInvalidInput, seedURL)
	}
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrInvalidInput, err)
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[strings.ToLower(parsed.Hostname())]; !ok {
			return fmt.Errorf("%w: host %q is not allowed", crawler.ErrInvalidInput, parsed.Hostname())
		}
	}
	if s.cfg.PathPrefix != "" && !strings.HasPrefix(parsed.Path, s.cfg.PathPrefix) {
		return fmt.Errorf("%w: path must start with %q", crawler.ErrInvalidInput, s.cfg.PathPrefix)
	}
	return nil
}

// GetJobStatus returns a consistent snapshot of the job.
func (s *Service) GetJobStatus(jobID string) (crawler.Job, error) {
	job, err := s.store.Get(jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job status: %w", err)
	}
	return job, nil
}

// ListJobs returns every known job, oldest first.
func (s *Service) ListJobs() []crawler.Job {
	return s.store.List()
}

// CancelJob requests cooperative cancellation. It is idempotent and a no-op
// for terminal jobs.
func (s *Service) CancelJob(jobID string) error {
	if err := s.store.RequestCancel(jobID); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	s.logger.Info("cancellation requested", zap.String("job_id", jobID))
	return nil
}

// WaitJob polls until the job is terminal or ctx ends.
func (s *Service) WaitJob(ctx context.Context, jobID string, pollInterval time.Duration) (crawler.Job, error) {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := s.GetJobStatus(jobID)
		if err != nil {
			return crawler.Job{}, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

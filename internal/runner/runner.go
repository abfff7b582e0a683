// Package runner executes one crawl-and-extract job from discovery to a
// terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/extractor"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
	"github.com/JakeFAU/jobboard-crawler/internal/planner"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

const defaultSinkTimeout = 30 * time.Second

// Config controls Runner behavior.
type Config struct {
	// Workers is the number of detail pages fetched concurrently per job.
	Workers int
	// DetailSelectors must all match before a detail page is extracted.
	DetailSelectors   []string
	DetailTimeout     time.Duration
	NavigationTimeout time.Duration
	Rules             []extractor.FieldRule
	SinkTimeout       time.Duration
	// Events receives job milestones. Nil disables them.
	Events progress.Emitter
}

// Runner drives jobs through Pending -> Running -> Completed/Failed.
type Runner struct {
	registry crawler.Registry
	sessions crawler.SessionProvider
	planner  *planner.Planner
	pacer    crawler.Pacer
	sink     crawler.ResultSink
	clock    crawler.Clock
	retry    RetryPolicy
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Runner. pacer and sink may be nil.
func New(
	registry crawler.Registry,
	sessions crawler.SessionProvider,
	plan *planner.Planner,
	pacer crawler.Pacer,
	sink crawler.ResultSink,
	clock crawler.Clock,
	retry RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	metrics.Init()
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if len(cfg.DetailSelectors) == 0 {
		cfg.DetailSelectors = []string{"body"}
	}
	if cfg.Rules == nil {
		cfg.Rules = extractor.DefaultRules()
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		sessions: sessions,
		planner:  plan,
		pacer:    pacer,
		sink:     sink,
		clock:    clock,
		retry:    retry,
		cfg:      cfg,
		logger:   logger.Named("runner"),
	}
}

// Run executes the job. Page-level failures are absorbed into the job; the
// returned error only reports jobs that could not be started or finalized.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	logger := r.logger.With(zap.String("job_id", jobID))

	seedURL, err := r.start(jobID)
	if err != nil {
		return err
	}
	metrics.ObserveJob(string(crawler.JobStatusRunning))
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	logger.Info("job started", zap.String("seed_url", seedURL))
	r.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStarted, URL: seedURL})

	seedSession, err := r.sessions.NewSession(ctx)
	if err != nil {
		discoveryErr := &crawler.DiscoveryError{SeedURL: seedURL, Err: fmt.Errorf("acquire session: %w", err)}
		return r.finish(ctx, jobID, crawler.JobStatusFailed, discoveryErr.Error(), logger)
	}
	sessions := []crawler.Session{seedSession}
	defer func() {
		for _, s := range sessions {
			if closeErr := s.Close(); closeErr != nil {
				logger.Warn("session close failed", zap.Error(closeErr))
			}
		}
	}()

	seedFetcher := fetcher.New(seedSession, fetcher.Config{NavigationTimeout: r.cfg.NavigationTimeout})
	targets, err := r.planner.Discover(ctx, seedFetcher, seedURL)
	if err != nil {
		logger.Error("discovery failed", zap.Error(err))
		return r.finish(ctx, jobID, crawler.JobStatusFailed, err.Error(), logger)
	}

	if err := r.registry.Update(jobID, func(job *crawler.Job) error {
		job.Progress.Total = len(targets)
		return nil
	}); err != nil {
		return fmt.Errorf("set total: %w", err)
	}
	r.emit(progress.Event{JobID: jobID, Stage: progress.StageTargetsPlanned, URL: seedURL, Count: len(targets)})

	// Only the seed session may wait for a slot. A job that blocked on extra
	// tabs while holding its seed tab could starve another job doing the same.
	workers := min(r.cfg.Workers, len(targets))
	for len(sessions) < workers {
		s, err := r.extraSession(ctx)
		if err != nil {
			logger.Info("running with fewer workers", zap.Int("workers", len(sessions)), zap.Error(err))
			break
		}
		sessions = append(sessions, s)
	}
	if len(targets) > 0 {
		r.process(ctx, jobID, targets, sessions, logger)
	}

	reason := ""
	if r.cancelled(ctx, jobID) {
		reason = "canceled"
		if snap, err := r.registry.Get(jobID); err == nil {
			reason = fmt.Sprintf("canceled after %d of %d targets", snap.Progress.Processed, snap.Progress.Total)
		}
	}
	return r.finish(ctx, jobID, crawler.JobStatusCompleted, reason, logger)
}

func (r *Runner) extraSession(ctx context.Context) (crawler.Session, error) {
	if pool, ok := r.sessions.(crawler.TrySessionProvider); ok {
		return pool.TryNewSession(ctx)
	}
	return r.sessions.NewSession(ctx)
}

func (r *Runner) start(jobID string) (string, error) {
	var seedURL string
	err := r.registry.Update(jobID, func(job *crawler.Job) error {
		if job.Status != crawler.JobStatusPending {
			return fmt.Errorf("job is %s, not %s", job.Status, crawler.JobStatusPending)
		}
		now := r.clock.Now()
		job.Status = crawler.JobStatusRunning
		job.StartedAt = &now
		seedURL = job.SeedURL
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}
	return seedURL, nil
}

// process fans targets out over one worker per session. Targets are handed
// out in discovery order; results are placed by index so the final order
// does not depend on scheduling.
func (r *Runner) process(
	ctx context.Context,
	jobID string,
	targets []crawler.DetailTarget,
	sessions []crawler.Session,
	logger *zap.Logger,
) {
	group, groupCtx := errgroup.WithContext(ctx)
	stopCtx, stop := context.WithCancel(groupCtx)
	defer stop()

	work := make(chan crawler.DetailTarget)
	group.Go(func() error {
		defer close(work)
		for _, target := range targets {
			select {
			case work <- target:
			case <-stopCtx.Done():
				return nil
			}
		}
		return nil
	})

	for i, session := range sessions {
		loader := fetcher.New(session, fetcher.Config{NavigationTimeout: r.cfg.NavigationTimeout})
		workerLogger := logger.With(zap.Int("worker", i))
		group.Go(func() error {
			for target := range work {
				if r.cancelled(groupCtx, jobID) {
					workerLogger.Info("cancellation observed", zap.Int("next_index", target.Index))
					stop()
					return nil
				}
				if err := r.processTarget(groupCtx, jobID, loader, target, workerLogger); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("target processing aborted", zap.Error(err))
	}
}

func (r *Runner) processTarget(
	ctx context.Context,
	jobID string,
	loader *fetcher.Fetcher,
	target crawler.DetailTarget,
	logger *zap.Logger,
) error {
	logger = logger.With(zap.String("url", target.URL), zap.Int("index", target.Index))
	started := time.Now()
	doc, attempts, pageErr := r.load(ctx, loader, target, logger)

	event := progress.Event{
		JobID:    jobID,
		Stage:    progress.StageTargetDone,
		URL:      target.URL,
		Index:    target.Index,
		Attempts: attempts,
	}
	var update func(*crawler.Job) error
	if pageErr != nil {
		event.Outcome = progress.OutcomeFailed
		event.Note = string(pageErr.Kind)
		metrics.ObserveTarget(target.URL, event.Outcome)
		logger.Warn("target failed",
			zap.String("kind", string(pageErr.Kind)),
			zap.Int("attempts", pageErr.Attempts),
			zap.String("error", pageErr.Message),
		)
		update = func(job *crawler.Job) error {
			job.PageErrors = insertPageError(job.PageErrors, *pageErr)
			job.Progress.Processed++
			return nil
		}
	} else {
		record := extractor.ToRecord(target, extractor.Extract(doc, r.cfg.Rules), r.clock.Now())
		outcome := progress.OutcomeOK
		if record.Partial() {
			outcome = progress.OutcomePartial
		}
		event.Outcome = outcome
		metrics.ObserveTarget(target.URL, outcome)
		logger.Debug("target extracted", zap.String("outcome", outcome), zap.Int("warnings", len(record.Warnings)))
		update = func(job *crawler.Job) error {
			job.Records = insertRecord(job.Records, record)
			job.Progress.Processed++
			return nil
		}
	}

	if err := r.registry.Update(jobID, update); err != nil {
		return fmt.Errorf("record target %d: %w", target.Index, err)
	}
	event.Dur = time.Since(started)
	r.emit(event)
	return nil
}

// load fetches a target, retrying transient failures. It returns the attempt
// count and either a document or the PageError describing why none could be
// obtained.
func (r *Runner) load(
	ctx context.Context,
	loader *fetcher.Fetcher,
	target crawler.DetailTarget,
	logger *zap.Logger,
) (crawler.Document, int, *crawler.PageError) {
	attempts := 0
	var lastErr *crawler.FetchError
	for {
		if r.pacer != nil {
			if err := r.pacer.Wait(ctx, target.URL); err != nil {
				if lastErr == nil {
					lastErr = crawler.NewFetchError(target.URL, "", err)
				}
				break
			}
		}

		attempts++
		start := time.Now()
		doc, err := loader.Load(ctx, target.URL, r.cfg.DetailSelectors, r.cfg.DetailTimeout)
		if err == nil {
			metrics.ObserveFetch(target.URL, "ok", time.Since(start))
			return doc, attempts, nil
		}
		lastErr = asFetchError(target.URL, err)
		metrics.ObserveFetch(target.URL, string(lastErr.FailureKind()), time.Since(start))

		if !lastErr.Retryable() || attempts >= r.retry.Attempts() || ctx.Err() != nil {
			break
		}
		metrics.ObserveRetry(string(lastErr.FailureKind()))
		logger.Info("retrying target", zap.Int("attempt", attempts), zap.Error(lastErr))
		if err := r.retry.Sleep(ctx, attempts-1); err != nil {
			break
		}
	}

	return nil, attempts, &crawler.PageError{
		Index:            target.Index,
		URL:              target.URL,
		Kind:             lastErr.FailureKind(),
		Attempts:         attempts,
		RetriesExhausted: lastErr.Retryable() && attempts >= r.retry.Attempts(),
		Message:          lastErr.Error(),
	}
}

func (r *Runner) cancelled(ctx context.Context, jobID string) bool {
	return ctx.Err() != nil || r.registry.CancelRequested(jobID)
}

func (r *Runner) finish(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	reason string,
	logger *zap.Logger,
) error {
	err := r.registry.Update(jobID, func(job *crawler.Job) error {
		now := r.clock.Now()
		job.Status = status
		job.Reason = reason
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	metrics.ObserveJob(string(status))

	snapshot, err := r.registry.Get(jobID)
	if err != nil {
		return fmt.Errorf("snapshot job: %w", err)
	}
	logger.Info("job finished",
		zap.String("status", string(snapshot.Status)),
		zap.Int("records", len(snapshot.Records)),
		zap.Int("page_errors", len(snapshot.PageErrors)),
		zap.Int("processed", snapshot.Progress.Processed),
		zap.Int("total", snapshot.Progress.Total),
	)
	finished := progress.Event{
		JobID:   jobID,
		Stage:   progress.StageJobFinished,
		URL:     snapshot.SeedURL,
		Count:   len(snapshot.Records),
		Outcome: string(snapshot.Status),
		Note:    snapshot.Reason,
	}
	if snapshot.StartedAt != nil && snapshot.CompletedAt != nil {
		finished.Dur = max(snapshot.CompletedAt.Sub(*snapshot.StartedAt), 0)
	}
	r.emit(finished)

	if r.sink == nil {
		return nil
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SinkTimeout)
	defer cancel()
	if err := r.sink.JobFinished(sinkCtx, snapshot); err != nil {
		logger.Error("result sink failed", zap.Error(err))
	}
	return nil
}

func (r *Runner) emit(evt progress.Event) {
	if r.cfg.Events == nil {
		return
	}
	evt.TS = r.clock.Now()
	r.cfg.Events.Emit(evt)
}

func asFetchError(url string, err error) *crawler.FetchError {
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}
	return crawler.NewFetchError(url, "", err)
}

func insertRecord(records []crawler.ExtractedRecord, rec crawler.ExtractedRecord) []crawler.ExtractedRecord {
	i := sort.Search(len(records), func(i int) bool { return records[i].Index >= rec.Index })
	records = append(records, crawler.ExtractedRecord{})
	copy(records[i+1:], records[i:])
	records[i] = rec
	return records
}

func insertPageError(errs []crawler.PageError, pe crawler.PageError) []crawler.PageError {
	i := sort.Search(len(errs), func(i int) bool { return errs[i].Index >= pe.Index })
	errs = append(errs, crawler.PageError{})
	copy(errs[i+1:], errs[i:])
	errs[i] = pe
	return errs
}

// Package registry holds crawl jobs in memory for the lifetime of the process.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Registry is the authoritative store of job state. Reads return deep copies;
// every write happens under the lock so readers never observe a half-applied
// update.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*crawler.Job
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// New constructs a Registry.
func New(ids crawler.IDGenerator, clock crawler.Clock) *Registry {
	return &Registry{
		jobs:  make(map[string]*crawler.Job),
		ids:   ids,
		clock: clock,
	}
}

// Create stores a new pending job and returns its identifier.
func (r *Registry) Create(seedURL string) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	job := &crawler.Job{
		ID:         id,
		SeedURL:    seedURL,
		Status:     crawler.JobStatusPending,
		CreatedAt:  r.clock.Now(),
		Records:    []crawler.ExtractedRecord{},
		PageErrors: []crawler.PageError{},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return "", fmt.Errorf("create job %s: duplicate id", id)
	}
	r.jobs[id] = job
	return id, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(jobID string) (crawler.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job.Clone(), nil
}

// Update applies mutate to the live job under the write lock. Terminal jobs
// are immutable. If mutate returns an error the job is left untouched.
func (r *Registry) Update(jobID string, mutate func(*crawler.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobTerminal)
	}
	working := job.Clone()
	if err := mutate(&working); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if working.Progress.Processed > working.Progress.Total {
		return fmt.Errorf("update job %s: processed %d exceeds total %d",
			jobID, working.Progress.Processed, working.Progress.Total)
	}
	*job = working
	return nil
}

// RequestCancel flags the job for cooperative cancellation. Repeated calls
// and calls on terminal jobs are no-ops.
func (r *Registry) RequestCancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("cancel job %s: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.CancelRequested = true
	return nil
}

// CancelRequested reports whether cancellation was requested for the job.
func (r *Registry) CancelRequested(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	return ok && job.CancelRequested
}

// List returns snapshots of all jobs ordered by creation time.
func (r *Registry) List() []crawler.Job {
	r.mu.RLock()
	out := make([]crawler.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

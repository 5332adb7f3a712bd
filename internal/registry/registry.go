package registry

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nmkhang/grabber-be/internal/domain"
)

// entry pairs a job record with the time it last changed, so the sweeper
// can tell abandoned terminal jobs from freshly finished ones.
type entry struct {
	job       domain.Job
	updatedAt time.Time
}

// Registry is the process-wide table of job state. It is the single
// source of truth for what is happening with a job right now; the worker
// mutates it and HTTP handlers read snapshots from it.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*entry),
		logger: logger,
		now:    time.Now,
	}
}

// Create initializes the default snapshot for a new job id and returns it.
func (r *Registry) Create(id string) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := domain.Job{
		ID:       id,
		Status:   domain.StatusStarting,
		Progress: 0,
	}
	r.jobs[id] = &entry{job: job, updatedAt: r.now()}
	return job
}

// Get returns a snapshot of the job, or false if the id is unknown.
func (r *Registry) Get(id string) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return e.job, true
}

// Mutate atomically applies fn to the job and returns the new snapshot.
// Terminal jobs are never mutated again; fn is skipped and the current
// snapshot returned. Returns false if the id is unknown.
func (r *Registry) Mutate(id string, fn func(*domain.Job)) (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	if e.job.Status.Terminal() {
		return e.job, true
	}

	fn(&e.job)
	e.updatedAt = r.now()
	return e.job, true
}

// Delete removes the job record. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep evicts terminal jobs that have been idle longer than retention,
// removing their artifact files best-effort. Running jobs are never
// evicted. Returns the number of evicted entries.
func (r *Registry) Sweep(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	var evicted []domain.Job
	for id, e := range r.jobs {
		if e.job.Status.Terminal() && e.updatedAt.Before(cutoff) {
			evicted = append(evicted, e.job)
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()

	for _, job := range evicted {
		r.logger.Info("Evicted abandoned job",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status.String()),
		)
		if job.Filename == "" {
			continue
		}
		if err := os.Remove(job.Filename); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to remove abandoned artifact",
				slog.String("job_id", job.ID),
				slog.String("filename", job.Filename),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(evicted)
}

// RunSweeper periodically sweeps abandoned jobs until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Job sweeper started",
		slog.Duration("interval", interval),
		slog.Duration("retention", retention),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Job sweeper stopped")
			return
		case <-ticker.C:
			if n := r.Sweep(retention); n > 0 {
				r.logger.Info("Sweep pass complete", slog.Int("evicted", n))
			}
		}
	}
}

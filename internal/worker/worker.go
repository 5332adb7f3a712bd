package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nmkhang/grabber-be/internal/domain"
	"github.com/nmkhang/grabber-be/internal/registry"
	"github.com/nmkhang/grabber-be/internal/stream"
)

// Fetcher is the fetch engine consumed by the worker.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.DownloadRequest, onProgress func(domain.FetchProgress)) (string, error)
}

// Transformer is the transform engine consumed by the worker.
type Transformer interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Transform(ctx context.Context, inputPath, outputPath string, format domain.Format, onPercent func(float64)) error
}

// Config holds worker dependencies.
type Config struct {
	Logger      *slog.Logger
	Registry    *registry.Registry
	Hub         *stream.Hub
	Fetcher     Fetcher
	Transformer Transformer
	OutputDir   string
}

// Worker drives download jobs through their lifecycle: fetch the source,
// apply the enhancement transform, publish every state change as a
// snapshot, and always terminate the job's event channel exactly once.
type Worker struct {
	logger      *slog.Logger
	registry    *registry.Registry
	hub         *stream.Hub
	fetcher     Fetcher
	transformer Transformer
	outputDir   string
}

// New creates a worker.
func New(cfg *Config) *Worker {
	return &Worker{
		logger:      cfg.Logger,
		registry:    cfg.Registry,
		hub:         cfg.Hub,
		fetcher:     cfg.Fetcher,
		transformer: cfg.Transformer,
		outputDir:   cfg.OutputDir,
	}
}

// Launch starts the job in its own goroutine and returns immediately.
// Jobs run to completion or failure; closing the progress stream does
// not stop them.
func (w *Worker) Launch(jobID string, req domain.DownloadRequest) {
	go w.run(context.Background(), jobID, req)
}

// run executes one job end to end. Failures never escape: every exit
// path ends in a terminal snapshot followed by the channel end-marker.
func (w *Worker) run(ctx context.Context, jobID string, req domain.DownloadRequest) {
	w.logger.Info("Job started",
		slog.String("job_id", jobID),
		slog.String("url", req.URL),
		slog.String("format", string(req.Format)),
		slog.String("quality", string(req.Quality)),
	)

	path, err := w.fetcher.Fetch(ctx, req, func(p domain.FetchProgress) {
		w.onFetchProgress(jobID, p)
	})
	if err != nil {
		w.fail(jobID, err)
		return
	}

	w.publish(jobID, func(job *domain.Job) {
		job.Status = domain.StatusProcessing
		job.Progress = 0
		job.ProcessingStep = "Applying enhancement filters"
	})

	outputPath := filepath.Join(w.outputDir, fmt.Sprintf("processed_%s_%s", jobID, filepath.Base(path)))

	transformErr := w.transformer.Transform(ctx, path, outputPath, req.Format, func(percent float64) {
		w.publish(jobID, func(job *domain.Job) {
			if percent > job.Progress {
				job.Progress = percent
			}
		})
	})

	var final domain.Job
	if transformErr != nil {
		// Non-fatal: fall back to the untransformed file.
		w.logger.Warn("Transform failed, falling back to original file",
			slog.String("job_id", jobID),
			slog.String("error", transformErr.Error()),
		)
		final, _ = w.registry.Mutate(jobID, func(job *domain.Job) {
			job.Filename = path
			job.Status = domain.StatusFinished
			job.Progress = 100
			job.ErrorWarning = fmt.Sprintf("Transform failed: %s", transformErr.Error())
		})
	} else {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			w.logger.Warn("Failed to remove original file",
				slog.String("job_id", jobID),
				slog.String("path", path),
				slog.String("error", removeErr.Error()),
			)
		}
		final, _ = w.registry.Mutate(jobID, func(job *domain.Job) {
			job.Filename = outputPath
			job.Status = domain.StatusFinished
			job.Progress = 100
		})
	}

	w.hub.Finish(jobID, final)
	w.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("filename", final.Filename),
	)
}

// onFetchProgress applies one fetch-engine tick to the job.
func (w *Worker) onFetchProgress(jobID string, p domain.FetchProgress) {
	switch p.Phase {
	case domain.FetchPhaseDownloading:
		// Merged-format fetches tick downloading again for the second
		// file after the first reported finished. Status never reverts
		// once the job reached processing, so those late ticks are
		// dropped whole.
		stale := false
		snapshot, ok := w.registry.Mutate(jobID, func(job *domain.Job) {
			if job.Status == domain.StatusProcessing {
				stale = true
				return
			}
			job.Status = domain.StatusDownloading
			if p.Percent >= 0 && p.Percent > job.Progress {
				job.Progress = p.Percent
			}
			if p.Speed != "" {
				job.Speed = p.Speed
			}
			if p.ETA != "" {
				job.ETA = p.ETA
			}
			if p.SizeInfo != "" {
				job.SizeInfo = p.SizeInfo
			}
		})
		if !ok || stale {
			return
		}
		w.hub.Publish(jobID, snapshot)
	case domain.FetchPhaseFinished:
		w.publish(jobID, func(job *domain.Job) {
			job.Status = domain.StatusProcessing
			job.Progress = 0
			job.SizeInfo = "Download complete, preparing transformations..."
		})
	}
}

// publish atomically mutates the job and offers the new snapshot to the
// event channel.
func (w *Worker) publish(jobID string, fn func(*domain.Job)) {
	snapshot, ok := w.registry.Mutate(jobID, fn)
	if !ok {
		return
	}
	w.hub.Publish(jobID, snapshot)
}

// fail moves the job to its terminal error state with the cause
// preserved verbatim, then ends the event channel.
func (w *Worker) fail(jobID string, cause error) {
	w.logger.Error("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)

	// The engine's message goes into the job untouched, without the
	// wrapper prefix.
	message := cause.Error()
	var upstream *domain.UpstreamError
	if errors.As(cause, &upstream) {
		message = upstream.Err.Error()
	}

	final, ok := w.registry.Mutate(jobID, func(job *domain.Job) {
		job.Status = domain.StatusError
		job.Error = message
	})
	if !ok {
		w.hub.Remove(jobID)
		return
	}
	w.hub.Finish(jobID, final)
}

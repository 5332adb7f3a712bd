package handler

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nmkhang/grabber-be/internal/api/dto"
	"github.com/nmkhang/grabber-be/internal/domain"
	"github.com/nmkhang/grabber-be/internal/stream"
)

// CheckSource handles POST /check
// Probes source metadata without downloading
func (h *DownloadHandler) CheckSource(c *gin.Context) {
	var req dto.CheckSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No URL provided",
		})
		return
	}

	info, err := h.prober.Probe(c.Request.Context(), req.URL)
	if err != nil {
		h.logger.Error("Source probe failed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Could not fetch video info",
		})
		return
	}

	c.JSON(http.StatusOK, info)
}

// CreateDownload handles POST /download
// Creates a job record and its event channel, launches the background
// worker and returns the job id immediately
func (h *DownloadHandler) CreateDownload(c *gin.Context) {
	var req dto.CreateDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No URL provided",
		})
		return
	}

	format := domain.Format(req.Format)
	if req.Format == "" {
		format = domain.FormatVideo
	}
	if !format.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "format must be video or audio",
		})
		return
	}

	quality := domain.Quality(req.Quality)
	if req.Quality == "" {
		quality = domain.QualityBest
	}
	if !quality.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "quality must be best, 1080p or 720p",
		})
		return
	}

	jobID := uuid.New().String()
	h.registry.Create(jobID)
	h.hub.Register(jobID)
	h.launcher.Launch(jobID, domain.DownloadRequest{
		URL:     req.URL,
		Format:  format,
		Quality: quality,
	})

	h.logger.Info("Download job created",
		slog.String("job_id", jobID),
		slog.String("url", req.URL),
		slog.String("format", string(format)),
		slog.String("quality", string(quality)),
	)

	c.JSON(http.StatusOK, dto.CreateDownloadResponse{JobID: jobID})
}

// StreamEvents handles GET /events/:job_id
// Relays the job's event channel as a server-sent event stream until the
// end-marker, emitting comment keep-alives while the channel is idle.
// Unknown job ids end the stream immediately.
func (h *DownloadHandler) StreamEvents(c *gin.Context) {
	jobID := c.Param("job_id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	sawTerminal := false
	c.Stream(func(w io.Writer) bool {
		snapshot, kind := h.hub.Drain(c.Request.Context(), jobID, h.streamIdleTimeout)
		switch kind {
		case stream.KindSnapshot:
			if snapshot.Status.Terminal() {
				sawTerminal = true
			}
			if err := sse.Encode(w, sse.Event{Data: snapshot}); err != nil {
				return false
			}
			return true
		case stream.KindKeepAlive:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return false
			}
			return true
		default:
			// Subscribers share one channel; whoever lost the race for
			// the terminal snapshot still gets it from the registry.
			if !sawTerminal {
				if job, ok := h.registry.Get(jobID); ok && job.Status.Terminal() {
					_ = sse.Encode(w, sse.Event{Data: job})
				}
			}
			return false
		}
	})

	h.hub.Remove(jobID)
}

// GetStatus handles GET /status/:job_id
// Returns the current job snapshot
func (h *DownloadHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	job, ok := h.registry.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// FetchFile handles GET /fetch/:job_id
// Streams the finished artifact as an attachment, then deletes both the
// file and the job record. One-shot: repeated calls return 404.
func (h *DownloadHandler) FetchFile(c *gin.Context) {
	jobID := c.Param("job_id")

	job, ok := h.registry.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if job.Status != domain.StatusFinished {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "File not ready",
		})
		return
	}

	if _, err := os.Stat(job.Filename); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "File not found on server",
		})
		return
	}

	defer h.cleanupDelivered(jobID, job.Filename)
	c.FileAttachment(job.Filename, filepath.Base(job.Filename))
}

// cleanupDelivered removes an artifact and its registry entry after a
// delivery attempt, success or not. Failures are logged, never surfaced.
func (h *DownloadHandler) cleanupDelivered(jobID, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Error("Failed to remove delivered artifact",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	h.registry.Delete(jobID)
	h.logger.Info("Job delivered and cleaned up",
		slog.String("job_id", jobID),
	)
}

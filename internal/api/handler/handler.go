package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/nmkhang/grabber-be/internal/domain"
	"github.com/nmkhang/grabber-be/internal/registry"
	"github.com/nmkhang/grabber-be/internal/stream"
)

// Prober resolves source metadata without downloading.
type Prober interface {
	Probe(ctx context.Context, url string) (domain.SourceInfo, error)
}

// Launcher starts background download jobs.
type Launcher interface {
	Launch(jobID string, req domain.DownloadRequest)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Registry          *registry.Registry
	Hub               *stream.Hub
	Prober            Prober
	Launcher          Launcher
	StreamIdleTimeout time.Duration
}

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	logger            *slog.Logger
	registry          *registry.Registry
	hub               *stream.Hub
	prober            Prober
	launcher          Launcher
	streamIdleTimeout time.Duration
}

// NewDownloadHandler creates a new DownloadHandler instance
func NewDownloadHandler(deps *Dependencies) *DownloadHandler {
	idle := deps.StreamIdleTimeout
	if idle == 0 {
		idle = 30 * time.Second
	}
	return &DownloadHandler{
		logger:            deps.Logger,
		registry:          deps.Registry,
		hub:               deps.Hub,
		prober:            deps.Prober,
		launcher:          deps.Launcher,
		streamIdleTimeout: idle,
	}
}

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nmkhang/grabber-be/internal/domain"
)

// Kind classifies what a Drain call yielded.
type Kind int

const (
	// KindSnapshot means a job snapshot was received.
	KindSnapshot Kind = iota
	// KindKeepAlive means nothing arrived within the idle timeout; the
	// stream stays open.
	KindKeepAlive
	// KindEnd means the end-marker was reached, the channel no longer
	// exists, or the consumer's context ended.
	KindEnd
)

// channel is one job's delivery pipe. The end-marker is the close of ch;
// finished guards against double close and publishes after finish.
type channel struct {
	ch       chan domain.Job
	finished bool
}

// Hub owns one bounded snapshot channel per job, decoupling the worker
// (producer) from stream consumers. Publishes never block the worker:
// when a buffer is full the oldest buffered snapshot is dropped, since
// intermediate progress is advisory. The final snapshot and end-marker
// are always delivered.
type Hub struct {
	mu     sync.Mutex
	chans  map[string]*channel
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub whose per-job channels buffer up to buffer
// snapshots.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 2 {
		buffer = 2
	}
	return &Hub{
		chans:  make(map[string]*channel),
		buffer: buffer,
		logger: logger,
	}
}

// Register creates the delivery channel for a job. Called on the job
// submission path, before the worker starts.
func (h *Hub) Register(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chans[id] = &channel{ch: make(chan domain.Job, h.buffer)}
}

// Publish offers a snapshot to the job's channel without ever blocking.
// If the buffer is full the oldest buffered snapshot is dropped to make
// room. Publishing to a missing or finished channel silently does
// nothing and returns false.
func (h *Hub) Publish(id string, snapshot domain.Job) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.chans[id]
	if !ok || c.finished {
		return false
	}
	h.offer(c, snapshot)
	return true
}

// Finish delivers the final snapshot and then the end-marker, exactly
// once. The final snapshot is never dropped. A second Finish, or one for
// a missing channel, is a no-op.
func (h *Hub) Finish(id string, final domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.chans[id]
	if !ok || c.finished {
		return
	}
	h.offer(c, final)
	c.finished = true
	close(c.ch)
}

// offer performs a non-blocking send, evicting the oldest buffered
// snapshot on overflow. Caller holds h.mu, so only non-blocking channel
// operations are allowed here.
func (h *Hub) offer(c *channel, snapshot domain.Job) {
	for {
		select {
		case c.ch <- snapshot:
			return
		default:
		}
		select {
		case dropped := <-c.ch:
			h.logger.Debug("Dropped progress snapshot under backpressure",
				slog.String("job_id", dropped.ID),
				slog.String("status", dropped.Status.String()),
			)
		default:
		}
	}
}

// Drain blocks until the job's channel yields a snapshot, the idle
// timeout elapses (keep-alive), the end-marker is reached, or ctx is
// done. Unknown ids end immediately.
func (h *Hub) Drain(ctx context.Context, id string, idleTimeout time.Duration) (domain.Job, Kind) {
	h.mu.Lock()
	c, ok := h.chans[id]
	h.mu.Unlock()
	if !ok {
		return domain.Job{}, KindEnd
	}

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	select {
	case snapshot, open := <-c.ch:
		if !open {
			return domain.Job{}, KindEnd
		}
		return snapshot, KindSnapshot
	case <-timer.C:
		return domain.Job{}, KindKeepAlive
	case <-ctx.Done():
		return domain.Job{}, KindEnd
	}
}

// Remove deletes the job's channel. Called when its stream is fully
// drained or abandoned; later worker publishes fail silently.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.chans, id)
}

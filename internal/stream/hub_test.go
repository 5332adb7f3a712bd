package stream

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmkhang/grabber-be/internal/domain"
)

func newTestHub(buffer int) *Hub {
	return NewHub(buffer, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func snapshot(id string, status domain.Status, progress float64) domain.Job {
	return domain.Job{ID: id, Status: status, Progress: progress}
}

func TestPublishAndDrainOrdering(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")

	h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, 10))
	h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, 50))
	h.Publish("job-1", snapshot("job-1", domain.StatusProcessing, 0))

	ctx := context.Background()
	for _, want := range []float64{10, 50, 0} {
		msg, kind := h.Drain(ctx, "job-1", time.Second)
		require.Equal(t, KindSnapshot, kind)
		assert.Equal(t, want, msg.Progress)
	}
}

func TestDrainKeepAlive(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")

	start := time.Now()
	_, kind := h.Drain(context.Background(), "job-1", 20*time.Millisecond)
	assert.Equal(t, KindKeepAlive, kind)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDrainUnknownJobEnds(t *testing.T) {
	h := newTestHub(8)

	_, kind := h.Drain(context.Background(), "missing", time.Second)
	assert.Equal(t, KindEnd, kind)
}

func TestDrainContextCanceled(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, kind := h.Drain(ctx, "job-1", time.Minute)
	assert.Equal(t, KindEnd, kind)
}

func TestFinishDeliversFinalThenEnd(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")

	h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, 99))
	h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))

	ctx := context.Background()

	msg, kind := h.Drain(ctx, "job-1", time.Second)
	require.Equal(t, KindSnapshot, kind)
	assert.Equal(t, domain.StatusDownloading, msg.Status)

	msg, kind = h.Drain(ctx, "job-1", time.Second)
	require.Equal(t, KindSnapshot, kind)
	assert.Equal(t, domain.StatusFinished, msg.Status)

	// Exactly one end-marker, always last.
	_, kind = h.Drain(ctx, "job-1", time.Second)
	assert.Equal(t, KindEnd, kind)
	_, kind = h.Drain(ctx, "job-1", time.Second)
	assert.Equal(t, KindEnd, kind)
}

func TestOverflowDropsIntermediateKeepsTerminal(t *testing.T) {
	h := newTestHub(2)
	h.Register("job-1")

	// Flood well past the buffer with nobody draining.
	for i := 0; i < 20; i++ {
		h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, float64(i)))
	}
	h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))

	ctx := context.Background()
	var last domain.Job
	var kinds []Kind
	for {
		msg, kind := h.Drain(ctx, "job-1", time.Second)
		kinds = append(kinds, kind)
		if kind != KindSnapshot {
			break
		}
		last = msg
	}

	// Intermediate ticks were dropped but the terminal snapshot and the
	// end-marker made it through, in that order.
	assert.LessOrEqual(t, len(kinds), 3)
	assert.Equal(t, domain.StatusFinished, last.Status)
	assert.Equal(t, KindEnd, kinds[len(kinds)-1])
}

func TestPublishAfterFinishIsNoOp(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")
	h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))

	assert.False(t, h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, 10)))

	// Second finish is also a no-op (no panic on double close).
	h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))
}

func TestPublishAfterRemoveFailsSilently(t *testing.T) {
	h := newTestHub(8)
	h.Register("job-1")
	h.Remove("job-1")

	assert.False(t, h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, 10)))
	h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))

	_, kind := h.Drain(context.Background(), "job-1", 10*time.Millisecond)
	assert.Equal(t, KindEnd, kind)
}

func TestConcurrentPublisherAndConsumer(t *testing.T) {
	h := newTestHub(4)
	h.Register("job-1")

	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("job-1", snapshot("job-1", domain.StatusDownloading, float64(i)))
		}
		h.Finish("job-1", snapshot("job-1", domain.StatusFinished, 100))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var last domain.Job
	for {
		msg, kind := h.Drain(ctx, "job-1", 100*time.Millisecond)
		if kind == KindEnd {
			break
		}
		if kind == KindSnapshot {
			// Ordering: progress never goes backwards within the phase.
			if msg.Status == last.Status {
				assert.GreaterOrEqual(t, msg.Progress, last.Progress)
			}
			last = msg
		}
	}

	assert.Equal(t, domain.StatusFinished, last.Status)
}

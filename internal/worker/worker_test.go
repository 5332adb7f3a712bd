package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmkhang/grabber-be/internal/domain"
	"github.com/nmkhang/grabber-be/internal/registry"
	"github.com/nmkhang/grabber-be/internal/stream"
)

type fakeFetcher struct {
	path  string
	err   error
	ticks []domain.FetchProgress
}

func (f *fakeFetcher) Fetch(ctx context.Context, req domain.DownloadRequest, onProgress func(domain.FetchProgress)) (string, error) {
	for _, tick := range f.ticks {
		onProgress(tick)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeTransformer struct {
	err      error
	percents []float64
}

func (t *fakeTransformer) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return 20, nil
}

func (t *fakeTransformer) Transform(ctx context.Context, inputPath, outputPath string, format domain.Format, onPercent func(float64)) error {
	if t.err != nil {
		return t.err
	}
	for _, p := range t.percents {
		onPercent(p)
	}
	return os.WriteFile(outputPath, []byte("transformed"), 0o644)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func downloadTicks() []domain.FetchProgress {
	return []domain.FetchProgress{
		{Phase: domain.FetchPhaseDownloading, Percent: 10, Speed: "1.00MiB/s", ETA: "0:30", SizeInfo: "1.00MiB / 10.00MiB"},
		{Phase: domain.FetchPhaseDownloading, Percent: 60, Speed: "2.00MiB/s", ETA: "0:10", SizeInfo: "6.00MiB / 10.00MiB"},
		{Phase: domain.FetchPhaseDownloading, Percent: 100},
		{Phase: domain.FetchPhaseFinished},
	}
}

// setup builds a worker around fakes and an original file on disk,
// returning everything a scenario needs.
func setup(t *testing.T, fetcher Fetcher, transformer Transformer) (*Worker, *registry.Registry, *stream.Hub, string) {
	t.Helper()

	dir := t.TempDir()
	reg := registry.New(testLogger())
	hub := stream.NewHub(256, testLogger())

	w := New(&Config{
		Logger:      testLogger(),
		Registry:    reg,
		Hub:         hub,
		Fetcher:     fetcher,
		Transformer: transformer,
		OutputDir:   dir,
	})
	return w, reg, hub, dir
}

// drainAll collects every snapshot until the end-marker.
func drainAll(t *testing.T, hub *stream.Hub, jobID string) []domain.Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var snapshots []domain.Job
	for {
		msg, kind := hub.Drain(ctx, jobID, 100*time.Millisecond)
		switch kind {
		case stream.KindSnapshot:
			snapshots = append(snapshots, msg)
		case stream.KindEnd:
			return snapshots
		}
	}
}

func TestRun_SuccessfulAudioJob(t *testing.T) {
	original := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	fetcher := &fakeFetcher{path: original, ticks: downloadTicks()}
	transformer := &fakeTransformer{percents: []float64{25, 50, 100}}
	w, reg, hub, outDir := setup(t, fetcher, transformer)

	reg.Create("job-1")
	hub.Register("job-1")
	w.run(context.Background(), "job-1", domain.DownloadRequest{
		URL:    "https://example.com/watch?v=x",
		Format: domain.FormatAudio,
	})

	snapshots := drainAll(t, hub, "job-1")
	require.NotEmpty(t, snapshots)

	assertStatusSequence(t, snapshots)

	final := snapshots[len(snapshots)-1]
	assert.Equal(t, domain.StatusFinished, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	assert.Empty(t, final.Error)
	assert.Empty(t, final.ErrorWarning)

	wantArtifact := filepath.Join(outDir, "processed_job-1_song.mp3")
	assert.Equal(t, wantArtifact, final.Filename)
	assert.FileExists(t, wantArtifact)
	assert.NoFileExists(t, original)

	// Registry agrees with the stream's final snapshot.
	job, ok := reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, final, job)
}

func TestRun_MergedFormatLateTicksStayProcessing(t *testing.T) {
	original := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	// Merged video+audio downloads report finished after the first file
	// and then tick downloading again for the second one. Those late
	// ticks must not pull the job back out of processing.
	fetcher := &fakeFetcher{path: original, ticks: []domain.FetchProgress{
		{Phase: domain.FetchPhaseDownloading, Percent: 50},
		{Phase: domain.FetchPhaseDownloading, Percent: 100},
		{Phase: domain.FetchPhaseFinished},
		{Phase: domain.FetchPhaseDownloading, Percent: 10},
		{Phase: domain.FetchPhaseDownloading, Percent: 90},
	}}
	transformer := &fakeTransformer{percents: []float64{50, 100}}
	w, reg, hub, _ := setup(t, fetcher, transformer)

	reg.Create("job-1")
	hub.Register("job-1")
	w.run(context.Background(), "job-1", domain.DownloadRequest{
		URL:    "https://example.com/watch?v=x",
		Format: domain.FormatVideo,
	})

	snapshots := drainAll(t, hub, "job-1")
	require.NotEmpty(t, snapshots)

	assertStatusSequence(t, snapshots)

	sawProcessing := false
	for _, s := range snapshots {
		if s.Status == domain.StatusProcessing {
			sawProcessing = true
		}
		if sawProcessing {
			assert.NotEqual(t, domain.StatusDownloading, s.Status,
				"job reverted from processing back to downloading")
		}
	}

	final := snapshots[len(snapshots)-1]
	assert.Equal(t, domain.StatusFinished, final.Status)

	job, ok := reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, final, job)
}

func TestRun_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: domain.NewUpstreamError(errors.New("HTTP Error 403: Forbidden"))}
	w, reg, hub, _ := setup(t, fetcher, &fakeTransformer{})

	reg.Create("job-1")
	hub.Register("job-1")
	w.run(context.Background(), "job-1", domain.DownloadRequest{
		URL:    "https://example.com/broken",
		Format: domain.FormatVideo,
	})

	snapshots := drainAll(t, hub, "job-1")
	require.NotEmpty(t, snapshots)

	final := snapshots[len(snapshots)-1]
	assert.Equal(t, domain.StatusError, final.Status)
	// Verbatim engine message, no wrapper prefix.
	assert.Equal(t, "HTTP Error 403: Forbidden", final.Error)
	assert.Empty(t, final.Filename)

	// The terminal state is sticky in the registry.
	job, ok := reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, job.Status)
}

func TestRun_TransformFailureFallsBack(t *testing.T) {
	original := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	fetcher := &fakeFetcher{path: original, ticks: downloadTicks()}
	transformer := &fakeTransformer{err: domain.NewTransformError(errors.New("ffmpeg failed: exit status 1"))}
	w, reg, hub, _ := setup(t, fetcher, transformer)

	reg.Create("job-1")
	hub.Register("job-1")
	w.run(context.Background(), "job-1", domain.DownloadRequest{
		URL:    "https://example.com/watch?v=x",
		Format: domain.FormatVideo,
	})

	snapshots := drainAll(t, hub, "job-1")
	final := snapshots[len(snapshots)-1]

	// Transform failure is non-fatal: the job still finishes with the
	// untransformed file and a warning.
	assert.Equal(t, domain.StatusFinished, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	assert.Equal(t, original, final.Filename)
	assert.Contains(t, final.ErrorWarning, "Transform failed")
	assert.Contains(t, final.ErrorWarning, "exit status 1")
	assert.FileExists(t, original)

	job, ok := reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, final, job)
}

func TestRun_NoStreamConsumerDoesNotBlock(t *testing.T) {
	original := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	// Tiny channel and nobody draining: the worker must still finish.
	reg := registry.New(testLogger())
	hub := stream.NewHub(2, testLogger())
	w := New(&Config{
		Logger:      testLogger(),
		Registry:    reg,
		Hub:         hub,
		Fetcher:     &fakeFetcher{path: original, ticks: downloadTicks()},
		Transformer: &fakeTransformer{percents: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}},
		OutputDir:   t.TempDir(),
	})

	reg.Create("job-1")
	hub.Register("job-1")

	done := make(chan struct{})
	go func() {
		w.run(context.Background(), "job-1", domain.DownloadRequest{URL: "u", Format: domain.FormatVideo})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker blocked with no stream consumer")
	}

	// The terminal snapshot survived the overflow.
	snapshots := drainAll(t, hub, "job-1")
	require.NotEmpty(t, snapshots)
	assert.Equal(t, domain.StatusFinished, snapshots[len(snapshots)-1].Status)
}

// assertStatusSequence checks the observed statuses form an in-order
// walk of starting → downloading → processing → finished|error with
// progress monotonic within each phase.
func assertStatusSequence(t *testing.T, snapshots []domain.Job) {
	t.Helper()

	order := map[domain.Status]int{
		domain.StatusStarting:    0,
		domain.StatusDownloading: 1,
		domain.StatusProcessing:  2,
		domain.StatusFinished:    3,
		domain.StatusError:       3,
	}

	prev := snapshots[0]
	for _, s := range snapshots[1:] {
		assert.GreaterOrEqual(t, order[s.Status], order[prev.Status],
			"status went backwards: %s -> %s", prev.Status, s.Status)
		if s.Status == prev.Status {
			assert.GreaterOrEqual(t, s.Progress, prev.Progress,
				"progress went backwards within %s", s.Status)
		}
		prev = s
	}
}

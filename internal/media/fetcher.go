package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/lrstanley/go-ytdlp"

	"github.com/nmkhang/grabber-be/internal/domain"
)

const (
	// AudioCodec is the fixed target codec for audio jobs.
	AudioCodec = "mp3"
	// AudioBitrate is the fixed target bitrate for audio jobs.
	AudioBitrate = "192K"

	outputTemplate   = "%(title)s.%(ext)s"
	progressInterval = 500 * time.Millisecond
)

// Fetcher retrieves media through yt-dlp. It implements the worker's
// fetch engine contract.
type Fetcher struct {
	dir    string
	logger *slog.Logger

	probeMaxElapsed   time.Duration
	probeInitialDelay time.Duration
}

// NewFetcher creates a fetcher writing into dir.
func NewFetcher(dir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		dir:               dir,
		logger:            logger,
		probeMaxElapsed:   30 * time.Second,
		probeInitialDelay: 1 * time.Second,
	}
}

// Probe fetches source metadata without downloading. Transient upstream
// failures are retried with exponential backoff.
func (f *Fetcher) Probe(ctx context.Context, url string) (domain.SourceInfo, error) {
	var info domain.SourceInfo

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = f.probeMaxElapsed
	expBackoff.InitialInterval = f.probeInitialDelay

	operation := func() error {
		extracted, err := f.probeOnce(ctx, url)
		if err != nil {
			f.logger.Warn("Source probe failed, will retry",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			return err
		}
		info = extracted
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return domain.SourceInfo{}, domain.NewUpstreamError(err)
	}
	return info, nil
}

func (f *Fetcher) probeOnce(ctx context.Context, url string) (domain.SourceInfo, error) {
	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		NoWarnings().
		NoPlaylist()

	result, err := dl.Run(ctx, url)
	if err != nil {
		return domain.SourceInfo{}, err
	}

	extracted, err := result.GetExtractedInfo()
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if len(extracted) == 0 {
		return domain.SourceInfo{}, fmt.Errorf("no metadata returned for %s", url)
	}

	first := extracted[0]
	info := domain.SourceInfo{SourceID: first.ID}
	if first.Title != nil {
		info.Title = *first.Title
	}
	if first.Thumbnail != nil {
		info.Thumbnail = *first.Thumbnail
	}
	if first.Uploader != nil {
		info.Uploader = *first.Uploader
	}
	if first.Duration != nil {
		info.Duration = formatDuration(*first.Duration)
	} else {
		info.Duration = "Unknown"
	}
	return info, nil
}

// Fetch downloads the source per the request's format and quality and
// returns the path of the produced file. onProgress receives ticks while
// bytes transfer and a single finished-phase tick before post-download
// muxing runs.
func (f *Fetcher) Fetch(ctx context.Context, req domain.DownloadRequest, onProgress func(domain.FetchProgress)) (string, error) {
	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Output(filepath.Join(f.dir, outputTemplate))

	if req.Format == domain.FormatAudio {
		dl = dl.Format("bestaudio/best").
			ExtractAudio().
			AudioFormat(AudioCodec).
			AudioQuality(AudioBitrate)
	} else {
		dl = dl.Format(videoFormatExpr(req.Quality))
	}

	var finishedSent bool
	dl = dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if onProgress == nil {
			return
		}
		switch update.Status {
		case ytdlp.ProgressStatusDownloading:
			onProgress(translateProgress(update))
		case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
			if finishedSent {
				return
			}
			finishedSent = true
			onProgress(domain.FetchProgress{Phase: domain.FetchPhaseFinished, Percent: -1})
		}
	})

	result, err := dl.Run(ctx, req.URL)
	if err != nil {
		return "", domain.NewUpstreamError(err)
	}

	path, err := resolveOutputPath(result, req.Format)
	if err != nil {
		return "", domain.NewUpstreamError(err)
	}

	f.logger.Info("Fetch complete",
		slog.String("url", req.URL),
		slog.String("path", path),
	)
	return path, nil
}

// videoFormatExpr maps a quality choice to a yt-dlp format expression.
func videoFormatExpr(q domain.Quality) string {
	switch q {
	case domain.Quality1080p:
		return "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	case domain.Quality720p:
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	default:
		return "bestvideo+bestaudio/best"
	}
}

// translateProgress converts a yt-dlp progress update into the engine's
// phase/percent/metadata shape.
func translateProgress(update ytdlp.ProgressUpdate) domain.FetchProgress {
	progress := domain.FetchProgress{
		Phase:   domain.FetchPhaseDownloading,
		Percent: -1,
	}

	total := float64(update.TotalBytes)
	downloaded := float64(update.DownloadedBytes)
	if total > 0 {
		progress.Percent = downloaded / total * 100
		progress.SizeInfo = fmt.Sprintf("%s / %s", humanBytes(downloaded), humanBytes(total))
	} else {
		progress.SizeInfo = fmt.Sprintf("%s / Unknown size", humanBytes(downloaded))
	}

	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed.Seconds() > 0 {
			progress.Speed = humanBytes(downloaded/elapsed.Seconds()) + "/s"
		}
	}

	if eta := update.ETA(); eta > 0 {
		progress.ETA = formatDuration(eta.Seconds())
	}
	return progress
}

// resolveOutputPath extracts the downloaded file path from the yt-dlp
// result. Audio extraction rewrites the container extension, so the
// transcoded sibling is preferred when it exists.
func resolveOutputPath(result *ytdlp.Result, format domain.Format) (string, error) {
	extracted, err := result.GetExtractedInfo()
	if err != nil {
		return "", fmt.Errorf("failed to read download result: %w", err)
	}
	if len(extracted) == 0 || extracted[0].Filename == nil || *extracted[0].Filename == "" {
		return "", fmt.Errorf("download produced no file")
	}

	path := *extracted[0].Filename
	if format == domain.FormatAudio {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		if audioPath := base + "." + AudioCodec; fileExists(audioPath) {
			path = audioPath
		}
	}

	if !fileExists(path) {
		return "", fmt.Errorf("downloaded file missing: %s", path)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// humanBytes renders a byte count the way yt-dlp does (KiB/MiB/GiB).
func humanBytes(n float64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2fGiB", n/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2fMiB", n/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2fKiB", n/(1<<10))
	default:
		return fmt.Sprintf("%.0fB", n)
	}
}

// formatDuration renders seconds as h:mm:ss or m:ss.
func formatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nmkhang/grabber-be/internal/domain"
)

const (
	// FFmpegCommand and FFprobeCommand are resolved from PATH.
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"

	ffprobeLogLevel     = "error"
	ffprobeShowEntries  = "format=duration"
	ffprobeOutputFormat = "csv=p=0"

	progressPipeTarget = "pipe:2"
	progressTimePrefix = "out_time_us="

	// videoFilter slightly rescales, crops and re-grades the picture.
	videoFilter = "scale=iw*1.1:ih*1.1,crop=iw/1.1:ih/1.1,eq=brightness=0.02:contrast=1.05"
	// audioFilter pitch-shifts by resampling.
	audioFilter = "asetrate=44100*1.05,aresample=44100"
)

// Transformer applies the fixed per-kind enhancement filters through
// ffmpeg. It implements the worker's transform engine contract.
type Transformer struct {
	logger     *slog.Logger
	ffmpegBin  string
	ffprobeBin string
}

// NewTransformer creates a transformer using ffmpeg/ffprobe from PATH.
func NewTransformer(logger *slog.Logger) *Transformer {
	return &Transformer{
		logger:     logger,
		ffmpegBin:  FFmpegCommand,
		ffprobeBin: FFprobeCommand,
	}
}

// ProbeDuration returns the duration of a media file in seconds.
func (t *Transformer) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobeBin,
		"-v", ffprobeLogLevel,
		"-show_entries", ffprobeShowEntries,
		"-of", ffprobeOutputFormat,
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

// Transform re-encodes inputPath into outputPath with the filter set for
// the media kind, reporting percent-complete through onPercent. When the
// source duration cannot be probed no percentage is derived and
// onPercent is never called. A partial output file is removed on
// failure.
func (t *Transformer) Transform(ctx context.Context, inputPath, outputPath string, format domain.Format, onPercent func(float64)) error {
	duration, err := t.ProbeDuration(ctx, inputPath)
	if err != nil {
		t.logger.Warn("Duration probe failed, progress disabled",
			slog.String("input", inputPath),
			slog.String("error", err.Error()),
		)
		duration = 0
	}

	args := BuildFFmpegArgs(inputPath, outputPath, format)
	cmd := exec.CommandContext(ctx, t.ffmpegBin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return domain.NewTransformError(fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return domain.NewTransformError(fmt.Errorf("failed to start ffmpeg: %w", err))
	}

	scanProgress(stderr, duration, onPercent)

	if err := cmd.Wait(); err != nil {
		if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
			t.logger.Warn("Failed to remove partial output",
				slog.String("output", outputPath),
				slog.String("error", removeErr.Error()),
			)
		}
		return domain.NewTransformError(fmt.Errorf("ffmpeg failed: %w", err))
	}
	return nil
}

// BuildFFmpegArgs builds the ffmpeg invocation for one transform.
func BuildFFmpegArgs(inputPath, outputPath string, format domain.Format) []string {
	args := []string{"-y", "-i", inputPath}
	if format == domain.FormatAudio {
		args = append(args, "-af", audioFilter)
	} else {
		args = append(args, "-vf", videoFilter)
	}
	args = append(args,
		"-progress", progressPipeTarget,
		"-nostats",
		outputPath,
	)
	return args
}

// scanProgress reads ffmpeg -progress output and reports clamped 0-100
// percentages. out_time_us is microseconds of produced output.
func scanProgress(r io.Reader, totalDuration float64, onPercent func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, progressTimePrefix) {
			continue
		}
		if totalDuration <= 0 || onPercent == nil {
			continue
		}

		micros, err := strconv.ParseInt(strings.TrimPrefix(line, progressTimePrefix), 10, 64)
		if err != nil {
			continue
		}

		percent := float64(micros) / 1e6 / totalDuration * 100
		if percent > 100 {
			percent = 100
		}
		if percent < 0 {
			percent = 0
		}
		onPercent(percent)
	}
}

// Package encoder drives ffmpeg / ffprobe to produce one HLS rendition per quality.
package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

const (
	// coarse steps used when the source duration is unknown
	coarseStart = 10.0
	coarseDone  = 100.0
)

// ProgressObserver receives 0-100 progress of one quality
type ProgressObserver interface {
	Report(percent float64)
}

// ProgressFunc adapter so plain funcs can observe progress
type ProgressFunc func(percent float64)

// Report calls f
func (f ProgressFunc) Report(percent float64) { f(percent) }

// Options definition fixed encoding parameters
type Options struct {
	FFmpegPath      string
	FFprobePath     string
	SegmentDuration int
	GOPSize         int
	AudioBitrate    int
	Preset          string
	// Timeout wall clock ceiling per quality, zero disables it
	Timeout time.Duration
}

// Request one quality encode
type Request struct {
	JobID     string
	InputPath string
	// OutputDir the quality directory, <job output>/<quality>
	OutputDir string
	Quality   domain.QualityProfile
	// Duration source seconds from Probe, zero switches to coarse progress
	Duration float64
}

// Driver Encoder Driver; it never retries, callers decide
type Driver struct {
	runner CommandRunner
	opts   Options
}

// NewDriver runner nil uses os/exec
func NewDriver(runner CommandRunner, opts Options) *Driver {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = 4
	}
	if opts.GOPSize <= 0 {
		opts.GOPSize = 48
	}
	if opts.AudioBitrate <= 0 {
		opts.AudioBitrate = 128
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	return &Driver{runner: runner, opts: opts}
}

// CheckAvailable verify the encoder binary answers
func (d *Driver) CheckAvailable(ctx context.Context) error {
	if _, err := d.runner.Output(ctx, d.opts.FFmpegPath, "-hide_banner", "-version"); err != nil {
		return fmt.Errorf("ffmpeg binary %q unavailable: %w", d.opts.FFmpegPath, err)
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe read the source resolution and duration. A missing duration is not an error.
func (d *Driver) Probe(ctx context.Context, input string) (domain.MediaInfo, error) {
	var info domain.MediaInfo

	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return info, fmt.Errorf("input file %s: %w", input, fs.ErrNotExist)
		}
		return info, fmt.Errorf("input file %s: %w", input, err)
	}

	out, err := d.runner.Output(ctx, d.opts.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		input,
	)
	if err != nil {
		return info, fmt.Errorf("ffprobe failed on input file %s: %w", input, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return info, fmt.Errorf("ffprobe output for input file %s unreadable: %w", input, err)
	}
	if len(parsed.Streams) == 0 || parsed.Streams[0].Width <= 0 || parsed.Streams[0].Height <= 0 {
		return info, fmt.Errorf("input file %s has no video stream", input)
	}
	info.Resolution = domain.Resolution{Width: parsed.Streams[0].Width, Height: parsed.Streams[0].Height}

	if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil && dur > 0 {
		info.Duration = dur
	} else {
		logger.Log.Warn("source duration unknown, progress falls back to steps",
			zap.String("input", input), zap.String("duration", parsed.Format.Duration))
	}
	return info, nil
}

// Args ffmpeg arguments for one quality
func (d *Driver) Args(req Request) []string {
	q := req.Quality
	gop := strconv.Itoa(d.opts.GOPSize)
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", req.InputPath,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=%d:%d", q.Resolution.Width, q.Resolution.Height),
		"-c:v", "libx264",
		"-preset", d.opts.Preset,
		"-profile:v", "main",
		"-b:v", fmt.Sprintf("%dk", q.Bitrate),
		"-maxrate", fmt.Sprintf("%dk", q.Bitrate*107/100),
		"-bufsize", fmt.Sprintf("%dk", q.Bitrate*3/2),
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
	}
	if q.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(q.FPS))
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", d.opts.AudioBitrate),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(d.opts.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(req.OutputDir, playlist.SegmentPattern),
		filepath.Join(req.OutputDir, playlist.MediaFileName),
	)
	return args
}

// Transcode encode one quality into req.OutputDir and return its segments in production order
func (d *Driver) Transcode(ctx context.Context, req Request, observer ProgressObserver) ([]domain.SegmentInfo, error) {
	if observer == nil {
		observer = ProgressFunc(func(float64) {})
	}
	name := req.Quality.Name

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", req.OutputDir, err)
	}

	runCtx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	args := d.Args(req)
	logger.Log.Debug("run ffmpeg", zap.String("job_id", req.JobID), zap.String("quality", name), zap.Strings("args", args))

	proc, err := d.runner.Start(runCtx, d.opts.FFmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encoder failed to start for %s: %w", name, err)
	}

	if req.Duration <= 0 {
		observer.Report(coarseStart)
	}

	scanner := NewOutputScanner(0)
	scanErr := scanner.Scan(proc.Stderr(), func(p Progress) {
		if pct, ok := Percent(p, req.Duration); ok {
			observer.Report(pct)
		}
	})
	if scanErr != nil {
		// drain so ffmpeg never blocks on a full pipe
		_, _ = io.Copy(io.Discard, proc.Stderr())
	}
	waitErr := proc.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("ffmpeg timed out after %s encoding %s: %w", d.opts.Timeout, name, context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg interrupted encoding %s: %w", name, ctx.Err())
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg encoder failed for %s: %w: %s", name, waitErr, scanner.Tail())
	}
	if scanErr != nil {
		logger.Log.Warn("ffmpeg output scan failed", zap.String("job_id", req.JobID), zap.String("quality", name), zap.Error(scanErr))
	}

	segments, err := d.collectSegments(req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encoder output for %s unusable: %v", name, err)
	}

	observer.Report(coarseDone)
	return segments, nil
}

// collectSegments read the encoder's playlist and stat every segment
func (d *Driver) collectSegments(dir string) ([]domain.SegmentInfo, error) {
	pl, err := playlist.ParseMediaFile(filepath.Join(dir, playlist.MediaFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.New("encoder playlist was not written")
	} else if err != nil {
		return nil, err
	}
	if len(pl.Segments) == 0 {
		return nil, errors.New("encoder produced no segments")
	}
	segments := pl.Segments
	for i := range segments {
		st, err := os.Stat(filepath.Join(dir, segments[i].Filename))
		if err != nil {
			return nil, fmt.Errorf("segment %s listed but not written", segments[i].Filename)
		}
		segments[i].Size = st.Size()
	}
	return segments, nil
}

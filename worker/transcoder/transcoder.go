// Package transcoder runs ffmpeg jobs in the background, one live job per
// filename, and publishes their progress into the task registry.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"videoLabeler/metrics"
	"videoLabeler/worker/pool"
	"videoLabeler/worker/registry"
)

var ErrNoOutput = errors.New("ffmpeg exited without producing output")

// DefaultArgs re-encode to all-intra H.264 so the browser can seek to any
// frame exactly.
var DefaultArgs = []string{
	"-c:v", "libx264",
	"-preset", "veryfast",
	"-crf", "18",
	"-g", "1",
	"-pix_fmt", "yuv420p",
	"-movflags", "+faststart",
	"-an",
}

// CommandFunc builds external commands; tests substitute fakes.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Reporter receives status transitions (ACTIVE and terminal) of jobs.
type Reporter interface {
	Report(ctx context.Context, status registry.TaskStatus)
}

type Config struct {
	FFmpegPath  string
	FFprobePath string
	Args        []string
}

type Transcoder struct {
	cfg      Config
	registry *registry.Registry
	pool     *pool.WorkerPool
	reporter Reporter
	logger   *zap.Logger
	command  CommandFunc
	keep     bool
}

type Option func(*Transcoder)

func WithCommand(fn CommandFunc) Option {
	return func(t *Transcoder) { t.command = fn }
}

func WithReporter(r Reporter) Option {
	return func(t *Transcoder) { t.reporter = r }
}

// WithKeepInput leaves the input in place after a successful transcode.
func WithKeepInput() Option {
	return func(t *Transcoder) { t.keep = true }
}

func New(cfg Config, reg *registry.Registry, p *pool.WorkerPool, logger *zap.Logger, opts ...Option) *Transcoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Args == nil {
		cfg.Args = DefaultArgs
	}

	t := &Transcoder{
		cfg:      cfg,
		registry: reg,
		pool:     p,
		logger:   logger,
		command:  exec.CommandContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches a transcode of input into output under key, or attaches to
// the job already live for key. created reports whether a new job was
// submitted.
func (t *Transcoder) Start(key, input, output string) (job *registry.Job, created bool) {
	job, created, _ = t.StartIf(key, input, output, nil)
	return job, created
}

// StartIf is Start with a precondition evaluated atomically with job
// registration, see registry.BeginIf. An error from check means nothing was
// started.
func (t *Transcoder) StartIf(key, input, output string, check func(*registry.TaskStatus) error) (job *registry.Job, created bool, err error) {
	job, created, err = t.registry.BeginIf(key, check)
	if err != nil || !created {
		return job, false, err
	}

	metrics.TranscodeJobs.WithLabelValues("started").Inc()
	metrics.ActiveTranscodes.Inc()
	started := time.Now()

	t.logger.Info("Transcode queued",
		zap.String("filename", key),
		zap.String("input", input),
		zap.String("output", output),
	)

	// Jobs are not cancellable: they outlive the request that started them.
	ctx := context.Background()
	var src os.FileInfo
	t.pool.Submit(ctx, func(ctx context.Context) error {
		src, _ = os.Stat(input)
		return t.run(ctx, job, input, output)
	}, func(err error) {
		t.finish(ctx, job, input, src, err, time.Since(started))
	})

	return job, true, nil
}

func (t *Transcoder) run(ctx context.Context, job *registry.Job, input, output string) error {
	total := t.probeTotalFrames(ctx, input)
	st := t.registry.Update(job.Key, func(st *registry.TaskStatus) {
		st.TranscodeStatus = registry.TranscodeActive
		st.TotalFrames = total
	})
	t.report(ctx, st)

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp := tempOutputPath(output)
	defer os.Remove(tmp)

	args := append([]string{"-i", input}, t.cfg.Args...)
	args = append(args, "-y", tmp)
	cmd := t.command(ctx, t.cfg.FFmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("spawn ffmpeg: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn ffmpeg: %w", err)
	}

	parser := NewProgressParser()
	streamErr := parser.Stream(stderr, func(frame int) {
		t.registry.Update(job.Key, func(st *registry.TaskStatus) {
			st.FramesDone = registry.IntPtr(frame)
		})
	})

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("ffmpeg failed with code %d: %s", exitErr.ExitCode(), parser.LastLine())
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	if streamErr != nil {
		t.logger.Warn("Reading ffmpeg output failed",
			zap.String("filename", job.Key),
			zap.Error(streamErr),
		)
	}

	if _, err := os.Stat(tmp); err != nil {
		return ErrNoOutput
	}
	if err := os.Rename(tmp, output); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}

	if frames, ok := parser.Frames(); ok {
		t.registry.Update(job.Key, func(st *registry.TaskStatus) {
			st.FramesDone = registry.IntPtr(frames)
		})
	}
	return nil
}

// finish records the terminal status. The input is only removed on success
// so a failed upload can be retried or inspected.
func (t *Transcoder) finish(ctx context.Context, job *registry.Job, input string, src os.FileInfo, runErr error, elapsed time.Duration) {
	metrics.ActiveTranscodes.Dec()
	metrics.TranscodeDuration.Observe(elapsed.Seconds())

	if runErr == nil && !t.keep {
		t.removeInput(input, src)
	}

	st := t.registry.Finish(job, func(st *registry.TaskStatus) {
		if runErr != nil {
			st.TranscodeStatus = registry.TranscodeError
			st.Error = registry.StringPtr(runErr.Error())
			return
		}
		st.TranscodeStatus = registry.TranscodeDone
		st.Error = nil
	})

	if runErr != nil {
		metrics.TranscodeJobs.WithLabelValues("error").Inc()
		t.logger.Error("Transcode failed",
			zap.String("filename", job.Key),
			zap.Duration("elapsed", elapsed),
			zap.Error(runErr),
		)
	} else {
		metrics.TranscodeJobs.WithLabelValues("done").Inc()
		t.logger.Info("Transcode completed",
			zap.String("filename", job.Key),
			zap.Intp("frames", st.FramesDone),
			zap.Duration("elapsed", elapsed),
		)
	}

	t.report(ctx, st)
}

// removeInput deletes the transcoded upload unless it was replaced while
// the job ran.
func (t *Transcoder) removeInput(input string, src os.FileInfo) {
	cur, err := os.Stat(input)
	if err != nil {
		return
	}
	if src == nil || !os.SameFile(src, cur) {
		t.logger.Info("Upload replaced during transcode, keeping it",
			zap.String("path", input),
		)
		return
	}
	if err := os.Remove(input); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("Failed to remove transcoded upload",
			zap.String("path", input),
			zap.Error(err),
		)
	}
}

// report hands st to the reporter. A panicking reporter is logged and never
// takes the job down with it.
func (t *Transcoder) report(ctx context.Context, st registry.TaskStatus) {
	if t.reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Status reporter panicked",
				zap.String("filename", st.Filename),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	t.reporter.Report(ctx, st)
}

// tempOutputPath returns a hidden sibling of output that keeps its extension,
// since ffmpeg picks the container from it.
func tempOutputPath(output string) string {
	dir, name := filepath.Split(output)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, "."+stem+".part-"+uuid.NewString()+ext)
}

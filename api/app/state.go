// Package app wires the process-scoped state of the server: the task
// registry, the transcode pool, the label editor and the optional status
// sinks. One State is created in main and injected everywhere else.
package app

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"videoLabeler/api/config"
	"videoLabeler/api/dto"
	"videoLabeler/api/project"
	"videoLabeler/api/service"
	"videoLabeler/storage/labels"
	"videoLabeler/storage/sidecar"
	"videoLabeler/worker/cache"
	"videoLabeler/worker/housekeeping"
	"videoLabeler/worker/kafka"
	"videoLabeler/worker/pool"
	"videoLabeler/worker/registry"
	"videoLabeler/worker/repository"
	wservice "videoLabeler/worker/service"
	"videoLabeler/worker/transcoder"
)

type State struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *registry.Registry
	Pool       *pool.WorkerPool
	Transcoder *transcoder.Transcoder
	Editor     *labels.Editor
	Projects   *project.Registry
	Videos     *service.VideoService
	Labels     *service.LabelService

	cache    *cache.StatusCache
	repo     *repository.PostgresRepo
	producer kafka.Producer
}

type Option func(*stateOptions)

type stateOptions struct {
	transcoderOpts []transcoder.Option
}

// WithTranscoderOptions passes extra options to the transcoder, e.g. a fake
// command runner in tests.
func WithTranscoderOptions(opts ...transcoder.Option) Option {
	return func(o *stateOptions) { o.transcoderOpts = append(o.transcoderOpts, opts...) }
}

// New builds the state. Sinks that are configured but unreachable are
// logged and left disabled.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) *State {
	var o stateOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &State{
		Config:   cfg,
		Logger:   logger,
		Registry: registry.New(),
		Pool: pool.NewWorkerPool(cfg.Worker.TranscodeWorkers, pool.WithPanicHandler(func(pe *pool.PanicError) {
			logger.Error("Transcode completion panicked",
				zap.Any("panic", pe.Value),
				zap.ByteString("stack", pe.Stack),
			)
		})),
		Editor:   labels.NewEditor(logger.Named("labels")),
		Projects: project.NewRegistry(cfg.ProjectsFile),
	}

	tOpts := o.transcoderOpts
	if reporter := s.connectSinks(ctx); reporter != nil {
		tOpts = append([]transcoder.Option{transcoder.WithReporter(reporter)}, tOpts...)
	}

	s.Transcoder = transcoder.New(transcoder.Config{
		FFmpegPath:  cfg.Worker.FFmpegPath,
		FFprobePath: cfg.Worker.FFprobePath,
	}, s.Registry, s.Pool, logger.Named("transcoder"), tOpts...)

	stream := service.NewProgressStream(s.Registry, cfg.Worker.PollInterval)
	s.Videos = service.NewVideoService(s.Projects, s.Registry, s.Transcoder, stream, cfg.UploadsDir, logger.Named("videos"))
	s.Labels = service.NewLabelService(s.Projects, s.Editor, logger.Named("labels"))
	return s
}

func (s *State) connectSinks(ctx context.Context) transcoder.Reporter {
	wc := s.Config.Worker

	var recorder wservice.StatusRecorder
	var setter wservice.StatusSetter
	var sender wservice.EventSender

	if wc.DatabaseURL != "" {
		repo, err := repository.Connect(ctx, wc.DatabaseURL)
		if err == nil {
			err = repo.EnsureSchema(ctx)
			if err != nil {
				repo.Close()
			}
		}
		if err != nil {
			s.Logger.Warn("Postgres history disabled", zap.Error(err))
		} else {
			s.repo, recorder = repo, repo
		}
	}

	if wc.RedisAddr != "" {
		c, err := cache.Connect(ctx, wc.RedisAddr, wc.StatusTTL)
		if err != nil {
			s.Logger.Warn("Redis status mirror disabled", zap.Error(err))
		} else {
			s.cache, setter = c, c
		}
	}

	if len(wc.KafkaBrokers) > 0 {
		p, err := kafka.NewProducer(wc.KafkaBrokers, wc.KafkaTopic)
		if err != nil {
			s.Logger.Warn("Kafka events disabled", zap.Error(err))
		} else {
			s.producer, sender = p, p
		}
	}

	if recorder == nil && setter == nil && sender == nil {
		return nil
	}
	return wservice.NewProcessor(recorder, setter, sender, wc.SinkTimeout, s.Logger.Named("sinks"))
}

// Startup runs the one-off maintenance tasks: stale uploads are swept and
// legacy sidecars of every registered project are migrated. Failures are
// logged and never prevent the server from starting.
func (s *State) Startup() {
	housekeeping.NewSweeper(s.Config.UploadsDir, s.Config.Worker.UploadRetention, s.Logger.Named("housekeeping")).Sweep()

	projects, err := s.Projects.All()
	if err != nil {
		s.Logger.Warn("Some projects could not be loaded", zap.Error(err))
	}
	for _, p := range projects {
		n, err := sidecar.MigrateLegacy(p.DataDir, s.Logger.Named("migrate"))
		if err != nil {
			s.Logger.Error("Legacy sidecar migration incomplete",
				zap.String("project", p.Key),
				zap.Error(err),
			)
		}
		if n > 0 {
			s.Logger.Info("Migrated legacy sidecars",
				zap.String("project", p.Key),
				zap.Int("count", n),
			)
		}
	}
}

func (s *State) Health(ctx context.Context) dto.HealthResponse {
	statuses, active := s.Registry.Len()
	resp := dto.HealthResponse{
		Status:     "ok",
		Statuses:   statuses,
		ActiveJobs: active,
		Workers:    s.Pool.Capacity(),
		Sinks:      map[string]string{},
		System:     systemStats(ctx),
	}

	if s.cache != nil {
		resp.Sinks["redis"] = pingResult(s.cache.Ping(ctx))
	}
	if s.repo != nil {
		resp.Sinks["postgres"] = pingResult(s.repo.Ping(ctx))
	}
	if s.producer != nil {
		resp.Sinks["kafka"] = "configured"
	}
	return resp
}

// systemStats reports host load; ffmpeg jobs are the main memory consumer.
func systemStats(ctx context.Context) dto.SystemStats {
	stats := dto.SystemStats{
		NumGoroutine: runtime.NumGoroutine(),
		CPUCores:     runtime.NumCPU(),
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		stats.CPUCores = n
	}
	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil && vMem != nil {
		stats.TotalRAM = vMem.Total
		stats.AvailableRAM = vMem.Available
		stats.UsedRAMPercent = vMem.UsedPercent
	}
	return stats
}

func pingResult(err error) string {
	if err != nil {
		return "unreachable"
	}
	return "ok"
}

// Shutdown waits for running transcodes until ctx ends, then closes the
// sinks. Jobs still running at the deadline are abandoned.
func (s *State) Shutdown(ctx context.Context) error {
	waitErr := s.Pool.WaitContext(ctx)
	if waitErr != nil {
		_, active := s.Registry.Len()
		s.Logger.Warn("Transcodes still running at shutdown", zap.Int("active", active))
	}

	if s.cache != nil {
		s.cache.Close()
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.Logger.Warn("Failed to close kafka producer", zap.Error(err))
		}
	}
	if s.repo != nil {
		s.repo.Close()
	}

	if waitErr != nil {
		return fmt.Errorf("wait for transcodes: %w", waitErr)
	}
	return nil
}

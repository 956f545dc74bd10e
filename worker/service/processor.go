// Package service fans transcode status transitions out to the optional
// history sinks. Sink failures are logged and never affect the job.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"videoLabeler/worker/kafka"
	"videoLabeler/worker/registry"
)

type StatusSetter interface {
	Set(ctx context.Context, st registry.TaskStatus) error
}

type StatusRecorder interface {
	RecordStatus(ctx context.Context, st registry.TaskStatus) error
}

type EventSender interface {
	SendTranscodeEvent(ctx context.Context, event *kafka.TranscodeEvent) error
}

// Processor implements transcoder.Reporter. Any sink may be nil.
type Processor struct {
	repo     StatusRecorder
	cache    StatusSetter
	producer EventSender
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewProcessor(repo StatusRecorder, cache StatusSetter, producer EventSender, timeout time.Duration, logger *zap.Logger) *Processor {
	return &Processor{
		repo:     repo,
		cache:    cache,
		producer: producer,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Report mirrors st to every configured sink. Only terminal statuses are
// published as events.
func (p *Processor) Report(ctx context.Context, st registry.TaskStatus) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.repo != nil {
		if err := p.repo.RecordStatus(ctx, st); err != nil {
			p.sinkFailed("postgres", st, err)
		}
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, st); err != nil {
			p.sinkFailed("redis", st, err)
		}
	}
	if p.producer != nil && st.TranscodeStatus.Terminal() {
		if err := p.producer.SendTranscodeEvent(ctx, kafka.NewTranscodeEvent(st, p.now())); err != nil {
			p.sinkFailed("kafka", st, err)
		}
	}
}

func (p *Processor) sinkFailed(sink string, st registry.TaskStatus, err error) {
	p.logger.Warn("Status sink failed",
		zap.String("sink", sink),
		zap.String("filename", st.Filename),
		zap.String("status", string(st.TranscodeStatus)),
		zap.Error(err),
	)
}

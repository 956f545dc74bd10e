package service

import (
	"context"
	"time"

	"videoLabeler/metrics"
	"videoLabeler/worker/registry"
)

// ProgressStream polls the registry and forwards snapshots to one client.
// Every attached client runs its own loop over the shared status.
type ProgressStream struct {
	registry *registry.Registry
	interval time.Duration
}

func NewProgressStream(reg *registry.Registry, interval time.Duration) *ProgressStream {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &ProgressStream{registry: reg, interval: interval}
}

// Run emits the current status immediately and then once per interval. It
// returns after emitting a terminal status, when emit fails or when ctx is
// done; none of these affect the job itself.
func (p *ProgressStream) Run(ctx context.Context, key string, emit func(registry.TaskStatus) error) error {
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		st := p.registry.GetOrCreate(key)
		if err := emit(st); err != nil {
			return err
		}
		if st.TranscodeStatus.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Refresher is anything that can re-fetch its data from the backend.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) Refresh(ctx context.Context) error { return f(ctx) }

// Poller refreshes on a fixed interval while started. Start and Stop are
// idempotent.
type Poller struct {
	target   Refresher
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(target Refresher, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		target:   target,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	pollingActive.Set(1)
	p.logger.Info().Dur("interval", p.interval).Msg("list polling started")
	go p.loop(ctx, p.done)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	pollingActive.Set(0)
	p.logger.Info().Msg("list polling stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.target.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("periodic refresh failed")
			}
		}
	}
}

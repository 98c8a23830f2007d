package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ordersync/internal/connection"
	"github.com/rickgao/ordersync/internal/metrics"
)

// Target is a cache whose partitions can be refreshed.
type Target interface {
	Vendors() []string
	Refresh(ctx context.Context, vendorID string) error
}

// Link reports realtime channel state.
type Link interface {
	State() connection.State
	OnStateChange(fn func(connection.State)) (cancel func())
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval while disconnected (default: 30s)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats counts refresh work.
type Stats struct {
	Cycles    int64
	Refreshed int64
	Errors    int64
}

// Poller refreshes cached partitions when push events cannot be relied on.
type Poller struct {
	cfg     Config
	link    Link
	targets map[string]Target
	logger  *slog.Logger

	kick      chan struct{}
	unwatch   func()
	cycles    atomic.Int64
	refreshed atomic.Int64
	errors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller. targets is keyed by a name used in logs and metrics.
func New(cfg Config, link Link, targets map[string]Target, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		cfg:     cfg,
		link:    link,
		targets: targets,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.unwatch = p.link.OnStateChange(func(s connection.State) {
		if s == connection.StateConnected {
			p.Trigger()
		}
	})

	p.wg.Add(1)
	go p.run()

	p.logger.Info("degraded-mode poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.unwatch != nil {
		p.unwatch()
	}
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("degraded-mode poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a full refresh regardless of channel state.
func (p *Poller) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stats returns refresh counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Refreshed: p.refreshed.Load(),
		Errors:    p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.kick:
			p.pollAll("reconnect")
		case <-ticker.C:
			if p.link.State() == connection.StateConnected {
				continue
			}
			p.pollAll("degraded")
		}
	}
}

// pollAll refreshes every cached partition of every target concurrently.
func (p *Poller) pollAll(reason string) {
	start := time.Now()
	p.cycles.Add(1)

	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.cfg.Concurrency)

	var refreshed, failed atomic.Int64
	partitions := 0

	for name, target := range p.targets {
		for _, key := range target.Vendors() {
			partitions++
			g.Go(func() error {
				if err := p.refresh(ctx, target, key); err != nil {
					p.logger.Warn("failed to refresh partition",
						"source", name,
						"key", key,
						"err", err,
					)
					failed.Add(1)
					metrics.PollerRefreshes.WithLabelValues(name, "error").Inc()
					return nil
				}
				refreshed.Add(1)
				metrics.PollerRefreshes.WithLabelValues(name, "ok").Inc()
				return nil
			})
		}
	}

	g.Wait()

	p.refreshed.Add(refreshed.Load())
	p.errors.Add(failed.Load())

	if partitions == 0 {
		p.logger.Debug("no cached partitions to refresh", "reason", reason)
		return
	}
	p.logger.Info("refresh cycle complete",
		"reason", reason,
		"partitions", partitions,
		"refreshed", refreshed.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// refresh re-fetches a single partition.
func (p *Poller) refresh(ctx context.Context, target Target, key string) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return target.Refresh(ctx, key)
}

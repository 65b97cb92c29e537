package lbclient

import (
	"context"
	"errors"
	"time"

	"github.com/little-brother/lbclient/models"
)

// StatusSnapshot is one poll result. On failure Err is set and Statuses is
// nil.
type StatusSnapshot struct {
	Statuses    []*models.UserStatus
	HasDowntime bool
	FetchedAt   time.Time
	Err         error
}

// Poller reloads the user status on the interval the server publishes.
type Poller struct {
	client   *Client
	deliver  func(StatusSnapshot)
	interval time.Duration
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval fixes the interval instead of asking /control.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// NewPoller returns a poller handing every snapshot to deliver. deliver runs
// on the polling goroutine; the next poll starts after it returns.
func (c *Client) NewPoller(deliver func(StatusSnapshot), opts ...PollerOption) *Poller {
	p := &Poller{
		client:  c,
		deliver: deliver,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is done. The first poll happens immediately. Polls
// never overlap: a slow poll delays the next one instead of stacking.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.ready(); err != nil {
		return err
	}
	if p.deliver == nil {
		return errors.New("poller has no delivery function")
	}

	p.poll(ctx)
	interval := p.resolveInterval(ctx)
	p.client.logger.Debug("lbclient: polling status", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// resolveInterval asks /control for the refresh interval, falling back to
// the configured one, and never goes below Poll.MinInterval.
func (p *Poller) resolveInterval(ctx context.Context) time.Duration {
	cfg := p.client.cfg.Poll
	interval := p.interval

	if interval <= 0 {
		interval = cfg.Interval
		control, err := p.client.Control(ctx)
		switch {
		case err != nil:
			p.client.logger.Warn("lbclient: loading control failed, using configured poll interval", "error", err)
		case control.RefreshIntervalInMilliseconds > 0:
			interval = time.Duration(control.RefreshIntervalInMilliseconds) * time.Millisecond
		}
	}

	if interval < cfg.MinInterval {
		interval = cfg.MinInterval
	}
	return interval
}

func (p *Poller) poll(ctx context.Context) {
	p.client.metrics.Inc(MetricPollTick)

	statuses, err := p.client.UserStatus(ctx)
	snap := StatusSnapshot{FetchedAt: time.Now()}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.client.metrics.Inc(MetricPollFailure)
		p.client.logger.Debug("lbclient: status poll failed", "error", err)
		snap.Err = err
		p.deliver(snap)
		return
	}

	models.SortByFullName(statuses)
	snap.Statuses = statuses
	snap.HasDowntime = models.AnyDowntime(statuses)
	p.deliver(snap)
}

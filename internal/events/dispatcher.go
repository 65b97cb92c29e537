package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// NavigateFunc sends the user to the login view.
type NavigateFunc func(ctx context.Context, reason error)

// Config controls the two delivery lanes of a Dispatcher.
type Config struct {
	// Enabled turns on the event lane.
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit lossy instead of blocking when the buffer is full.
	DropIfFull bool

	// Navigate receives login requests. Nil turns the login lane off.
	Navigate NavigateFunc
}

// Dispatcher relays client events to a Sink and login requests to a
// NavigateFunc. Each lane has its own goroutine, so a slow sink never delays
// a navigation and a slow navigator never delays an event. A nil *Dispatcher
// is valid and drops everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	queue      chan Event

	navigate NavigateFunc
	loginMu  sync.Mutex
	logins   []error
	wake     chan struct{}
	inFlight sync.WaitGroup

	stop      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	navigations atomic.Uint64
}

// NewDispatcher starts one goroutine per enabled lane. It returns nil when
// both lanes are off.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled && cfg.Navigate == nil {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		navigate:   cfg.Navigate,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	if cfg.Enabled {
		d.queue = make(chan Event, max(cfg.BufferSize, 1))
		d.wg.Add(1)
		go d.runEvents()
	}
	if d.navigate != nil {
		d.wg.Add(1)
		go d.runLogins()
	}
	return d
}

/* ==== EVENT LANE ==== */

func (d *Dispatcher) runEvents() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event. With DropIfFull it never blocks; otherwise it waits
// for buffer space until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.queue == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

/* ==== LOGIN LANE ==== */

// RequestLogin hands reason to the navigator and returns immediately.
// Requests are never dropped and reach the navigator in order.
func (d *Dispatcher) RequestLogin(reason error) {
	if d == nil || d.navigate == nil {
		return
	}

	d.loginMu.Lock()
	// Close flips closed under loginMu, so nothing is queued after the
	// final drain.
	if d.closed.Load() {
		d.loginMu.Unlock()
		return
	}
	d.inFlight.Add(1)
	d.logins = append(d.logins, reason)
	d.loginMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runLogins() {
	defer d.wg.Done()

	for {
		select {
		case <-d.wake:
			d.navigatePending()
		case <-d.stop:
			d.navigatePending()
			return
		}
	}
}

func (d *Dispatcher) navigatePending() {
	for {
		d.loginMu.Lock()
		if len(d.logins) == 0 {
			d.loginMu.Unlock()
			return
		}
		reason := d.logins[0]
		d.logins = d.logins[1:]
		d.loginMu.Unlock()

		d.navigate(context.Background(), reason)
		d.navigations.Add(1)
		d.inFlight.Done()
	}
}

// WaitLogins blocks until every login request made so far has been handed
// to the navigator and the navigator has returned.
func (d *Dispatcher) WaitLogins() {
	if d == nil {
		return
	}
	d.inFlight.Wait()
}

// Close delivers what both lanes still hold and stops the dispatcher. It is
// idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.loginMu.Lock()
		d.closed.Store(true)
		d.loginMu.Unlock()
		close(d.stop)
		d.wg.Wait()
	})
}

/* ==== COUNTERS ==== */

// Dropped counts events lost to a full buffer or a cancelled context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Navigations counts login requests the navigator has completed.
func (d *Dispatcher) Navigations() uint64 {
	if d == nil {
		return 0
	}
	return d.navigations.Load()
}

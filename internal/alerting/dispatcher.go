package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DispatcherOptions tune delivery.
type DispatcherOptions struct {
	Buffer  int
	Timeout time.Duration
	// Types restricts delivery to the listed event types. Empty means all.
	Types []EventType
}

// Dispatcher fans events out to notifiers on a background goroutine. Publish
// never blocks: when the buffer is full the event is dropped.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	types     map[EventType]struct{}
	logger    zerolog.Logger

	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
	started atomic.Bool
	done    chan struct{}
}

// NewDispatcher builds a dispatcher. Call Start before publishing.
func NewDispatcher(opts DispatcherOptions, logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	var types map[EventType]struct{}
	if len(opts.Types) > 0 {
		types = make(map[EventType]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			types[t] = struct{}{}
		}
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   opts.Timeout,
		types:     types,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		ch:        make(chan Event, opts.Buffer),
		done:      make(chan struct{}),
	}
}

// Start delivers queued events until Close is called or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-d.ch:
				if !ok {
					return
				}
				d.deliver(ctx, ev)
			}
		}
	}()
}

// Publish queues ev for delivery.
func (d *Dispatcher) Publish(ev Event) {
	if d.types != nil {
		if _, ok := d.types[ev.Type]; !ok {
			return
		}
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.notifiers) == 0 {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn().Str("event", string(ev.Type)).Msg("notification buffer full, event dropped")
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	if d.started.Load() {
		<-d.done
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, n := range d.notifiers {
		n := n
		g.Go(func() error {
			if err := n.Notify(ctx, ev); err != nil {
				d.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("notification delivery failed")
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

var _ Publisher = (*Dispatcher)(nil)

package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Observer consumes events. Implementations are called from a single
// goroutine per subscription, one event at a time.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// OnEvent calls f(ctx, ev).
func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(context.Context, Event) {})

// Dispatcher fans events out to named subscribers. Each subscriber has
// its own unbounded FIFO queue drained by a dedicated goroutine, so a
// slow consumer never blocks the producer and every consumer sees events
// in emission order.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    []*subscription
	started bool
	stopped bool
	ctx     context.Context
	wg      sync.WaitGroup
}

type subscription struct {
	name     string
	observer Observer

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers an observer under a name used for logging.
// Subscribers added after Start begin receiving events immediately.
func (d *Dispatcher) Subscribe(name string, obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := &subscription{
		name:     name,
		observer: obs,
		wake:     make(chan struct{}, 1),
	}
	d.subs = append(d.subs, sub)
	if d.started && !d.stopped {
		d.spawn(sub)
	}

	log.Debug().
		Str("subscriber", name).
		Msg("subscribed to events")
}

// Start launches one delivery goroutine per subscriber. ctx is passed to
// observers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.ctx = ctx
	for _, sub := range d.subs {
		d.spawn(sub)
	}
}

func (d *Dispatcher) spawn(sub *subscription) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sub.run(d.ctx)
	}()
}

// OnEvent queues ev for every subscriber. It never blocks on a consumer.
func (d *Dispatcher) OnEvent(_ context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return
	}

	log.Trace().
		Str("event", string(ev.Kind())).
		Int("subscribers", len(d.subs)).
		Msg("dispatching event")

	for _, sub := range d.subs {
		sub.push(ev)
	}
}

// Stop stops accepting events, lets every subscriber drain what is
// already queued and waits for the delivery goroutines to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, sub := range d.subs {
		sub.close()
	}
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Msg("event dispatcher stopped")
}

// SubscriberCount returns the number of registered subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run(ctx context.Context) {
	for range s.wake {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			s.deliver(ctx, ev)
		}
		if closed {
			return
		}
	}
}

func (s *subscription) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(ev.Kind())).
				Str("subscriber", s.name).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()

	s.observer.OnEvent(ctx, ev)
}

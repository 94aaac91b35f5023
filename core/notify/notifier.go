// Package notify fans committed ledger events out to observers. Delivery runs
// on a dedicated goroutine fed by an unbounded queue, so observers never run
// inside a mutation and a slow observer cannot stall the engine.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"drivechain/core/events"
	"drivechain/observability/metrics"
)

// Notification is a committed event together with its change feed position.
type Notification struct {
	Sequence uint64
	Time     time.Time
	Event    events.Event
}

// Observer consumes notifications. Returned errors are logged and dropped.
type Observer interface {
	Observe(ctx context.Context, n Notification) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, n Notification) error

func (f ObserverFunc) Observe(ctx context.Context, n Notification) error { return f(ctx, n) }

// Subscription ties an observer's registration to an explicit scope.
type Subscription struct {
	id       uint64
	name     string
	notifier *Notifier
	once     sync.Once
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.notifier.remove(s.id) })
}

type subscriber struct {
	name     string
	observer Observer
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger used for observer failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics records observer failures.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithObserverTimeout bounds each Observe call's context. Zero disables it.
func WithObserverTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// Notifier is the subscription registry plus the delivery worker.
type Notifier struct {
	logger  *slog.Logger
	metrics *metrics.LedgerMetrics
	timeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Notification
	subs    map[uint64]subscriber
	nextID  uint64
	closed  bool
	pending int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a notifier. Close must be called to stop its worker.
func New(opts ...Option) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		logger: slog.Default(),
		subs:   make(map[uint64]subscriber),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	go n.run()
	return n
}

// Subscribe registers observer under name (used in logs and metrics).
func (n *Notifier) Subscribe(name string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.subs[id] = subscriber{name: name, observer: observer}
	return &Subscription{id: id, name: name, notifier: n}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Subscribers reports the number of registered observers.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Publish enqueues notifications for delivery and returns immediately.
// Publishing after Close is a no-op.
func (n *Notifier) Publish(notes ...Notification) {
	if len(notes) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, notes...)
	n.pending += len(notes)
	n.cond.Broadcast()
}

// Flush blocks until every notification published so far has been delivered.
func (n *Notifier) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.pending > 0 && !n.closed {
		n.cond.Wait()
	}
}

// Close delivers the remaining queue, then stops the worker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
	n.cancel()
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 && n.closed {
			n.mu.Unlock()
			return
		}
		note := n.queue[0]
		n.queue[0] = Notification{}
		n.queue = n.queue[1:]
		subs := make([]subscriber, 0, len(n.subs))
		for _, s := range n.subs {
			subs = append(subs, s)
		}
		n.mu.Unlock()

		for _, s := range subs {
			n.deliver(s, note)
		}

		n.mu.Lock()
		n.pending--
		if n.pending == 0 {
			n.cond.Broadcast()
		}
		n.mu.Unlock()
	}
}

func (n *Notifier) deliver(s subscriber, note Notification) {
	ctx := n.ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			n.metrics.ObserveObserverError(s.name)
			n.logger.Error("observer panicked",
				slog.String("observer", s.name),
				slog.Uint64("sequence", note.Sequence),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	if err := s.observer.Observe(ctx, note); err != nil {
		n.metrics.ObserveObserverError(s.name)
		n.logger.Warn("observer failed",
			slog.String("observer", s.name),
			slog.Uint64("sequence", note.Sequence),
			slog.String("event", eventType(note.Event)),
			slog.Any("error", err))
	}
}

func eventType(e events.Event) string {
	if e == nil {
		return ""
	}
	return e.EventType()
}

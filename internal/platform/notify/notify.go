// Package notify provides in-process, post-commit event dispatch. Domain
// services publish events after their transactional core commits; sinks
// (webhook senders, mailers, dashboards) subscribe out of band. Delivery
// is fire-and-forget: a slow or failing sink never blocks or rolls back
// the state change that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the core.
const (
	EventBillGenerated   = "bill.generated"
	EventBedReleased     = "bed.released"
	EventBedAllocated    = "bed.allocated"
	EventEpisodeAdmitted = "episode.admitted"
	EventClaimSubmitted  = "claim.submitted"
	EventClaimResolved   = "claim.resolved"
)

// Event is a record of something that already happened. The payload holds
// entity identifiers only; consumers re-query for current state.
type Event struct {
	Type      string            `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink consumes dispatched events.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }

// Dispatcher fans events out to registered sinks asynchronously.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Events with no registered sinks are
// still logged.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds a sink. Safe to call concurrently with Publish.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Publish dispatches the event to every sink in its own goroutine and
// returns immediately.
func (d *Dispatcher) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	d.logger.Debug().
		Str("event", ev.Type).
		Interface("payload", ev.Payload).
		Msg("event published")

	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		s := s
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().
						Str("event", ev.Type).
						Interface("panic", r).
						Msg("event sink panicked")
				}
			}()
			s.Deliver(ev)
		}()
	}
}

// Wait blocks until all in-flight deliveries finish. Used in tests and
// during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type queueKey struct{}

// Queue holds events back until the operation that produced them is
// known to have committed. Dropping a queue without flushing drops the
// events, which is exactly what a rolled-back operation wants.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// Deferred returns a context carrying a fresh Queue. Emit calls under
// that context enqueue instead of dispatching.
func Deferred(ctx context.Context) (context.Context, *Queue) {
	q := &Queue{}
	return context.WithValue(ctx, queueKey{}, q), q
}

// Emit dispatches ev through d, unless ctx carries a Queue from
// Deferred, in which case the event is held for a later Flush.
func Emit(ctx context.Context, d *Dispatcher, ev Event) {
	if q, ok := ctx.Value(queueKey{}).(*Queue); ok {
		q.mu.Lock()
		q.events = append(q.events, ev)
		q.mu.Unlock()
		return
	}
	if d != nil {
		d.Publish(ev)
	}
}

// Flush dispatches every held event through d, in the order they were
// emitted, and empties the queue.
func (q *Queue) Flush(d *Dispatcher) {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()

	if d == nil {
		return
	}
	for _, ev := range events {
		d.Publish(ev)
	}
}

package event

import (
	"context"
	"sync"
)

// Sink is the narrow persistence seam the bus offers every event to. Calls
// must never panic into the hot path; Bus recovers from Save panics
// defensively and treats them as faults too.
type Sink interface {
	SaveEvent(ctx context.Context, e Event) error
}

// FaultReporter receives telemetry about swallowed Sink failures:
// infrastructure faults are swallowed rather than propagated to the
// publisher, but still reported for observability.
type FaultReporter func(traceID string, err error)

const defaultRetainedTail = 256

// Bus is the per-process Event Bus. A single Bus instance multiplexes many
// traces; each trace has its own monotone seq counter and subscriber set.
// The planner task is the single writer per trace; Bus itself is safe for
// concurrent use across traces and for concurrent Subscribe calls.
type Bus struct {
	mu      sync.Mutex
	traces  map[string]*traceLog
	sink    Sink
	onFault FaultReporter
	tailCap int
}

// Option configures a Bus.
type Option func(*Bus)

// WithSink attaches a best-effort persistence sink.
func WithSink(sink Sink) Option { return func(b *Bus) { b.sink = sink } }

// WithFaultReporter attaches a telemetry callback for swallowed sink errors.
func WithFaultReporter(fn FaultReporter) Option { return func(b *Bus) { b.onFault = fn } }

// WithRetainedTail overrides the default retained-event count per trace
// used to serve late subscribers' since_seq replay.
func WithRetainedTail(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.tailCap = n
		}
	}
}

// NewBus constructs an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{traces: make(map[string]*traceLog), tailCap: defaultRetainedTail}
	for _, o := range opts {
		o(b)
	}
	return b
}

type traceLog struct {
	mu          sync.Mutex
	seq         uint64
	tail        []Event
	tailCap     int
	subscribers map[*Subscriber]struct{}
}

func (b *Bus) traceLogFor(traceID string) *traceLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	tl, ok := b.traces[traceID]
	if !ok {
		tl = &traceLog{tailCap: b.tailCap, subscribers: make(map[*Subscriber]struct{})}
		b.traces[traceID] = tl
	}
	return tl
}

// Publish appends a new event to traceID's log, assigns it the next
// sequence number and a unique event id, fans it out to subscribers, and
// offers it to the Sink. Publish blocks only on subscribers for
// "preserved" kinds; lossy kinds are dropped per-subscriber rather than
// block.
func (b *Bus) Publish(ctx context.Context, traceID string, kind Kind, node string, payload any) Event {
	tl := b.traceLogFor(traceID)

	tl.mu.Lock()
	ev := Event{
		EventID: newEventID(),
		Seq:     tl.seq,
		TraceID: traceID,
		Kind:    kind,
		Node:    node,
		Payload: payload,
	}
	ev.Ts = nowFunc()
	tl.seq++
	tl.tail = append(tl.tail, ev)
	if len(tl.tail) > tl.tailCap {
		tl.tail = tl.tail[len(tl.tail)-tl.tailCap:]
	}
	subs := make([]*Subscriber, 0, len(tl.subscribers))
	for s := range tl.subscribers {
		subs = append(subs, s)
	}
	tl.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}

	b.offerToSink(ctx, ev)
	return ev
}

func (b *Bus) offerToSink(ctx context.Context, ev Event) {
	if b.sink == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil && b.onFault != nil {
				b.onFault(ev.TraceID, panicToErr(r))
			}
		}()
		if err := b.sink.SaveEvent(ctx, ev); err != nil && b.onFault != nil {
			b.onFault(ev.TraceID, err)
		}
	}()
}

func panicToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errFromPanic(r)
}

// Subscriber receives ordered events for one trace through a bounded
// channel. Lossy-kind events are dropped on overflow; preserved-kind
// events block the publisher until buffer space is available or the
// subscriber is closed.
type Subscriber struct {
	traceID string
	tl      *traceLog
	ch      chan Event
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
	lagged  bool
}

// Subscribe registers a new subscriber for traceID with the given buffer
// size, seeded with any retained tail events with seq >= sinceSeq (so a
// reconnecting client can resume from a caller-supplied since_seq instead
// of missing everything emitted before it reconnected).
func (b *Bus) Subscribe(traceID string, sinceSeq uint64, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	tl := b.traceLogFor(traceID)
	sub := &Subscriber{traceID: traceID, tl: tl, ch: make(chan Event, bufferSize), done: make(chan struct{})}

	tl.mu.Lock()
	for _, ev := range tl.tail {
		if ev.Seq >= sinceSeq {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
	tl.subscribers[sub] = struct{}{}
	tl.mu.Unlock()

	return sub
}

// Events returns the channel of delivered events.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close unregisters the subscriber. Idempotent. The event channel itself is
// never closed: a publisher may be mid-send to this subscriber concurrently
// (e.g. a client disconnects while the planner is mid-Publish), and closing
// a channel a concurrent sender might still write to would panic that
// sender. deliver instead selects on done to abandon any pending send.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.tl.mu.Lock()
	delete(s.tl.subscribers, s)
	s.tl.mu.Unlock()
	close(s.done)
}

func (s *Subscriber) deliver(ev Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if ev.Kind == KindSubscriberLagged {
		return // never recurse through the diagnostic path
	}

	if IsLossy(ev.Kind) {
		select {
		case s.ch <- ev:
			s.clearLagged()
		case <-s.done:
		default:
			s.reportLagged(ev)
		}
		return
	}

	// Preserved events: block until delivered, or abandon the send if the
	// subscriber closes while we wait.
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

func (s *Subscriber) reportLagged(dropped Event) {
	s.mu.Lock()
	already := s.lagged
	s.lagged = true
	s.mu.Unlock()
	if already {
		return
	}
	diag := Event{
		EventID: newEventID(),
		Seq:     dropped.Seq,
		Ts:      dropped.Ts,
		TraceID: dropped.TraceID,
		Kind:    KindSubscriberLagged,
		Payload: map[string]any{"dropped_kind": string(dropped.Kind)},
	}
	select {
	case s.ch <- diag:
	default:
		// Buffer still full even for the diagnostic; nothing more to do
		// without violating the lossy/preserved contract further.
	}
}

func (s *Subscriber) clearLagged() {
	s.mu.Lock()
	s.lagged = false
	s.mu.Unlock()
}

// Package eventbus implements the in-process typed publish/subscribe bus
// described in spec §4.2: per-topic ordering, bounded queue, and a
// backpressure policy that blocks briefly for high-priority events before
// dropping them, mirroring the way the teacher's transport.Hub bounds its
// per-client send channels rather than letting a slow consumer stall the
// sender.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"go.uber.org/zap"
)

// Handler processes a single event. Handlers must be idempotent: a
// misbehaving handler is logged and does not stop delivery to others.
type Handler func(ctx context.Context, ev domain.Event) error

// handlerTimeout bounds how long a single handler invocation may run
// before the dispatcher gives up waiting on it and moves on, so one
// wedged subscriber cannot stall an entire topic's queue.
const handlerTimeout = 2 * time.Second

// highPriorityEnqueueWait is how long Publish blocks trying to enqueue a
// high-priority event into a full queue before dropping it (spec §4.2:
// "high-priority events ... block the publisher briefly (bounded timeout)
// before being dropped with a metric").
const highPriorityEnqueueWait = 100 * time.Millisecond

// queuedEvent wraps an event queued on a topic worker's channel; the
// channel's FIFO order is what gives per-topic sequencing.
type queuedEvent struct {
	ev domain.Event
}

// topicWorker serializes delivery for one topic: a single goroutine reads
// its own bounded channel and runs every subscriber's handler in publish
// order, so "per-subscriber handlers run serially for a single topic, in
// parallel across topics" holds by construction — each topic gets its own
// worker goroutine and its own channel.
type topicWorker struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	queue    chan queuedEvent
	logger   *zap.Logger
}

func newTopicWorker(capacity int, logger *zap.Logger) *topicWorker {
	w := &topicWorker{
		handlers: make(map[int]Handler),
		queue:    make(chan queuedEvent, capacity),
		logger:   logger,
	}
	go w.run()
	return w
}

func (w *topicWorker) run() {
	for qe := range w.queue {
		w.mu.RLock()
		handlers := make([]Handler, 0, len(w.handlers))
		for _, h := range w.handlers {
			handlers = append(handlers, h)
		}
		w.mu.RUnlock()

		for _, h := range handlers {
			w.invoke(h, qe.ev)
		}
	}
}

func (w *topicWorker) invoke(h Handler, ev domain.Event) {
	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errPanic(r)
				return
			}
		}()
		done <- h(ctx, ev)
	}()

	select {
	case err := <-done:
		metrics.EventBusHandlerDuration.WithLabelValues(string(ev.Topic)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.EventBusHandlerErrorsTotal.WithLabelValues(string(ev.Topic)).Inc()
			if w.logger != nil {
				w.logger.Error("event bus handler error",
					zap.String("topic", string(ev.Topic)),
					zap.Error(err),
				)
			}
		}
	case <-ctx.Done():
		metrics.EventBusHandlerTimeoutsTotal.WithLabelValues(string(ev.Topic)).Inc()
		if w.logger != nil {
			w.logger.Error("event bus handler timed out",
				zap.String("topic", string(ev.Topic)),
				zap.Duration("timeout", handlerTimeout),
			)
		}
	}
}

type panicError struct{ v any }

func (e panicError) Error() string { return "handler panicked" }

func errPanic(v any) error { return panicError{v} }

func (w *topicWorker) subscribe(h Handler) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = h
	return id
}

func (w *topicWorker) unsubscribe(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, id)
}

// Subscription is an opaque handle returned by Bus.Subscribe, passed back
// to Unsubscribe to remove a handler.
type Subscription struct {
	topic domain.Topic
	id    int
}

// Bus is the process-wide event bus singleton (spec §4.1: "Rooms, the
// event bus, and the connection manager are process-wide singletons").
type Bus struct {
	mu       sync.RWMutex
	workers  map[domain.Topic]*topicWorker
	capacity int
	logger   *zap.Logger
}

// New creates a Bus. capacity bounds each per-topic queue (spec default 8k
// for the main queue; here applied per-topic since topics fan out into
// independent channels rather than one shared queue).
func New(capacity int, logger *zap.Logger) *Bus {
	if capacity <= 0 {
		capacity = 8192
	}
	return &Bus{
		workers:  make(map[domain.Topic]*topicWorker),
		capacity: capacity,
		logger:   logger,
	}
}

func (b *Bus) workerFor(topic domain.Topic) *topicWorker {
	b.mu.RLock()
	w, ok := b.workers[topic]
	b.mu.RUnlock()
	if ok {
		return w
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.workers[topic]; ok {
		return w
	}
	w = newTopicWorker(b.capacity, b.logger)
	b.workers[topic] = w
	return w
}

// Subscribe registers a handler for a topic and returns a Subscription
// usable with Unsubscribe.
func (b *Bus) Subscribe(topic domain.Topic, h Handler) Subscription {
	w := b.workerFor(topic)
	id := w.subscribe(h)
	return Subscription{topic: topic, id: id}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.RLock()
	w, ok := b.workers[sub.topic]
	b.mu.RUnlock()
	if ok {
		w.unsubscribe(sub.id)
	}
}

// Publish enqueues an event for asynchronous delivery. For a non-critical
// event on a full topic queue, the oldest queued event is discarded to
// make room (dropOldestAndEnqueue), with a drop metric. Critical events
// block up to highPriorityEnqueueWait before being dropped with a metric.
func (b *Bus) Publish(ev domain.Event) {
	w := b.workerFor(ev.Topic)
	metrics.EventBusPublishedTotal.WithLabelValues(string(ev.Topic)).Inc()

	if !ev.Critical() {
		select {
		case w.queue <- queuedEvent{ev: ev}:
		default:
			b.dropOldestAndEnqueue(w, ev)
		}
		return
	}

	select {
	case w.queue <- queuedEvent{ev: ev}:
		return
	default:
	}

	timer := time.NewTimer(highPriorityEnqueueWait)
	defer timer.Stop()
	select {
	case w.queue <- queuedEvent{ev: ev}:
	case <-timer.C:
		metrics.EventBusDroppedTotal.WithLabelValues(string(ev.Topic), "critical").Inc()
		if b.logger != nil {
			b.logger.Error("dropped critical event after blocking enqueue timed out",
				zap.String("topic", string(ev.Topic)),
			)
		}
	}
}

// dropOldestAndEnqueue makes room for a new low-priority event by
// discarding the oldest queued event for the topic, then enqueues.
func (b *Bus) dropOldestAndEnqueue(w *topicWorker, ev domain.Event) {
	select {
	case <-w.queue:
		metrics.EventBusDroppedTotal.WithLabelValues(string(ev.Topic), "normal").Inc()
	default:
	}
	select {
	case w.queue <- queuedEvent{ev: ev}:
	default:
		metrics.EventBusDroppedTotal.WithLabelValues(string(ev.Topic), "normal").Inc()
	}
}

// PublishSync delivers an event to every current subscriber inline on the
// calling goroutine, bypassing the queue. Used only at shutdown to flush
// remaining events with a bounded timeout, per spec §4.2.
func (b *Bus) PublishSync(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	w, ok := b.workers[ev.Topic]
	b.mu.RUnlock()
	if !ok {
		return
	}

	w.mu.RLock()
	handlers := make([]Handler, 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.RUnlock()

	for _, h := range handlers {
		w.invoke(h, ev)
	}
	_ = ctx
}

// Drain closes every topic worker's queue and returns. It does not wait
// for queued events or running handlers: each worker goroutine delivers
// what is still in its channel and exits on its own, possibly after Drain
// has returned. timeout bounds only the closing step.
func (b *Bus) Drain(timeout time.Duration) {
	b.mu.Lock()
	workers := make([]*topicWorker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			close(w.queue)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		if b.logger != nil {
			b.logger.Warn("event bus drain timed out", zap.Duration("timeout", timeout))
		}
	}
}

// QueueDepth reports the combined depth of every topic's queue, exported
// as a gauge by the metrics reporter.
func (b *Bus) QueueDepth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, w := range b.workers {
		total += len(w.queue)
	}
	return total
}

package broker

import (
	"context"
	"sync"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"go.uber.org/zap"
)

// pendingMessage is one message waiting to be flushed as part of a batch
// group.
type pendingMessage struct {
	subject string
	data    []byte
}

// publishFunc is the low-level, single-message publish the batcher
// flushes groups through. It is the NATS client's Publish in production
// and a fake in tests.
type publishFunc func(subject string, data []byte) error

// batchConfig carries the size/interval/retry tunables from spec §6.5
// (batch_flush_ms, batch_flush_size, max_batch_retries).
type batchConfig struct {
	flushSize      int
	flushInterval  time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// batcher groups publishes by subject prefix and flushes each group by
// size or interval, retrying only the groups that fail (spec §4.3:
// "Partial flush: when batched publish fails for a group, only the
// failed group retries ... successful groups are reported delivered").
type batcher struct {
	cfg     batchConfig
	publish publishFunc
	logger  *zap.Logger

	mu     sync.Mutex
	groups map[string][]pendingMessage

	dlqMu sync.Mutex
	dlq   []pendingMessage

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newBatcher(cfg batchConfig, publish publishFunc, logger *zap.Logger) *batcher {
	b := &batcher{
		cfg:     cfg,
		publish: publish,
		logger:  logger,
		groups:  make(map[string][]pendingMessage),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *batcher) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flushAll()
		case <-b.stopCh:
			b.flushAll()
			return
		}
	}
}

func (b *batcher) stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// add appends a message to its subject-prefix group, flushing
// immediately if the group reaches flushSize.
func (b *batcher) add(subject string, data []byte) {
	key := batchGroupKey(subject)

	b.mu.Lock()
	b.groups[key] = append(b.groups[key], pendingMessage{subject: subject, data: data})
	size := len(b.groups[key])
	b.mu.Unlock()

	metrics.BrokerCurrentBatchSize.WithLabelValues(key).Set(float64(size))

	if size >= b.cfg.flushSize {
		go b.flushGroup(key)
	}
}

// flushAll flushes every pending group concurrently, one goroutine per
// group, the same as the size-triggered path in add — a group stuck
// retrying with backoff must not delay another group's timely flush
// (spec §4.3's partial-flush guarantee). It blocks until every group
// started in this round has finished, so a caller on the shutdown path
// (run's stopCh case) still observes a complete drain before returning.
func (b *batcher) flushAll() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.groups))
	for k := range b.groups {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			b.flushGroup(key)
		}(k)
	}
	wg.Wait()
}

func (b *batcher) flushGroup(key string) {
	b.mu.Lock()
	msgs := b.groups[key]
	delete(b.groups, key)
	b.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	metrics.BrokerCurrentBatchSize.WithLabelValues(key).Set(0)

	if b.attemptFlush(msgs) {
		metrics.BrokerBatchFlushTotal.WithLabelValues("success").Inc()
		return
	}

	backoff := b.cfg.initialBackoff
	for attempt := 1; attempt <= b.cfg.maxRetries; attempt++ {
		time.Sleep(backoff)
		if b.attemptFlush(msgs) {
			metrics.BrokerBatchFlushTotal.WithLabelValues("success").Inc()
			return
		}
		backoff *= 2
		if backoff > b.cfg.maxBackoff {
			backoff = b.cfg.maxBackoff
		}
	}

	metrics.BrokerBatchFlushTotal.WithLabelValues("failure").Inc()
	b.enqueueDeadLetter(key, msgs)
}

// attemptFlush publishes every message in the group, returning true only
// if every publish succeeded.
func (b *batcher) attemptFlush(msgs []pendingMessage) bool {
	ok := true
	for _, m := range msgs {
		if err := b.publish(m.subject, m.data); err != nil {
			ok = false
		}
	}
	return ok
}

func (b *batcher) enqueueDeadLetter(group string, msgs []pendingMessage) {
	b.dlqMu.Lock()
	b.dlq = append(b.dlq, msgs...)
	depth := len(b.dlq)
	b.dlqMu.Unlock()

	metrics.BrokerFailedBatchQueueDepth.Set(float64(depth))
	if b.logger != nil {
		b.logger.Error("batch exhausted retries, moved to dead-letter queue",
			zap.String("group", group),
			zap.Int("count", len(msgs)),
		)
	}
}

// recoverFailedBatches drains the dead-letter queue and returns its
// contents as (subject, payload) pairs, per spec §4.3's
// `recover_failed_batches()`.
func (b *batcher) recoverFailedBatches(ctx context.Context) []pendingMessage {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := b.dlq
	b.dlq = nil
	metrics.BrokerFailedBatchQueueDepth.Set(0)
	_ = ctx
	return out
}

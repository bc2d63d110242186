// Package broker implements the external pub/sub client described in
// spec §4.3: subject validation, batched publish with partial-failure
// retry and a dead-letter queue, ack/nak subscription modes, a
// partially-tolerant connection pool, and health monitoring.
//
// The transport is NATS (github.com/nats-io/nats.go), grounded on the
// subscriber lifecycle in the streamspace events package (connection
// options, reconnect/disconnect/error handlers, drain-then-close
// shutdown). The circuit-breaker-wrapped publish path is grounded on the
// teacher's bus.Service, which wraps every Redis call the same way.
// Client methods do not check for a nil receiver; callers that run
// without a broker hold no Client at all.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config carries the broker tunables enumerated in spec §6.5.
type Config struct {
	URLs                    []string
	PoolSize                int
	MaxBatchRetries         int
	BatchFlushInterval      time.Duration
	BatchFlushSize          int
	EnableBatching          bool
	HealthCheckInterval     time.Duration
	ManualAck               bool
	EnableSubjectValidation bool
	StrictSubjectValidation bool
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if c.MaxBatchRetries <= 0 {
		c.MaxBatchRetries = 3
	}
	if c.BatchFlushInterval <= 0 {
		c.BatchFlushInterval = 200 * time.Millisecond
	}
	if c.BatchFlushSize <= 0 {
		c.BatchFlushSize = 50
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	return c
}

// Subscription is a handle to an active subscription, returned so
// callers can Unsubscribe.
type Subscription struct {
	sub *nats.Subscription
}

// Unsubscribe cancels delivery for this subscription.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Msg is the handler-facing view of a delivered message. In manual-ack
// mode the handler must call Ack or Nak exactly once; a second call on
// the same message is counted as an ack failure.
type Msg struct {
	Subject string
	Payload []byte
	Ts      time.Time

	client  *Client
	settled atomic.Bool
}

// Ack marks a manually-acknowledged message as successfully processed.
func (m *Msg) Ack() {
	if !m.settled.CompareAndSwap(false, true) {
		metrics.BrokerAckFailureTotal.Inc()
		return
	}
	metrics.BrokerAckSuccessTotal.Inc()
}

// Nak marks a manually-acknowledged message as failed, requesting
// redelivery. Core NATS pub/sub has no broker-side redelivery timer (that
// is a JetStream feature this client does not pull in); Nak here is
// tracked for observability and left for a handler-level retry queue to
// act on.
func (m *Msg) Nak() {
	if !m.settled.CompareAndSwap(false, true) {
		metrics.BrokerAckFailureTotal.Inc()
		return
	}
	metrics.BrokerNakTotal.Inc()
}

// MsgHandler processes one delivered message.
type MsgHandler func(ctx context.Context, msg *Msg)

// Client is the broker client singleton.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	conns []*nats.Conn

	cb *gobreaker.CircuitBreaker

	batcher *batcher

	connected           atomic.Bool
	consecutiveFailures atomic.Int64

	healthStop chan struct{}
	healthWG   sync.WaitGroup
}

// Connect dials up to cfg.PoolSize connections. Partial pool
// initialization is acceptable (spec §4.3): the client tracks successful
// vs failed connection attempts and continues with whatever succeeded,
// failing Connect only if every attempt failed.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		healthStop: make(chan struct{}),
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if logger != nil {
				logger.Warn("broker circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})

	successful, failed := 0, 0
	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := nats.Connect(joinURLs(cfg.URLs),
			nats.Name("mythosmud-realtime"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				if logger != nil {
					logger.Warn("broker connection disconnected", zap.Error(err))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				if logger != nil {
					logger.Info("broker connection reconnected", zap.String("url", nc.ConnectedUrl()))
				}
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				if logger != nil {
					logger.Error("broker async error", zap.Error(err))
				}
			}),
		)
		if err != nil {
			failed++
			continue
		}
		successful++
		c.mu.Lock()
		c.conns = append(c.conns, conn)
		c.mu.Unlock()
	}

	metrics.BrokerPoolConnections.WithLabelValues("successful").Set(float64(successful))
	metrics.BrokerPoolConnections.WithLabelValues("failed").Set(float64(failed))

	if successful == 0 {
		return nil, domain.NewBrokerError("connect", fmt.Errorf("all %d connection attempts failed", cfg.PoolSize))
	}

	c.connected.Store(true)

	if cfg.EnableBatching {
		c.batcher = newBatcher(batchConfig{
			flushSize:      cfg.BatchFlushSize,
			flushInterval:  cfg.BatchFlushInterval,
			maxRetries:     cfg.MaxBatchRetries,
			initialBackoff: 200 * time.Millisecond,
			maxBackoff:     30 * time.Second,
		}, c.rawPublish, logger)
	}

	c.healthWG.Add(1)
	go c.healthLoop()

	return c, nil
}

func joinURLs(urls []string) string {
	if len(urls) == 0 {
		return nats.DefaultURL
	}
	out := urls[0]
	for _, u := range urls[1:] {
		out += "," + u
	}
	return out
}

func (c *Client) pickConn() (*nats.Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.conns {
		if conn.IsConnected() {
			return conn, true
		}
	}
	if len(c.conns) > 0 {
		return c.conns[0], true
	}
	return nil, false
}

func (c *Client) rawPublish(subject string, data []byte) error {
	conn, ok := c.pickConn()
	if !ok {
		return fmt.Errorf("no available connection")
	}
	_, err := c.cb.Execute(func() (any, error) {
		return nil, conn.Publish(subject, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
	}
	return err
}

// Publish validates the subject, encodes the payload in the canonical
// envelope, and either flushes immediately or appends to a batch group
// per spec §4.3.
func (c *Client) Publish(subject string, payload any) error {
	if c.cfg.EnableSubjectValidation {
		if err := ValidateSubject(subject); err != nil {
			metrics.BrokerValidationFailuresTotal.WithLabelValues("subject").Inc()
			metrics.BrokerPublishTotal.WithLabelValues("rejected").Inc()
			return err
		}
	}

	data, err := encode(subject, payload)
	if err != nil {
		metrics.BrokerPublishTotal.WithLabelValues("encode_error").Inc()
		return domain.NewBrokerError("publish", err)
	}
	metrics.BrokerPublishBytesTotal.Add(float64(len(data)))

	if c.batcher != nil {
		c.batcher.add(subject, data)
		metrics.BrokerPublishTotal.WithLabelValues("batched").Inc()
		return nil
	}

	if err := c.rawPublish(subject, data); err != nil {
		metrics.BrokerPublishTotal.WithLabelValues("error").Inc()
		return domain.NewBrokerError("publish", err)
	}
	metrics.BrokerPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe validates pattern and registers handler. When queueGroup is
// non-empty, competing consumers in the same group each receive a
// disjoint share of messages.
func (c *Client) Subscribe(pattern string, queueGroup string, handler MsgHandler) (*Subscription, error) {
	if c.cfg.EnableSubjectValidation {
		if err := ValidateSubject(pattern); err != nil {
			metrics.BrokerValidationFailuresTotal.WithLabelValues("pattern").Inc()
			return nil, err
		}
	}

	conn, ok := c.pickConn()
	if !ok {
		return nil, domain.NewBrokerError("subscribe", fmt.Errorf("no available connection"))
	}

	natsHandler := func(m *nats.Msg) {
		payload, ts, err := decode(m.Data)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("broker: failed to decode message", zap.Error(err))
			}
			return
		}
		msg := &Msg{Subject: m.Subject, Payload: payload, Ts: ts, client: c}
		handler(context.Background(), msg)

		if !c.cfg.ManualAck {
			msg.Ack()
			return
		}
		if !msg.settled.Load() {
			// Manual mode and the handler returned without settling.
			// Core NATS has no redelivery timer to catch this, so it
			// is surfaced as an ack failure.
			metrics.BrokerAckFailureTotal.Inc()
		}
	}

	var sub *nats.Subscription
	var err error
	if queueGroup != "" {
		sub, err = conn.QueueSubscribe(pattern, queueGroup, natsHandler)
	} else {
		sub, err = conn.Subscribe(pattern, natsHandler)
	}
	if err != nil {
		return nil, domain.NewBrokerError("subscribe", err)
	}
	return &Subscription{sub: sub}, nil
}

// Request performs a point-to-point RPC with a timeout (spec §4.3).
func (c *Client) Request(ctx context.Context, subject string, payload any, timeout time.Duration) ([]byte, error) {
	conn, ok := c.pickConn()
	if !ok {
		return nil, domain.NewBrokerError("request", fmt.Errorf("no available connection"))
	}

	data, err := encode(subject, payload)
	if err != nil {
		return nil, domain.NewBrokerError("request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, domain.NewBrokerError("timeout", err)
	}

	respPayload, _, err := decode(resp.Data)
	if err != nil {
		return nil, domain.NewBrokerError("request", err)
	}
	return respPayload, nil
}

// RecoverFailedBatches drains the dead-letter queue built up by failed
// batch flushes (spec §4.3's `recover_failed_batches()`). Returns nil if
// batching is disabled.
func (c *Client) RecoverFailedBatches(ctx context.Context) []pendingMessage {
	if c.batcher == nil {
		return nil
	}
	return c.batcher.recoverFailedBatches(ctx)
}

// IsConnected returns true only if the last health probe succeeded (spec
// §4.3).
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) healthLoop() {
	defer c.healthWG.Done()
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.probeHealth()
		case <-c.healthStop:
			return
		}
	}
}

func (c *Client) probeHealth() {
	conn, ok := c.pickConn()
	healthy := ok && conn.IsConnected()
	if healthy {
		if err := conn.Flush(); err != nil {
			healthy = false
		}
	}

	if healthy {
		c.connected.Store(true)
		c.consecutiveFailures.Store(0)
	} else {
		c.connected.Store(false)
		failures := c.consecutiveFailures.Add(1)
		metrics.BrokerConsecutiveHealthFailures.Set(float64(failures))
		if c.logger != nil {
			c.logger.Warn("broker health probe failed", zap.Int64("consecutive_failures", failures))
		}
	}
}

// Close flushes the batcher, stops the health loop, and drains every
// pooled connection, matching the shutdown ordering in spec §5 ("broker
// client (flush pending, then disconnect)").
func (c *Client) Close() {
	if c.batcher != nil {
		c.batcher.stop()
	}
	close(c.healthStop)
	c.healthWG.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	c.connected.Store(false)
}

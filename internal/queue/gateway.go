// Package queue implements the broker-facing side of task processing: a
// publishing gateway that delivers task identifiers to a durable RabbitMQ
// destination. The gateway is an explicitly constructed, dependency-injected
// object with a single lifecycle owner rather than process-global state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tasktide/tasktide/internal/config"
)

// Common errors returned by the Gateway
var (
	// ErrBrokerUnavailable is returned when the broker cannot be reached or
	// the durable topology cannot be declared. Callers are expected to
	// degrade to a warned, queue-less mode rather than crash.
	ErrBrokerUnavailable = errors.New("message broker unavailable")

	// ErrPublishFailed is returned when a message cannot be published on an
	// established channel. The gateway does not retry internally.
	ErrPublishFailed = errors.New("publish failed")

	// ErrGatewayClosed is returned when enqueueing after Close.
	ErrGatewayClosed = errors.New("queue gateway is closed")
)

// Channel is the subset of *amqp.Channel the gateway uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is the subset of *amqp.Connection the gateway uses.
type Connection interface {
	IsClosed() bool
	Close() error
}

// DialFunc establishes a broker connection and returns it together with a
// channel opened on it. Injected so tests can substitute an in-process fake.
type DialFunc func(url string) (Connection, Channel, error)

// AMQPDial is the production DialFunc backed by rabbitmq/amqp091-go.
func AMQPDial(url string) (Connection, Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

// Gateway publishes task identifiers to a durable direct exchange bound to a
// durable queue with a fixed routing key. One connection and channel are
// established lazily and reused across Enqueue calls.
type Gateway struct {
	cfg    config.BrokerConfig
	logger *slog.Logger
	dial   DialFunc

	mu          sync.Mutex
	conn        Connection
	ch          Channel
	initialized bool
	closed      bool
}

// NewGateway creates a new Gateway for the given broker configuration.
// No connection is made until Initialize or the first Enqueue.
// If logger is nil, a default logger will be used.
func NewGateway(cfg config.BrokerConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "queue_gateway")),
		dial:   AMQPDial,
	}
}

// SetDialFunc replaces the broker dialer. Intended for tests.
func (g *Gateway) SetDialFunc(dial DialFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dial = dial
}

// Initialize establishes the broker connection and declares the durable
// exchange, queue and binding. It is idempotent and safe to call
// concurrently: only the first caller performs the work, later callers
// observe the already-initialized state. A dropped connection is detected
// and re-established on the next call.
func (g *Gateway) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initializeLocked(ctx)
}

// initializeLocked does the actual work; callers must hold g.mu.
func (g *Gateway) initializeLocked(ctx context.Context) error {
	if g.closed {
		return ErrGatewayClosed
	}

	if g.initialized && g.conn != nil && !g.conn.IsClosed() {
		return nil
	}

	// A dropped connection leaves stale handles behind; discard them
	// before redialing.
	g.teardownLocked()

	conn, ch, err := g.dial(g.cfg.URL)
	if err != nil {
		g.logger.Warn("failed to connect to message broker",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	if err := ch.ExchangeDeclare(
		g.cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%w: declare exchange: %v", ErrBrokerUnavailable, err)
	}

	if _, err := ch.QueueDeclare(
		g.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%w: declare queue: %v", ErrBrokerUnavailable, err)
	}

	if err := ch.QueueBind(
		g.cfg.Queue,
		g.cfg.RoutingKey,
		g.cfg.Exchange,
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%w: bind queue: %v", ErrBrokerUnavailable, err)
	}

	g.conn = conn
	g.ch = ch
	g.initialized = true

	g.logger.Info("queue gateway initialized",
		slog.String("exchange", g.cfg.Exchange),
		slog.String("queue", g.cfg.Queue),
		slog.String("routing_key", g.cfg.RoutingKey))
	return nil
}

// Enqueue publishes the task identifier as a persistent text message to the
// bound destination. The connection is (re-)established first if needed, so
// a dropped connection heals on the next enqueue. Retrying a failed publish
// is the caller's responsibility.
func (g *Gateway) Enqueue(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.initializeLocked(ctx); err != nil {
		return err
	}

	err := g.ch.PublishWithContext(
		ctx,
		g.cfg.Exchange,
		g.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(taskID),
		},
	)
	if err != nil {
		g.logger.Error("failed to publish task",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID))
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	g.logger.Debug("task enqueued",
		slog.String("task_id", taskID),
		slog.String("routing_key", g.cfg.RoutingKey))
	return nil
}

// Close releases the channel and connection. It is idempotent and safe to
// call when the gateway was never initialized.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	g.teardownLocked()
	g.logger.Info("queue gateway closed")
	return nil
}

// teardownLocked closes and clears the current handles; callers must hold g.mu.
func (g *Gateway) teardownLocked() {
	if g.ch != nil {
		if err := g.ch.Close(); err != nil {
			g.logger.Debug("error closing channel", slog.String("error", err.Error()))
		}
		g.ch = nil
	}
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Debug("error closing connection", slog.String("error", err.Error()))
		}
		g.conn = nil
	}
	g.initialized = false
}

// Package worker implements the task consumer: a loop that receives task
// identifiers from the broker, re-validates each task against the store,
// executes its unit of work, and reconciles the terminal status. Messages
// are acknowledged only after the final store write, so a crash mid-flight
// leaves the message eligible for broker-driven redelivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tasktide/tasktide/internal/config"
	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/store"
)

// ErrBrokerUnavailable is returned by Run when the broker cannot be
// reached or the consume stream cannot be established.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Connection is the subset of *amqp.Connection the consumer uses.
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

// Consumer pulls task identifiers from the broker queue one at a time and
// drives each task through IN_PROGRESS to a terminal status. Errors during
// execution are fully contained: one failing task never stops the loop.
type Consumer struct {
	cfg      config.BrokerConfig
	store    store.TaskStore
	executor Executor
	logger   *slog.Logger
	dial     DialFunc
	now      func() time.Time
}

// NewConsumer creates a Consumer over the given store and executor.
// If logger is nil, a default logger will be used.
func NewConsumer(cfg config.BrokerConfig, taskStore store.TaskStore, executor Executor, logger *slog.Logger) *Consumer {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if executor == nil {
		panic("executor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		cfg:      cfg,
		store:    taskStore,
		executor: executor,
		logger:   logger.With(slog.String("component", "task_consumer")),
		dial:     AMQPDial,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetDialFunc replaces the broker dialer. Intended for tests.
func (c *Consumer) SetDialFunc(dial DialFunc) {
	c.dial = dial
}

// Run connects to the broker, declares the same durable topology as the
// gateway, and consumes messages until the context is cancelled or the
// delivery stream closes. Prefetch is one: a single message is in flight
// per consumer instance; parallelism comes from running more instances.
func (c *Consumer) Run(ctx context.Context) error {
	conn, ch, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Debug("error closing channel", slog.String("error", err.Error()))
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug("error closing connection", slog.String("error", err.Error()))
		}
	}()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declare exchange: %v", ErrBrokerUnavailable, err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declare queue: %v", ErrBrokerUnavailable, err)
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("%w: bind queue: %v", ErrBrokerUnavailable, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%w: set qos: %v", ErrBrokerUnavailable, err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume: %v", ErrBrokerUnavailable, err)
	}

	c.logger.Info("worker started, awaiting messages",
		slog.String("queue", c.cfg.Queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker stopping", slog.String("reason", ctx.Err().Error()))
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed by broker")
				return ErrBrokerUnavailable
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery drives one message through the per-message state machine.
// The message is acknowledged only after the terminal status write (or a
// decision to skip); malformed and stale messages are dropped because
// redelivering them can never succeed. Transient store failures leave the
// message unacked (nack with requeue) so the broker redelivers it.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	body := string(d.Body)

	taskID, err := uuid.Parse(body)
	if err != nil {
		c.logger.Error("invalid task id received, dropping message",
			slog.String("body", body),
			slog.String("error", err.Error()))
		c.ack(d)
		return
	}

	log := c.logger.With(slog.String("task_id", taskID.String()))
	log.Info("received task")

	task, err := c.store.GetByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Error("task not found in store, dropping message")
			c.ack(d)
			return
		}
		log.Error("failed to load task, requeueing",
			slog.String("error", err.Error()))
		c.nackRequeue(d)
		return
	}

	if task.Status.IsTerminal() {
		// Covers a cancel that landed between enqueue and delivery, and
		// redeliveries of already-finished tasks.
		log.Info("skipping task with terminal status",
			slog.String("status", string(task.Status)))
		c.ack(d)
		return
	}

	// Commit IN_PROGRESS before doing any work so "started" is observable
	// to API readers even if this process dies mid-execution.
	task, err = c.store.MarkStarted(ctx, taskID, c.now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotEligible):
			// The status moved under us after the read above; whoever won
			// the race owns the task now.
			log.Info("task no longer eligible, skipping")
			c.ack(d)
		case store.IsNotFoundError(err):
			log.Error("task disappeared before start, dropping message")
			c.ack(d)
		default:
			log.Error("failed to mark task started, requeueing",
				slog.String("error", err.Error()))
			c.nackRequeue(d)
		}
		return
	}

	result, execErr := c.execute(ctx, task)

	if execErr != nil {
		if _, err := c.store.MarkFailed(ctx, taskID, c.now(), execErr.Error()); err != nil {
			c.resolveFinalizeError(d, log, err, "failed")
			return
		}
		log.Error("task processing failed",
			slog.String("error", execErr.Error()))
		c.ack(d)
		return
	}

	if _, err := c.store.MarkCompleted(ctx, taskID, c.now(), result); err != nil {
		c.resolveFinalizeError(d, log, err, "completed")
		return
	}
	log.Info("task processed")
	c.ack(d)
}

// execute runs the executor, converting panics into errors so a panicking
// unit of work resolves to FAILED instead of killing the loop.
func (c *Consumer) execute(ctx context.Context, task *domain.Task) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task execution panicked: %v", p)
		}
	}()

	return c.executor.Execute(ctx, task)
}

// resolveFinalizeError handles a failed terminal write. A guard miss means
// the task was cancelled while executing: the cancel wins, the terminal
// write is discarded, and the message is acked. Anything else is a store
// failure: the message stays unacked for redelivery.
func (c *Consumer) resolveFinalizeError(d amqp.Delivery, log *slog.Logger, err error, outcome string) {
	if errors.Is(err, store.ErrNotInProgress) {
		log.Info("task was cancelled during execution, discarding result",
			slog.String("outcome", outcome))
		c.ack(d)
		return
	}
	log.Error("failed to write terminal status, requeueing",
		slog.String("outcome", outcome),
		slog.String("error", err.Error()))
	c.nackRequeue(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", slog.String("error", err.Error()))
	}
}

func (c *Consumer) nackRequeue(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		c.logger.Error("failed to nack message", slog.String("error", err.Error()))
	}
}

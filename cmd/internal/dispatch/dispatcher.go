package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
)

// Sender delivers one message. Retryable failures must be wrapped with Transient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher owns the bounded queue and the worker pool that drains it.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	log     *slog.Logger
	metrics *metrics.Metrics
	queue   chan Message
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithSleep replaces the retry delay wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func New(cfg Config, sender Sender, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		log:    log,
		queue:  make(chan Message, cfg.QueueSize),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Enqueue queues msg without blocking. A full queue returns ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := prepare(msg)
	if err != nil {
		return err
	}

	select {
	case d.queue <- msg:
		d.metrics.QueueDepth(len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit queues msg, waiting for room. The Kafka consumer uses it for backpressure.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) error {
	msg, err := prepare(msg)
	if err != nil {
		return err
	}

	select {
	case d.queue <- msg:
		d.metrics.QueueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the number of queued messages.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-d.queue:
					d.metrics.QueueDepth(len(d.queue))
					d.Deliver(ctx, msg)
				}
			}
		})
	}
	d.log.Info("dispatch.workers.started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
	err := g.Wait()
	d.log.Info("dispatch.workers.stopped", "pending", len(d.queue))
	return err
}

// Deliver sends msg with the retry policy: up to MaxAttempts tries, RetryDelay
// apart, retrying only transient failures. It never returns an error; the
// outcome is logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) {
	kind := string(msg.Kind)
	log := d.log.With("msg_id", msg.ID, "kind", kind, "to", MaskAddress(msg.Address), "purpose", string(msg.Purpose))

	for attempt := 1; ; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.sender.Send(sendCtx, msg)
		cancel()

		if err == nil {
			d.metrics.DispatchAttempt(kind, "sent")
			log.Info("dispatch.send.ok", "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			d.metrics.DispatchAttempt(kind, "abandoned")
			log.Warn("dispatch.send.abandoned", "attempt", attempt, "err", err)
			return
		}
		if !IsTransient(err) {
			d.metrics.DispatchAttempt(kind, "failed")
			log.Error("dispatch.send.fail", "attempt", attempt, "err", err)
			return
		}
		if attempt >= d.cfg.MaxAttempts {
			d.metrics.DispatchAttempt(kind, "exhausted")
			log.Error("dispatch.send.exhausted", "attempts", attempt, "err", err)
			return
		}

		d.metrics.DispatchAttempt(kind, "retry")
		log.Warn("dispatch.send.retry", "attempt", attempt, "retry_in", d.cfg.RetryDelay.String(), "err", err)
		if err := d.sleep(ctx, d.cfg.RetryDelay); err != nil {
			d.metrics.DispatchAttempt(kind, "abandoned")
			log.Warn("dispatch.send.abandoned", "attempt", attempt, "err", err)
			return
		}
	}
}

func prepare(msg Message) (Message, error) {
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Router picks a Sender by channel kind.
type Router map[account.Kind]Sender

// Send implements Sender.
func (r Router) Send(ctx context.Context, msg Message) error {
	s, ok := r[msg.Kind]
	if !ok || s == nil {
		return ErrNoSender
	}
	return s.Send(ctx, msg)
}

package smtp

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// sendTimeout bounds one delivery attempt, including the rate limit wait.
const sendTimeout = 30 * time.Second

// DispatcherConfig controls queueing and throughput.
type DispatcherConfig struct {
	// QueueSize bounds the buffer. A full queue drops new mail.
	QueueSize int

	// Workers is the number of delivery goroutines.
	Workers int

	// RatePerSecond caps deliveries across all workers. Zero is unlimited.
	RatePerSecond float64
}

// Dispatcher queues mail and delivers it from background workers. It
// satisfies the auth Notifier contract: Notify never blocks on the network
// and never reports delivery failures to the caller.
type Dispatcher struct {
	sender  Sender
	ch      chan Message
	done    chan struct{}
	limiter *rate.Limiter
	wg      sync.WaitGroup

	sent      atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the workers. A nil sender makes every Notify a
// logged drop.
func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	limit, burst := rate.Inf, 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = int(math.Max(1, math.Ceil(cfg.RatePerSecond)))
	}

	d := &Dispatcher{
		sender:  sender,
		ch:      make(chan Message, cfg.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, burst),
	}

	if sender != nil {
		for i := 0; i < cfg.Workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
	}
	return d
}

// Notify queues a message for delivery.
func (d *Dispatcher) Notify(_ context.Context, to, subject, text, html string) {
	d.Enqueue(Message{To: to, Subject: subject, Text: text, HTML: html})
}

// Enqueue adds msg to the queue without blocking. It reports false when
// the message was dropped.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if d.sender == nil {
		d.dropped.Add(1)
		slog.Warn("mail delivery disabled, dropping message",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
		return false
	}

	select {
	case d.ch <- msg:
		return true
	case <-d.done:
		return false
	default:
		d.dropped.Add(1)
		slog.Warn("mail queue full, dropping message",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

// deliver sends one message. Bodies are never logged; they carry codes.
func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		d.failed.Add(1)
		slog.Error("mail rate limit wait failed", slog.String("to", msg.To), slog.Any("error", err))
		return
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.failed.Add(1)
		slog.Error("mail delivery failed",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.Any("error", err),
		)
		return
	}

	d.sent.Add(1)
	slog.Debug("mail sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
}

// Close stops accepting mail, drains what is queued and waits for the
// workers. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() QueueStats {
	if d == nil {
		return QueueStats{}
	}
	return QueueStats{
		Queued:  len(d.ch),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

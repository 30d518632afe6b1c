package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"partnercore/pkg/domain"
)

// Notifier delivers one message to the notification collaborator.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Invalidator tells downstream caches that a document changed.
type Invalidator interface {
	Invalidate(ctx context.Context, ref domain.Ref) error
}

// ErrClosed is returned when work is submitted to a closed dispatcher.
var ErrClosed = errors.New("notify: dispatcher closed")

// DispatcherConfig tunes the queue, retries and de-duplication window.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DedupeSize     int
	DrainTimeout   time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        2,
		QueueSize:      256,
		MaxRetries:     5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		DedupeSize:     4096,
		DrainTimeout:   30 * time.Second,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = def.DedupeSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

type task struct {
	msg *Message
	ref *domain.Ref
	key string
}

// DispatcherStats counts task outcomes since start.
type DispatcherStats struct {
	Delivered   int64
	Invalidated int64
	Duplicates  int64
	Failed      int64
}

// Dispatcher queues notifications and invalidations and delivers them from a
// worker pool. Delivery is at-least-once: a message is retried with
// exponential backoff and, once it fails for good, dropped from the
// de-duplication window so a later resend is not suppressed.
type Dispatcher struct {
	notifier    Notifier
	invalidator Invalidator
	cfg         DispatcherConfig
	log         zerolog.Logger

	seen  *lru.Cache[string, struct{}]
	queue chan task

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	statsMu sync.Mutex
	stats   DispatcherStats
}

// NewDispatcher builds a dispatcher. Either back-end may be nil, in which
// case that kind of work is accepted and discarded.
func NewDispatcher(n Notifier, inv Invalidator, cfg DispatcherConfig, log zerolog.Logger) (*Dispatcher, error) {
	cfg = cfg.withDefaults()
	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("dedupe window: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier:    n,
		invalidator: inv,
		cfg:         cfg,
		log:         log.With().Str("component", "dispatcher").Logger(),
		seen:        seen,
		queue:       make(chan task, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Notify enqueues msg unless an identical message is inside the
// de-duplication window. A full queue reports Busy.
func (d *Dispatcher) Notify(_ context.Context, msg Message) error {
	key := msg.Key()
	if dup, _ := d.seen.ContainsOrAdd(key, struct{}{}); dup {
		d.count(func(s *DispatcherStats) { s.Duplicates++ })
		d.log.Debug().Str("template", string(msg.Template)).Str("ref", msg.Ref.String()).Msg("duplicate notification skipped")
		return nil
	}
	if err := d.enqueue(task{msg: &msg, key: key}); err != nil {
		d.seen.Remove(key)
		return err
	}
	return nil
}

// Invalidate enqueues a cache invalidation signal for ref.
func (d *Dispatcher) Invalidate(_ context.Context, ref domain.Ref) error {
	return d.enqueue(task{ref: &ref})
}

func (d *Dispatcher) enqueue(t task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- t:
		return nil
	default:
		return domain.Busy("notify", "notification queue is full")
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Run starts the workers and drains the queue once ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start()
	<-ctx.Done()
	drain, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	return d.Close(drain)
}

// Close stops accepting work and waits for queued tasks. When ctx expires
// first, in-flight retries are abandoned and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if !started {
		for t := range d.queue {
			d.handle(t)
		}
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns a copy of the outcome counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) count(fn func(*DispatcherStats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.queue {
		d.handle(t)
	}
}

func (d *Dispatcher) handle(t task) {
	switch {
	case t.msg != nil:
		if d.notifier == nil {
			return
		}
		msg := *t.msg
		err := d.retry(func() error { return d.notifier.Send(d.ctx, msg) })
		if err != nil {
			d.seen.Remove(t.key)
			d.count(func(s *DispatcherStats) { s.Failed++ })
			d.log.Warn().Err(err).
				Str("template", string(msg.Template)).
				Str("ref", msg.Ref.String()).
				Int("recipients", len(msg.Recipients)).
				Msg("notification dropped")
			return
		}
		d.count(func(s *DispatcherStats) { s.Delivered++ })
	case t.ref != nil:
		if d.invalidator == nil {
			return
		}
		ref := *t.ref
		if err := d.retry(func() error { return d.invalidator.Invalidate(d.ctx, ref) }); err != nil {
			d.count(func(s *DispatcherStats) { s.Failed++ })
			d.log.Warn().Err(err).Str("ref", ref.String()).Msg("cache invalidation dropped")
			return
		}
		d.count(func(s *DispatcherStats) { s.Invalidated++ })
	}
}

// retry runs op with bounded exponential backoff. Unknown templates and
// malformed payloads are not retried.
func (d *Dispatcher) retry(op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxInterval = d.cfg.MaxBackoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, d.cfg.MaxRetries), d.ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if domain.IsKind(err, domain.ErrKindUnknownSubject) || domain.IsKind(err, domain.ErrKindValidationFailed) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		d.log.Debug().Err(err).Dur("wait", wait).Msg("delivery failed, retrying")
	})
}

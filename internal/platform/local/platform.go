// Package local is an in-process delivery platform.
//
// Each pending notification is armed with a timer. When it fires the entry
// leaves the pending set and is handed to a bounded queue served by worker
// goroutines, which call the Deliverer under a rate limit with jittered
// exponential retry.
package local

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lnsched/internal/eventbus"
	"lnsched/internal/notification"
	"lnsched/internal/platform"
	rtsup "lnsched/internal/runtime/supervisor"
	"lnsched/internal/storage"
	logx "lnsched/pkg/logx"
)

var ErrQueueFull = errors.New("delivery queue full")

type entry struct {
	n     notification.Notification
	timer *time.Timer
}

type Platform struct {
	mu sync.Mutex

	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	store     storage.Store
	deliverer Deliverer
	limiter   *rate.Limiter

	pending map[string]*entry
	running bool
	queue   chan notification.Notification
	sup     *rtsup.Supervisor
}

var _ platform.Platform = (*Platform)(nil)

// New builds a stopped platform. A nil deliverer logs deliveries; a nil store
// keeps the pending set in memory only.
func New(cfg Config, d Deliverer, log logx.Logger, bus eventbus.Bus, store storage.Store) *Platform {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "platform"))
	if cfg.Capacity <= 0 {
		cfg.Capacity = platform.DefaultCapacity
	}
	if d == nil {
		d = LogDeliverer{Log: log}
	}
	p := &Platform{
		log:       log,
		bus:       bus,
		store:     store,
		deliverer: d,
		pending:   map[string]*entry{},
	}
	p.applyLocked(cfg)
	return p
}

func (p *Platform) Capacity() int { return p.cfg.Capacity }

// Apply updates delivery settings. Capacity keeps its original value.
func (p *Platform) Apply(cfg Config) {
	p.mu.Lock()
	cfg.Capacity = p.cfg.Capacity
	p.applyLocked(cfg)
	p.mu.Unlock()
}

func (p *Platform) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	p.cfg = cfg
	p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start restores the persisted pending set and starts the delivery workers.
// Restored entries stay disarmed until Release, so the owner can list and
// adopt them before any of them fires. Entries that came due while stopped
// fire as soon as they are released.
func (p *Platform) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if p.store != nil {
		saved, err := p.store.Load(ctx, storage.BucketPlatform)
		if err != nil {
			p.log.Warn("pending set restore failed", logx.Err(err))
		}
		sort.Slice(saved, func(i, j int) bool { return notification.Compare(saved[i], saved[j]) < 0 })
		for _, n := range saved {
			if n.ID() == "" {
				continue
			}
			if _, ok := p.pending[n.ID()]; ok {
				continue
			}
			if len(p.pending) >= p.cfg.Capacity {
				p.log.Warn("restored entry over capacity dropped", logx.String("id", n.ID()))
				continue
			}
			p.pending[n.ID()] = &entry{n: n.WithSynchronized(true)}
		}
	}

	p.queue = make(chan notification.Notification, p.cfg.QueueSize)
	p.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(p.log),
		rtsup.WithCancelOnError(false),
	)
	p.running = true

	q := p.queue
	for i := 0; i < p.cfg.Workers; i++ {
		p.sup.GoRestart(fmt.Sprintf("delivery.%d", i), func(c context.Context) error {
			if p.workerLoop(c, q) {
				return nil
			}
			return errors.New("delivery worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	p.log.Info("platform started", logx.Int("capacity", p.cfg.Capacity), logx.Int("pending", len(p.pending)), logx.Int("workers", p.cfg.Workers))
	return nil
}

// Release arms every pending entry that has no timer yet. It is a no-op when
// the platform is stopped or nothing is held.
func (p *Platform) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	held := 0
	for _, e := range p.pending {
		if e.timer == nil {
			p.armLocked(e)
			held++
		}
	}
	if held > 0 && p.running {
		p.log.Debug("restored entries armed", logx.Int("count", held))
	}
}

// Stop disarms timers, persists the pending set and drains queued deliveries
// until ctx expires. Pending entries survive for the next Start.
func (p *Platform) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	for _, e := range p.pending {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	p.persistLocked()
	close(p.queue)
	sup := p.sup
	p.queue = nil
	p.sup = nil
	p.mu.Unlock()

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		p.log.Warn("delivery worker error", logx.Err(err))
	}
	return nil
}

func (p *Platform) Admit(ctx context.Context, n notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := n.ID()
	if id == "" {
		return errors.New("admit: notification has no id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return platform.ErrStopped
	}
	if old, ok := p.pending[id]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
	} else if len(p.pending) >= p.cfg.Capacity {
		return platform.ErrCapacity
	}
	e := &entry{n: n.Clone().WithSynchronized(true)}
	p.pending[id] = e
	p.armLocked(e)
	p.persistLocked()
	return nil
}

func (p *Platform) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.pending[id]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(p.pending, id)
	p.persistLocked()
	return nil
}

func (p *Platform) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.pending, id)
	}
	p.persistLocked()
	return nil
}

func (p *Platform) ListPending(ctx context.Context) ([]notification.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	out := make([]notification.Notification, 0, len(p.pending))
	for _, e := range p.pending {
		out = append(out, e.n.Clone())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return notification.Compare(out[i], out[j]) < 0 })
	return out, nil
}

func (p *Platform) armLocked(e *entry) {
	if !p.running {
		return
	}
	d := time.Until(e.n.FireDate)
	if d < 0 {
		d = 0
	}
	e.timer = time.AfterFunc(d, func() { p.fire(e) })
}

func (p *Platform) fire(e *entry) {
	id := e.n.ID()
	p.mu.Lock()
	// A cancel or re-admit may have replaced the entry after the timer started.
	if cur, ok := p.pending[id]; !ok || cur != e || !p.running {
		p.mu.Unlock()
		return
	}
	delete(p.pending, id)
	p.persistLocked()
	var queued bool
	select {
	case p.queue <- e.n:
		queued = true
	default:
	}
	p.mu.Unlock()

	ev := eventbus.NotificationEvent{ID: id, Series: e.n.Series(), FireDate: e.n.FireDate}
	eventbus.Publish(p.bus, eventbus.PlatformFired, ev)
	if !queued {
		p.log.Warn("delivery dropped", logx.String("id", id), logx.Err(ErrQueueFull))
		ev.Error = ErrQueueFull.Error()
		eventbus.Publish(p.bus, eventbus.PlatformFailed, ev)
	}
}

// persistLocked saves the pending set. Failures are logged; the in-memory set
// stays authoritative.
func (p *Platform) persistLocked() {
	if p.store == nil {
		return
	}
	items := make([]notification.Notification, 0, len(p.pending))
	for _, e := range p.pending {
		items = append(items, e.n)
	}
	sort.Slice(items, func(i, j int) bool { return notification.Compare(items[i], items[j]) < 0 })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, storage.BucketPlatform, items); err != nil {
		p.log.Warn("pending set persist failed", logx.Err(err))
	}
}

// workerLoop reports whether it ended because the queue closed.
func (p *Platform) workerLoop(ctx context.Context, q <-chan notification.Notification) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case n, ok := <-q:
			if !ok {
				return true
			}
			p.deliverWithRetry(ctx, n)
		}
	}
}

func (p *Platform) deliverWithRetry(ctx context.Context, n notification.Notification) {
	p.mu.Lock()
	cfg := p.cfg
	lim := p.limiter
	p.mu.Unlock()

	ev := eventbus.NotificationEvent{ID: n.ID(), Series: n.Series(), FireDate: n.FireDate}
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := p.deliverer.Deliver(callCtx, n)
		cancel()
		if err == nil {
			eventbus.Publish(p.bus, eventbus.PlatformDelivered, ev)
			return
		}
		lastErr = err
		p.log.Debug("delivery failed", logx.String("id", n.ID()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	p.log.Warn("delivery gave up", logx.String("id", n.ID()), logx.Err(lastErr))
	ev.Error = lastErr.Error()
	eventbus.Publish(p.bus, eventbus.PlatformFailed, ev)
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

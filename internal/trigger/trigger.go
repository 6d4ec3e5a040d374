// Package trigger decides when reconciliation runs: on a cron or interval
// schedule, once at start, and whenever the platform reports a firing.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"lnsched/internal/eventbus"
	rtsup "lnsched/internal/runtime/supervisor"
	logx "lnsched/pkg/logx"
)

// ErrOverlapSkip is reported when a run is requested while one is in flight.
var ErrOverlapSkip = errors.New("reconcile already running")

const errorWarnThrottle = 5 * time.Second

type Config struct {
	// Spec is parsed by ParseSchedule. Empty disables the periodic schedule.
	Spec string
	// Timezone is an IANA name used for cron expressions. Empty means Local.
	Timezone string
	// OnFire reconciles after every platform.fired event.
	OnFire bool
	// Timeout bounds a single run. Zero means 30s.
	Timeout time.Duration
}

// Job is one reconciliation pass (typically reconcile followed by a queue save).
type Job func(ctx context.Context) error

type Snapshot struct {
	Spec      string    `json:"spec"`
	Timezone  string    `json:"timezone"`
	Running   bool      `json:"running"`
	Next      time.Time `json:"next,omitempty"`
	Prev      time.Time `json:"prev,omitempty"`
	Runs      uint64    `json:"runs"`
	Errors    uint64    `json:"errors"`
	Skipped   uint64    `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	job    Job
	parser cron.Parser

	c       *cron.Cron
	loc     *time.Location
	entry   cron.EntryID
	sup     *rtsup.Supervisor
	kick    chan struct{}
	unsub   func()
	running bool

	runMu   sync.Mutex
	timeout atomic.Int64 // time.Duration; read by runs without s.mu
	runs    atomic.Uint64
	errs    atomic.Uint64
	skipped atomic.Uint64
	lastRun atomic.Value // time.Time
	lastErr atomic.Value // string

	warnMu   sync.Mutex
	lastWarn time.Time
}

func New(cfg Config, job Job, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "trigger")),
		bus:    bus,
		job:    job,
		parser: newParser(),
	}
	s.timeout.Store(int64(cfg.Timeout))
	return s
}

// newParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Validate checks that cfg would start cleanly.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Spec) != "" {
		ps, err := ParseSchedule(cfg.Spec)
		if err != nil {
			return err
		}
		if _, err := newParser().Parse(ps.CronSpec()); err != nil {
			return fmt.Errorf("schedule %q: %w", cfg.Spec, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Start begins periodic and event-driven triggering and requests one
// immediate run.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.kick = make(chan struct{}, 1)
	if err := s.startCronLocked(); err != nil {
		s.sup.Cancel()
		s.sup = nil
		return err
	}

	kick := s.kick
	s.sup.GoRestart("trigger.kick", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case <-kick:
				_ = s.run(c, "kick", true)
			}
		}
	})

	if s.bus != nil && s.cfg.OnFire {
		events, unsub := s.bus.Subscribe(64)
		s.unsub = unsub
		s.sup.Go0("trigger.events", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if e.Type == eventbus.PlatformFired {
						s.Trigger()
					}
				}
			}
		})
	}
	s.running = true
	s.kickLocked()
	s.log.Info("trigger started", logx.String("spec", s.cfg.Spec), logx.String("tz", s.loc.String()), logx.Bool("on_fire", s.cfg.OnFire))
	return nil
}

func (s *Service) startCronLocked() error {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.entry = 0
	if spec := strings.TrimSpace(s.cfg.Spec); spec != "" {
		ps, err := ParseSchedule(spec)
		if err != nil {
			return err
		}
		sup := s.sup
		id, err := s.c.AddFunc(ps.CronSpec(), func() { _ = s.run(sup.Context(), "schedule", false) })
		if err != nil {
			return fmt.Errorf("schedule %q: %w", spec, err)
		}
		s.entry = id
	}
	s.c.Start()
	return nil
}

func (s *Service) stopCronLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

// Stop halts triggering and waits for an in-flight run, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopCronLocked(ctx)
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	err := sup.Stop(ctx)
	s.log.Info("trigger stopped")
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Apply swaps the config, restarting the cron when spec or timezone change.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	s.timeout.Store(int64(cfg.Timeout))
	if !s.running {
		return nil
	}
	if strings.TrimSpace(old.Spec) == strings.TrimSpace(cfg.Spec) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	s.stopCronLocked(context.Background())
	if err := s.startCronLocked(); err != nil {
		return err
	}
	s.log.Info("trigger restarted", logx.String("spec", cfg.Spec), logx.String("tz", s.loc.String()))
	return nil
}

// Trigger requests a run. Requests made while one is pending coalesce.
func (s *Service) Trigger() {
	s.mu.Lock()
	s.kickLocked()
	s.mu.Unlock()
}

func (s *Service) kickLocked() {
	if s.kick == nil {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RunNow runs the job synchronously unless a run is already in flight.
func (s *Service) RunNow(ctx context.Context) error {
	return s.run(ctx, "manual", false)
}

// run executes the job. With wait set it queues behind an in-flight run so
// firing-driven requests are never lost; otherwise it skips.
func (s *Service) run(ctx context.Context, reason string, wait bool) error {
	if s.job == nil {
		return nil
	}
	if wait {
		s.runMu.Lock()
	} else if !s.runMu.TryLock() {
		s.skipped.Add(1)
		s.log.Debug("trigger skipped", logx.String("reason", reason), logx.Err(ErrOverlapSkip))
		return ErrOverlapSkip
	}
	defer s.runMu.Unlock()

	timeout := time.Duration(s.timeout.Load())
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.job(rctx)
	s.runs.Add(1)
	s.lastRun.Store(start)
	if err != nil {
		s.errs.Add(1)
		s.lastErr.Store(err.Error())
		s.reportError(reason, err)
		return err
	}
	s.lastErr.Store("")
	s.log.Trace("reconcile run", logx.String("reason", reason), logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) reportError(reason string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	if !s.lastWarn.IsZero() && now.Sub(s.lastWarn) < errorWarnThrottle {
		s.warnMu.Unlock()
		s.log.Debug("reconcile run failed", logx.String("reason", reason), logx.Err(err))
		return
	}
	s.lastWarn = now
	s.warnMu.Unlock()
	s.log.Warn("reconcile run failed", logx.String("reason", reason), logx.Err(err))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Spec: s.cfg.Spec, Running: s.running}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	if s.c != nil && s.entry != 0 {
		e := s.c.Entry(s.entry)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	s.mu.Unlock()

	snap.Runs = s.runs.Load()
	snap.Errors = s.errs.Load()
	snap.Skipped = s.skipped.Load()
	if t, ok := s.lastRun.Load().(time.Time); ok {
		snap.LastRun = t
	}
	if e, ok := s.lastErr.Load().(string); ok {
		snap.LastError = e
	}
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

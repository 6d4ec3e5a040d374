// Package app wires configuration, storage, the delivery platform, the
// scheduler, its trigger and the control API into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lnsched/internal/config"
	"lnsched/internal/eventbus"
	"lnsched/internal/httpapi"
	"lnsched/internal/platform/local"
	rtsup "lnsched/internal/runtime/supervisor"
	"lnsched/internal/scheduler"
	"lnsched/internal/storage"
	"lnsched/internal/trigger"
	logx "lnsched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	platform *local.Platform
	sched    *scheduler.Scheduler
	trig     *trigger.Service
	http     *httpapi.Server

	saveOnReconcile atomic.Bool
	pprof           bool
}

type Option func(*options)

type options struct {
	deliverer local.Deliverer
	schedOpts []scheduler.Option
}

// WithDeliverer replaces the log-only deliverer of the local platform.
func WithDeliverer(d local.Deliverer) Option {
	return func(o *options) { o.deliverer = d }
}

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.schedOpts = append(o.schedOpts, opts...) }
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := ValidateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, root)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	pc, _ := mapPlatformConfig(cfg)
	pf := local.New(pc, o.deliverer, root, bus, store)

	sched, err := scheduler.New(context.Background(), scheduler.Config{Capacity: cfg.Scheduler.Capacity}, pf, store, root, bus, o.schedOpts...)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fail(err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		platform: pf,
		sched:    sched,
		pprof:    cfg.HTTP.Pprof,
	}
	a.saveOnReconcile.Store(cfg.Scheduler.SaveOnReconcile)

	tc, _ := mapTriggerConfig(cfg)
	a.trig = trigger.New(tc, a.reconcileJob, root, bus)

	hc, _ := mapHTTPConfig(cfg)
	a.http = httpapi.NewServer(hc, httpapi.NewRouter(httpapi.Deps{
		Scheduler: sched,
		Trigger:   a.trig,
		Log:       root.With(logx.String("comp", "http")),
		Pprof:     cfg.HTTP.Pprof,
	}), root)

	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Trigger() *trigger.Service       { return a.trig }
func (a *App) Bus() eventbus.Bus               { return a.bus }

// HTTPAddr is the API listen address, empty when the API is not serving.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// reconcileJob is what the trigger runs.
func (a *App) reconcileJob(ctx context.Context) error {
	rep, err := a.sched.Reconcile(ctx)
	if err != nil {
		return err
	}
	if a.saveOnReconcile.Load() && (rep.Fired > 0 || rep.Adopted > 0 || rep.Admitted > 0 || rep.Regenerated > 0) {
		if err := a.sched.SaveQueue(ctx); err != nil && !errors.Is(err, storage.ErrDisabled) {
			return err
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(ValidateConfig)

	if err := a.platform.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start platform: %w", err)
	}
	// Adopt restored entries before their timers run, or overdue ones would
	// fire unseen and their series would end.
	if _, err := a.sched.Reconcile(a.sup.Context()); err != nil {
		a.log.Warn("initial reconcile failed", logx.Err(err))
	}
	a.platform.Release()
	if err := a.trig.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start trigger: %w", err)
	}
	a.http.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type)}
				if ne, ok := e.Data.(eventbus.NotificationEvent); ok {
					fields = append(fields, logx.String("id", ne.ID), logx.Time("fire_date", ne.FireDate))
				}
				a.log.Trace("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("capacity", a.sched.Capacity()))
	return nil
}

// applyConfig pushes a validated config into the running components.
// Storage, capacities and pprof are fixed for the process lifetime.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("log file unavailable; console only", logx.Err(err))
	}
	a.saveOnReconcile.Store(newCfg.Scheduler.SaveOnReconcile)

	if tc, err := mapTriggerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous trigger", logx.Err(err))
	} else if err := a.trig.Apply(tc); err != nil {
		a.log.Warn("trigger apply failed", logx.Err(err))
	}

	if pc, err := mapPlatformConfig(newCfg); err != nil {
		a.log.Warn("invalid platform config; keeping previous", logx.Err(err))
	} else {
		a.platform.Apply(pc)
	}

	if hc, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if oldCfg != nil {
		if oldCfg.Scheduler.Capacity != newCfg.Scheduler.Capacity || oldCfg.Platform.Capacity != newCfg.Platform.Capacity {
			a.log.Warn("capacity changed; restart required for changes to take effect")
		}
	}
	if newCfg.HTTP.Pprof != a.pprof {
		a.log.Warn("http.pprof changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in dependency order: triggers and the API first, then a
// final reconcile and queue save, then the platform and storage.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), time.Millisecond))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("trigger", 3*time.Second, a.trig.Stop)
	step("http", 2*time.Second, a.http.Stop)
	step("reconcile", 5*time.Second, func(c context.Context) error {
		_, err := a.sched.Reconcile(c)
		return err
	})
	step("queue.save", 2*time.Second, func(c context.Context) error {
		if err := a.sched.SaveQueue(c); err != nil && !errors.Is(err, storage.ErrDisabled) {
			return err
		}
		return nil
	})
	step("platform", 3*time.Second, a.platform.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

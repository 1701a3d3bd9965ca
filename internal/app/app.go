package app

import (
	"context"
	"fmt"
	"time"

	"penwatch/internal/config"
	"penwatch/internal/expiry"
	"penwatch/internal/httpapi"
	"penwatch/internal/push"
	"penwatch/internal/runtime/supervisor"
	"penwatch/internal/scheduler"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

// expiryJob is the scheduler entry name for the daily check. AddDaily
// upserts by name, so hot-reloads replace the trigger in place.
const expiryJob = "pension-expiry-check"

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	st    store.Store
	exp   *expiry.Service
	sched *scheduler.Service
	api   *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	pc, err := mapPushConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	sender, err := push.NewFCM(pc, log.With(logx.String("comp", "push")))
	if err != nil {
		st.Close()
		return nil, err
	}

	ec, err := mapExpiryConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	expSvc := expiry.New(ec, st, sender, log.With(logx.String("comp", "expiry")))

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  ec.Enabled,
		Workers:  1,
		Timezone: ec.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	var api *httpapi.Server
	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		h := httpapi.NewHandler(st, expSvc, log.With(logx.String("comp", "http")))
		api = httpapi.NewServer(cfg.HTTP.Addr, h, log.With(logx.String("comp", "http")))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		exp:     expSvc,
		sched:   schedSvc,
		api:     api,
	}, nil
}

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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapExpiryConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPushConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.exp.Enabled() {
		a.sched.Start(a.sup.Context())
		if err := a.registerExpiryJob(); err != nil {
			return err
		}
	}

	if a.api != nil {
		a.sup.Go("http.serve", a.api.Run)
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Storage, push and the HTTP listener bind resources at startup.
	old := a.exp.Config()
	ec, err := mapExpiryConfig(cfg)
	if err != nil {
		a.log.Warn("invalid expiry config; keeping previous", logx.Err(err))
		a.log.Info("config reloaded")
		return
	}
	a.exp.Apply(ec)
	a.sched.Apply(scheduler.Config{
		Enabled:  ec.Enabled,
		Workers:  1,
		Timezone: ec.Timezone,
	})

	switch {
	case old.Enabled && !ec.Enabled:
		a.log.Info("expiry check disabled via config")
		a.sched.Remove(expiryJob)
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !old.Enabled && ec.Enabled:
		a.log.Info("expiry check enabled via config")
		a.sched.Start(ctx)
		if err := a.registerExpiryJob(); err != nil {
			a.log.Warn("expiry job registration failed", logx.Err(err))
		}
	case ec.Enabled && (old.SendTime != ec.SendTime || old.Timezone != ec.Timezone):
		a.log.Info("expiry schedule changed",
			logx.String("send_time", ec.SendTime), logx.String("timezone", ec.Timezone))
		if err := a.registerExpiryJob(); err != nil {
			a.log.Warn("expiry job registration failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) registerExpiryJob() error {
	cfg := a.exp.Config()
	return a.sched.AddDaily(expiryJob, cfg.SendTime, cfg.RunTimeout, a.exp.RunJob)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 1*time.Second, func(context.Context) error { return a.st.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

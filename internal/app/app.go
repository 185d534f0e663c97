package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dyncron/internal/action"
	"dyncron/internal/clock"
	"dyncron/internal/config"
	"dyncron/internal/entity"
	"dyncron/internal/eventbus"
	"dyncron/internal/observability/pprof"
	"dyncron/internal/prefs"
	"dyncron/internal/runtime/supervisor"
	"dyncron/internal/schedule"
	"dyncron/internal/storage"
	logx "dyncron/pkg/logx"
	"dyncron/pkg/systemdmanager"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrUnknownEntity is returned by Write for an object id no schedule owns.
var ErrUnknownEntity = errors.New("unknown entity")

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	boot  string
	store storage.Store
	clk   *clock.Clock
	cron  *cron.Cron
	unitd *systemdmanager.Manager
	debug *pprof.Service

	tick      time.Duration
	control   *config.ControlFile
	statePath string
	notify    func(state string) (bool, error)

	// mu serializes ticks, entity writes and flushes; schedules are not
	// safe for concurrent use.
	mu        sync.Mutex
	units     []*unit
	anomalies uint64
}

// unit is one configured schedule with its action and entities.
type unit struct {
	sched  *schedule.Schedule
	action schedule.Action
	bridge *entity.Bridge
	fires  uint64
}

type Option func(*options)

type options struct {
	build  int64
	src    clock.Source
	uptime func() time.Duration
	notify func(state string) (bool, error)
}

// WithBuildEpoch sets the firmware build timestamp (unix seconds) the clock
// falls back to before a trusted time source is available.
func WithBuildEpoch(epoch int64) Option {
	return func(o *options) { o.build = epoch }
}

// WithClockSource replaces the host clock.
func WithClockSource(src clock.Source) Option {
	return func(o *options) { o.src = src }
}

// WithUptime replaces the monotonic uptime counter used by the fallback clock.
func WithUptime(fn func() time.Duration) Option {
	return func(o *options) { o.uptime = fn }
}

// WithNotify replaces the service manager notification (sd_notify by default).
func WithNotify(fn func(state string) (bool, error)) Option {
	return func(o *options) { o.notify = fn }
}

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{notify: sdNotify}
	for _, opt := range opts {
		opt(&o)
	}
	if o.build <= 0 {
		o.build = clock.DefaultValidAfter.Unix()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	tick, err := cfg.Device.TickIntervalOrDefault()
	if err != nil {
		return nil, err
	}
	storeTimeout, err := cfg.Device.StorageTimeoutOrDefault()
	if err != nil {
		return nil, err
	}
	validAfter, err := cfg.Device.ClockValidAfterOrZero()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc := mapDebugConfig(cfg.Debug)
	if err := dc.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	boot := uuid.NewString()
	bus := eventbus.WithBoot(eventbus.New(), boot)

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	src := o.src
	if src == nil {
		src = clock.System{ValidAfter: validAfter}
	}
	clkOpts := []clock.Option{clock.WithLogger(log.With(logx.String("comp", "clock")))}
	if o.uptime != nil {
		clkOpts = append(clkOpts, clock.WithUptime(o.uptime))
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		boot:      boot,
		store:     store,
		clk:       clock.New(o.build, src, clkOpts...),
		tick:      tick,
		unitd:     systemdmanager.New(),
		statePath: strings.TrimSpace(cfg.Control.StatePath),
		notify:    o.notify,
	}
	if p := strings.TrimSpace(cfg.Control.Path); p != "" {
		a.control = config.NewControlFile(p)
	}
	a.debug = pprof.New(dc, http.HandlerFunc(a.serveStatus), log.With(logx.String("comp", "debug")))

	p := prefs.New(store)
	for _, s := range cfg.Schedules {
		act, err := action.Build(s.ID, s.Action, log, action.WithUnits(a.unitd))
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, err
		}
		u := &unit{action: act}
		u.sched = schedule.New(defaultsFor(s, o.build), p, a.clk, act,
			schedule.WithLogger(log),
			schedule.WithStoreTimeout(storeTimeout))
		u.bridge = entity.Build(u.sched, entity.PublisherFunc(a.publishEntity))
		a.units = append(a.units, u)
	}

	log.Info("app configured",
		logx.Int("schedules", len(a.units)),
		logx.Duration("tick", tick),
		logx.Epoch("build", o.build),
		logx.String("boot", boot))
	return a, nil
}

// defaultsFor maps one schedule section. With clear_prefs and no explicit
// generation the build epoch stands in, so every new build clears once.
func defaultsFor(s config.ScheduleConfig, build int64) schedule.Defaults {
	gen := s.Generation
	if s.ClearPrefs && gen == 0 {
		gen = uint64(build)
	}
	return schedule.Defaults{
		Name:         s.Name,
		ID:           s.ID,
		Crontab:      strings.TrimSpace(s.Crontab),
		Bypass:       s.Bypass,
		IgnoreMissed: s.IgnoreMissed,
		ClearPrefs:   s.ClearPrefs,
		Generation:   gen,
	}
}

func mapDebugConfig(c config.DebugConfig) pprof.Config {
	return pprof.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Prefix:        c.Prefix,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
	}
}

func mapLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

// Bus returns the event bus entity states and fires are published on.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Boot returns the id of this process run.
func (a *App) Boot() string { return a.boot }

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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if err := mapDebugConfig(cfg.Debug).Validate(); err != nil {
			return err
		}
		for _, s := range cfg.Schedules {
			if _, err := action.Build(s.ID, s.Action, logx.Nop()); err != nil {
				return err
			}
		}
		return nil
	})

	// Sinks subscribe before the first tick so its publications are seen.
	a.startEventLog()
	if a.statePath != "" {
		a.startStateSink()
	}

	// The first tick loads every stored record.
	a.Tick(run)

	if a.control != nil {
		if err := a.control.Baseline(); err != nil {
			a.log.Warn("control file unreadable; edits apply once it parses",
				logx.String("path", a.control.Path()), logx.Err(err))
		}
		a.sup.Go("control.watch", func(c context.Context) error {
			return config.WatchFile(c, a.control.Path(), a.log.With(logx.String("comp", "control")), a.applyControl)
		})
	}

	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	a.cron = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	a.cron.Schedule(cron.Every(a.tick), cron.FuncJob(func() { a.Tick(run) }))
	if wd, err := daemon.SdWatchdogEnabled(false); err != nil {
		a.log.Warn("watchdog settings invalid", logx.Err(err))
	} else if wd > 0 {
		a.cron.Schedule(cron.Every(wd/2), cron.FuncJob(func() { a.sdNotify(daemon.SdNotifyWatchdog) }))
		a.log.Info("watchdog enabled", logx.Duration("interval", wd))
	}
	a.cron.Start()

	if a.debug.Enabled() {
		a.sup.GoRestart("debug.http", a.debug.Serve, 500*time.Millisecond, 10*time.Second)
	}

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) sdNotify(state string) {
	if a.notify == nil {
		return
	}
	if _, err := a.notify(state); err != nil {
		a.log.Debug("service manager notify failed", logx.String("state", state), logx.Err(err))
	}
}

func (a *App) startEventLog() {
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
				// Keep this debug-level; entity states change every fire.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) startConfigReload() {
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
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig applies the hot sections of a reloaded config. Everything else
// is logged and takes effect after a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, scheds := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(newCfg.Logging))

	var cold []string
	for _, s := range sections {
		if !config.HotSections[s] {
			cold = append(cold, s)
		}
	}
	if len(cold) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(cold, ",")), logx.Any("schedules", scheds))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
}

// Stop shuts the app down. Every step is bounded so one stuck component
// cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "cron", 2*time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "schedules", 2*time.Second, a.Flush)
	a.step(ctx, "actions", 3*time.Second, a.waitActions)
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.unitd.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (watchers, sinks).
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound, never extending the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

// waitActions waits for detached action work (exec children) to finish.
func (a *App) waitActions(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, u := range a.units {
		if w, ok := u.action.(interface{ Wait() }); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Wait()
			}()
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"dayong/internal/client"
	"dayong/internal/config"
	"dayong/internal/eventbus"
	"dayong/internal/observability/diag"
	"dayong/internal/runtime/supervisor"
	"dayong/internal/storage"
	"dayong/internal/task/delayed"
	"dayong/internal/task/trigger"
	logx "dayong/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store  storage.RowStore
	client client.Client

	reg      *delayed.Registry
	triggers *trigger.Service
	diag     *diag.Server

	mu       sync.Mutex
	oneShots map[string]bool
}

// Status is a point-in-time view of the host for diagnostics.
type Status struct {
	Tasks      delayed.Snapshot   `json:"tasks"`
	Triggers   []trigger.Info     `json:"triggers"`
	Goroutines []supervisor.Stats `json:"goroutines,omitempty"`
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewConfigManager(cfgPath, bootLog)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()

	sc, storeOn, err := mapStorageConfig(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	var store storage.RowStore
	if storeOn {
		store, err = storage.Open(sc, log)
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	} else {
		log.Info("storage disabled")
	}

	cc, clientOn, err := mapClientConfig(cfg)
	if err != nil {
		closeStore(store, log)
		logs.Close()
		return nil, err
	}
	var cl client.Client
	if clientOn {
		hc, err := client.NewHTTP(cc, log)
		if err != nil {
			closeStore(store, log)
			logs.Close()
			return nil, fmt.Errorf("content client: %w", err)
		}
		cl = hc
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      bus,
		store:    store,
		client:   cl,
		oneShots: map[string]bool{},
	}

	rc := mapRegistryConfig(cfg)
	rc.OnError = func(name string, err error) {
		a.log.Debug("task error reported", logx.String("task", name), logx.Err(err))
	}
	a.reg = delayed.New(rc, log, bus)
	a.triggers = trigger.New(mapTriggerConfig(cfg), a.reg, log, bus)
	if dc, ok := mapDiagConfig(cfg); ok {
		a.diag = diag.New(dc, func() any { return a.Status() }, log)
	}

	return a, nil
}

// Registry returns the delayed-task registry.
func (a *App) Registry() *delayed.Registry { return a.reg }

// Triggers returns the recurring trigger service.
func (a *App) Triggers() *trigger.Service { return a.triggers }

// Bus returns the event bus carrying task and trigger events.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Store returns the row store, or nil when storage is disabled.
func (a *App) Store() storage.RowStore { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Status() Status {
	st := Status{Tasks: a.reg.Snapshot(), Triggers: a.triggers.Entries()}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.store != nil {
		if err := a.store.CreateTable(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Subscribe before anything can publish so no lifecycle event is missed.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		a.logEvents(c, events)
		return nil
	})

	if err := a.syncJobs(a.cfgm.Get()); err != nil {
		return err
	}
	a.triggers.Start(a.sup.Context())

	updates, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsubCfg()
		a.reloadLoop(c, updates)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 500*time.Millisecond, 10*time.Second)
	if a.diag != nil {
		a.sup.GoRestart("diag.serve", a.diag.Serve, 500*time.Millisecond, 10*time.Second)
	}

	a.log.Info("started",
		logx.Int("triggers", len(a.triggers.Names())),
		logx.Int("tasks", a.reg.Len()),
		logx.Bool("storage", a.store != nil),
		logx.Bool("client", a.client != nil),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Debug only: the registry and triggers already log outcomes.
			if !a.log.Enabled(logx.LevelDebug) {
				continue
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
			if te, ok := e.Data.(delayed.TaskEvent); ok {
				fields = append(fields, logx.String("task", te.Name), logx.String("state", te.State))
			}
			a.log.Debug("event", fields...)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer, ok := <-updates:
					if !ok {
						return
					}
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

// apply hot-reloads what can change at runtime. Storage, client,
// diagnostics and history size are fixed for the life of the process.
func (a *App) apply(old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, sec := range []string{"storage", "client", "diagnostics"} {
		if slices.Contains(sections, sec) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", sec))
		}
	}
	if old != nil && old.Tasks.HistorySize != cfg.Tasks.HistorySize {
		a.log.Warn("tasks.history_size changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.triggers.Apply(mapTriggerConfig(cfg))
	if err := a.syncJobs(cfg); err != nil {
		a.log.Warn("job sync failed", logx.Err(err))
	}
}

// Stop shuts the host down: triggers first so no new runs are scheduled,
// then the registry, the supervised goroutines and finally the store.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	a.step(ctx, "triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	errs = append(errs, a.step(ctx, "registry", stopTimeout(a.cfgm.Get()), a.reg.Stop))
	errs = append(errs, a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop))

	a.log.Info("stopped")
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
	return err
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is left behind and logged when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

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
		} else {
			err = nil
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}

func closeStore(s storage.RowStore, log logx.Logger) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		log.Warn("storage close failed", logx.Err(err))
	}
}

// Migrate loads the config at cfgPath and creates the storage schema.
func Migrate(ctx context.Context, cfgPath string) error {
	log := logx.NewConsole("INFO")
	cfg, err := config.NewConfigManager(cfgPath, log).Load(ctx)
	if err != nil {
		return err
	}
	sc, ok, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrDisabled
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return err
	}
	defer closeStore(store, log)
	if err := store.CreateTable(ctx); err != nil {
		return err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))
	return nil
}

// CheckConfig loads and validates the config at cfgPath without building
// any component.
func CheckConfig(ctx context.Context, cfgPath string) (*config.Config, error) {
	cfgm := config.NewConfigManager(cfgPath, logx.Nop())
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	return cfgm.Load(ctx)
}

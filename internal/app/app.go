// Package app wires configuration, transport, moderation and the side
// services into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"linkguard/internal/config"
	"linkguard/internal/eventbus"
	"linkguard/internal/moderation"
	"linkguard/internal/observability/pprof"
	"linkguard/internal/pairing"
	"linkguard/internal/report"
	"linkguard/internal/router"
	rtsup "linkguard/internal/runtime/supervisor"
	"linkguard/internal/storage"
	kit "linkguard/internal/transport"
	"linkguard/internal/transport/console"
	telegram "linkguard/internal/transport/telegram/adapter"
	logx "linkguard/pkg/logx"
)

type Option func(*options)

type options struct {
	in  io.Reader
	out io.Writer
}

// WithConsoleIO sets the streams used by transport.kind=console.
// Defaults are stdin and stdout.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

type transport interface {
	kit.Adapter
	kit.Moderation
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	kind    string
	adapter transport

	moderator *moderation.Moderator
	router    *router.Router
	reporter  *report.Reporter
	pairing   *pairing.Service
	pairSrv   *pairing.Server
	pprof     *pprof.Service

	mu          sync.Mutex
	pairedOwner int64

	stopReason StopReason
	updates    chan kit.Update
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	kind := cfg.TransportKind()
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", kind))

	var ad transport
	switch kind {
	case "console":
		ad = console.New(o.in, o.out, bootLog)
	default:
		pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		cacheTTL, err := config.Duration("telegram.admin_cache_ttl", cfg.Telegram.AdminCacheTTL, 2*time.Minute)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:         cfg.Telegram.Token,
			PollTimeout:   pollTimeout,
			AdminCacheTTL: cacheTTL,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	// Bring logging up with the chat sink off, point it at the log group,
	// then apply the real config so Apply never warns about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(groupLogChat(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	modCfg := mapModerationConfig(cfg)
	ledger := moderation.NewLedger(modCfg.WarnLimit)
	var audit moderation.Auditor
	if store != nil {
		audit = store
	}
	mod, err := moderation.New(modCfg, ad, ledger, log.With(logx.String("comp", "moderation")), bus, audit)
	if err != nil {
		_ = closeStore(store)
		return nil, err
	}

	rt := router.New(ad, bus, log.With(logx.String("comp", "router")), router.Options{})
	rep := report.New(ad, log.With(logx.String("comp", "report")))

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		kind:      kind,
		adapter:   ad,
		moderator: mod,
		router:    rt,
		reporter:  rep,
		updates:   make(chan kit.Update, 256),
	}

	if cfg.Pairing.Enabled {
		pairer, _ := any(ad).(kit.Pairer)
		var settings pairing.SettingStore
		if store != nil {
			settings = store
		}
		a.pairing = pairing.New(pairing.Config{LinkBase: cfg.Pairing.LinkBase}, pairer, settings, bus, log.With(logx.String("comp", "pairing")))
		addr := strings.TrimSpace(cfg.Pairing.Addr)
		if addr == "" {
			addr = pairing.DefaultAddr
		}
		a.pairSrv = pairing.NewServer(addr, a.pairing, log.With(logx.String("comp", "pairing.http")))
	}

	if pc := cfg.Debug.Pprof; pc.Enabled {
		a.pprof = pprof.New(pprof.Config{
			Addr:                 pc.Addr,
			Token:                pc.Token,
			AllowInsecure:        pc.AllowInsecure,
			MutexProfileFraction: pc.MutexProfileFraction,
			BlockProfileRate:     pc.BlockProfileRate,
		}, log.With(logx.String("comp", "pprof")))
	}

	rt.Register(
		startCommand(a.pairing, a.onPaired),
		modstatsCommand(rep),
		auditCommand(store),
	)
	a.applyModerationSwitch(cfg)
	a.refreshOwners(cfg)
	return a, nil
}

func closeStore(st storage.Store) error {
	if st == nil {
		return nil
	}
	return st.Close()
}

// Done is closed when the app supervisor context is canceled (fatal error,
// closed console input or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StopReason reports why the app ended on its own, if it did.
func (a *App) StopReason() StopReason {
	if a.Err() != nil {
		return StopFatalError
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopReason == "" {
		return StopUnknown
	}
	return a.stopReason
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapReportConfig(cfg); err != nil {
			return err
		}
		_, err := moderation.NewPolicy(cfg.Moderation.TrustedDomain)
		return err
	})

	a.router.OnLifecycle(a.onLifecycle)

	if rc, err := mapReportConfig(a.cfgm.Get()); err != nil {
		return err
	} else if err := a.reporter.Apply(rc); err != nil {
		return err
	}

	if err := a.adapter.Start(c, a.updates); err != nil {
		return fmt.Errorf("start %s transport: %w", a.kind, err)
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("report.collect", func(c context.Context) error {
		return a.reporter.Run(c, a.bus)
	})

	if a.pairSrv != nil {
		// A busy pairing port must not take moderation down with it.
		a.sup.GoRestart("pairing.http", a.pairSrv.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithMaxRestarts(10),
		)
		if err := a.preparePairing(c); err != nil {
			return err
		}
	}

	if a.pprof != nil {
		// Not fatal: a broken debug listener gives up after a few tries.
		a.sup.GoRestart("pprof.http", a.pprof.Run,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithMaxRestarts(5),
		)
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	cfgs, stopCfgs := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer stopCfgs()
		a.reloadLoop(c, cfgs)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("transport", a.kind))
	return nil
}

func (a *App) preparePairing(ctx context.Context) error {
	needed, err := a.pairing.Prepare(ctx)
	if err != nil {
		return err
	}
	if !needed {
		if owner, ok := a.pairing.Owner(); ok {
			a.onPaired(owner)
		}
		return nil
	}
	a.log.Info("pairing required; open the pairing page and scan the QR code", logx.String("link", a.pairing.Link()))
	up := kit.Update{Kind: kit.UpdateLifecycle, Lifecycle: &kit.Lifecycle{State: kit.LifecyclePairingRequired, Detail: a.pairing.Link()}}
	select {
	case a.updates <- up:
	case <-ctx.Done():
	}
	return nil
}

func (a *App) onPaired(userID int64) {
	a.mu.Lock()
	a.pairedOwner = userID
	a.mu.Unlock()
	a.refreshOwners(a.cfgm.Get())
	a.log.Info("owner paired", logx.Int64("user_id", userID))
}

func (a *App) onLifecycle(l kit.Lifecycle) {
	switch l.State {
	case kit.LifecycleAuthFailure:
		a.end(StopFatalError)
	case kit.LifecycleDisconnected:
		// Console input is finite; its end is the end of the session.
		if a.kind == "console" {
			a.end(StopInputClosed)
		}
	}
}

func (a *App) end(reason StopReason) {
	a.mu.Lock()
	if a.stopReason == "" {
		a.stopReason = reason
	}
	a.mu.Unlock()
	if a.sup != nil {
		a.sup.Cancel()
	}
}

// refreshOwners merges configured owners with the paired owner and pushes
// the result to commands and digests.
func (a *App) refreshOwners(cfg *config.Config) {
	a.mu.Lock()
	paired := a.pairedOwner
	a.mu.Unlock()

	owners := append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	if paired != 0 {
		owners = append(owners, paired)
	}
	a.router.SetOwners(owners...)
	a.reporter.SetTargets(reportTargets(a.router.Owners(), groupLogChat(cfg), cfg.Logging.Telegram.ThreadID))
}

func (a *App) applyModerationSwitch(cfg *config.Config) {
	if cfg.ModerationEnabled() {
		a.router.SetModerator(a.moderator)
		return
	}
	a.router.SetModerator(nil)
	a.log.Warn("link moderation is disabled by config")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return closeStore(a.store)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("report", time.Second, func(context.Context) error { a.reporter.Stop(); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return closeStore(a.store) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

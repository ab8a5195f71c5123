// Package supervisor runs the bot's long-lived goroutines under one context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "linkguard/pkg/logx"
)

// Supervisor owns a context and every goroutine started through it.
// Panics become errors. The first error is kept and, with
// WithCancelOnError, cancels the rest.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu      sync.Mutex
	err     error
	running map[string]int
	wg      sync.WaitGroup
	idle    chan struct{} // closed once wg drains, created lazily by Wait
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first error cancel the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, running: map[string]int{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }
func (s *Supervisor) Done() <-chan struct{}    { return s.ctx.Done() }
func (s *Supervisor) Cancel()                  { s.cancel() }

// Err returns the first recorded error.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Running lists the goroutines that have not returned yet, sorted by name.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for name, n := range s.running {
		for i := 0; i < n; i++ {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) track(name string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] += delta
	if s.running[name] <= 0 {
		delete(s.running, name)
	}
}

func (s *Supervisor) call(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) spawn(name string, body func(ctx context.Context)) {
	s.track(name, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, -1)
		s.log.Debug("goroutine started", logx.String("name", name))
		body(s.ctx)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go runs fn once. An error other than context.Canceled, or a panic, is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) {
		if err := s.call(ctx, name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	})
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // 0 is unlimited
	fatal       bool
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithFatalOnFinalError records the last error as the supervisor error when
// the restart budget runs out.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatal = enabled }
}

// healthyRun resets the backoff when a run lasted at least this long.
const healthyRun = 30 * time.Second

// GoRestart runs fn and reruns it after an error or panic. A nil return or
// a canceled context ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.spawn(name, func(ctx context.Context) {
		delay := p.min
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.call(ctx, name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				if p.fatal {
					s.fail(fmt.Errorf("%s: %w", name, err))
				}
				return
			}
			if time.Since(began) >= healthyRun {
				delay = p.min
			}
			wait := jitter(delay)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return
			}
			delay = min(delay*2, p.max)
		}
	})
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	return d + rand.N(d/5+1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends. On timeout the
// names of the stragglers are logged.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.idle == nil {
		s.idle = make(chan struct{})
		go func(idle chan struct{}) {
			s.wg.Wait()
			close(idle)
		}(s.idle)
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return s.Err()
	case <-ctx.Done():
		s.log.Warn("goroutines still running", logx.Any("names", s.Running()))
		return ctx.Err()
	}
}

package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	logx "linkguard/pkg/logx"
)

// HandlerFunc runs one command.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost layer.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error so the worker survives.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if p := recover(); p != nil {
				req.Logger.Error("command panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("command %s panicked: %v", req.Command, p)
			}
		}()
		return next(ctx, req)
	}
}

// logOutcome reports failures at WARN and anything slower than slow at INFO.
func logOutcome(slow time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			switch {
			case err != nil:
				req.Logger.Warn("command failed", logx.Duration("dur", took), logx.Err(err))
			case took >= slow:
				req.Logger.Info("command slow", logx.Duration("dur", took))
			default:
				req.Logger.Debug("command ok", logx.Duration("dur", took))
			}
			return err
		}
	}
}

// throttle drops commands from senders over their rate. Owners are exempt.
// Idle limiters age out of the cache.
type throttle struct {
	every rate.Limit
	burst int
	users *expirable.LRU[int64, *rate.Limiter]
}

func newThrottle(perSec float64, burst int) *throttle {
	return &throttle{
		every: rate.Limit(perSec),
		burst: burst,
		users: expirable.NewLRU[int64, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

func (t *throttle) allow(userID int64) bool {
	lim, ok := t.users.Get(userID)
	if !ok {
		lim = rate.NewLimiter(t.every, t.burst)
		t.users.Add(userID, lim)
	}
	return lim.Allow()
}

func (t *throttle) middleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if !req.IsOwner && !t.allow(req.FromID) {
			req.Logger.Debug("command throttled")
			return nil
		}
		return next(ctx, req)
	}
}

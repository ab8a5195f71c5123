// Package pprof serves net/http/pprof on a separate, optionally token
// protected listener.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "linkguard/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// ErrInsecureBind is returned by Run for a non-loopback address without a
// token unless AllowInsecure is set.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires token or allow_insecure")

// Config controls the debug server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	cfg  Config
	log  logx.Logger
	echo *echo.Echo
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	cfg.Token = strings.TrimSpace(cfg.Token)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	g := e.Group("", tokenAuth(cfg.Token))
	g.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	g.GET("/debug/pprof", func(c echo.Context) error {
		return c.Redirect(http.StatusPermanentRedirect, "/debug/pprof/")
	})
	g.GET("/debug/pprof/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/debug/pprof/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/debug/pprof/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/debug/pprof/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/debug/pprof/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	g.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))

	return &Service{cfg: cfg, log: log, echo: e}
}

func (s *Service) Handler() http.Handler { return s.echo }

// tokenAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func tokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		want := []byte(token)
		return func(c echo.Context) error {
			got := c.QueryParam("token")
			if got == "" {
				if ah := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

// Run applies the profiling rates and serves until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Error("pprof refused to start", logx.String("addr", s.cfg.Addr))
		return ErrInsecureBind
	}
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}
	applyRuntimeRates(s.cfg)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("pprof started", logx.String("addr", s.cfg.Addr), logx.Bool("token_set", s.cfg.Token != ""))
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = s.echo.Shutdown(sctx)
	<-errCh
	s.log.Info("pprof stopped")
	return nil
}

func applyRuntimeRates(cfg Config) {
	// 0 keeps the Go default.
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

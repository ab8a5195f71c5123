package pairing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "linkguard/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

const homePage = `<h1>Welcome to linkguard</h1><p>Scan the QR code: <a href="/qr">Click Here</a></p>`

// Server is the HTTP side channel that hands out the pairing QR code.
type Server struct {
	addr string
	svc  *Service
	log  logx.Logger
	echo *echo.Echo
}

func NewServer(addr string, svc *Service, log logx.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{addr: addr, svc: svc, log: log}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		log.Warn("http request error", logx.Int("status", code), logx.String("path", c.Path()), logx.Err(err))
		if !c.Response().Committed {
			_ = c.String(code, http.StatusText(code))
		}
	}

	e.GET("/", s.handleHome)
	e.GET("/qr", s.handleQR)
	e.GET("/healthz", s.handleHealth)
	s.echo = e
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHome(c echo.Context) error {
	return c.HTML(http.StatusOK, homePage)
}

func (s *Server) handleQR(c echo.Context) error {
	png, ok := s.svc.Artifact()
	if !ok {
		return c.String(http.StatusNotFound, "QR code not generated yet, please wait.")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("pairing server listening", logx.String("addr", s.addr))
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		s.log.Warn("pairing server shutdown", logx.Err(err))
	}
	<-errCh
	return nil
}

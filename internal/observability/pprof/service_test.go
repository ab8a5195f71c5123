package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "linkguard/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, logx.Nop()).Handler()

	do := func(path, bearer string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/debug/pprof/", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", code)
	}
	if code := do("/debug/pprof/?token=wrong", ""); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", code)
	}
	if code := do("/debug/pprof/?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("query token: got %d", code)
	}
	if code := do("/healthz", "s3cret"); code != http.StatusOK {
		t.Fatalf("bearer token: got %d", code)
	}
	if code := do("/debug/pprof/cmdline", "s3cret"); code != http.StatusOK {
		t.Fatalf("cmdline: got %d", code)
	}
}

func TestNoTokenIsOpen(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(Config{}, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	err := New(Config{Addr: "0.0.0.0:0"}, logx.Nop()).Run(context.Background())
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("got %v, want ErrInsecureBind", err)
	}
}

package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	kit "linkguard/internal/transport"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("hello", Int("n", 2), Err(errors.New("boom")), Err(nil))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %s", out)
	}
	for _, want := range []string{`"comp":"test"`, `"n":2`, `"err":"boom"`, `"message":"hello"`, `"caller":"logx_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	x := base.With(String("x", "1"))
	_ = base.With(String("y", "1"))
	x.Info("m")
	if strings.Contains(buf.String(), `"y"`) {
		t.Fatalf("sibling field leaked: %s", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero mismatch")
	}
	l.Error("nothing happens")
}

type recordSender struct {
	mu   sync.Mutex
	sent []kit.ChatTarget
	text []string
}

func (r *recordSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to)
	r.text = append(r.text, text)
	return kit.MessageRef{}, nil
}

func (r *recordSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.text)
}

func TestChatSinkMirrorsWarnings(t *testing.T) {
	rec := &recordSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, RatePerSec: 10}}, rec)
	defer svc.Close()

	log.Warn("dropped before target")
	svc.SetChatTarget(-100, 3)
	log.Info("below floor")
	log.Warn("rights missing", String("chat", "g"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.text) != 1 {
		t.Fatalf("sent %d lines: %q", len(rec.text), rec.text)
	}
	if rec.sent[0] != (kit.ChatTarget{ChatID: -100, ThreadID: 3}) {
		t.Fatalf("target = %+v", rec.sent[0])
	}
	if !strings.Contains(rec.text[0], "rights missing") || !strings.Contains(rec.text[0], "chat=g") {
		t.Fatalf("line = %q", rec.text[0])
	}
}

func TestRenderChatLineTruncates(t *testing.T) {
	got := renderChatLine([]byte(`{"level":"warn","message":"` + strings.Repeat("x", 5000) + `"}`))
	if len(got) != chatMaxLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("len = %d", len(got))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// 3-byte runes: a 10-byte cap leaves room for two of them before "...".
	got := truncate(strings.Repeat("€", 10), 10)
	if got != "€€..." {
		t.Fatalf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8: %q", got)
	}

	long := renderChatLine([]byte(`{"level":"warn","message":"` + strings.Repeat("ж", 3000) + `"}`))
	if len(long) > chatMaxLen || !utf8.ValidString(long) || !strings.HasSuffix(long, "...") {
		t.Fatalf("len = %d valid = %v", len(long), utf8.ValidString(long))
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel(" WARNING ", zerolog.InfoLevel) != zerolog.WarnLevel {
		t.Fatal("warning")
	}
	if parseLevel("loud", zerolog.ErrorLevel) != zerolog.ErrorLevel {
		t.Fatal("default")
	}
}

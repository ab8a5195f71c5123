package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "linkguard/internal/transport"
)

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
)

// chatSink is a zerolog.LevelWriter that forwards rate-limited lines to a
// chat. Writes never block on the network.
type chatSink struct {
	sender Sender
	queue  chan chatLine

	mu        sync.Mutex
	chatID    int64
	thread    int
	cfgThread int // wins over thread when set
	minLevel  zerolog.Level
	limiter   *rate.Limiter
	cancel    context.CancelFunc
	done      chan struct{}
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatLine, chatQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	c.chatID, c.thread = chatID, threadID
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(rps)
	c.cfgThread = cfg.ThreadID
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = c.sender.SendText(sctx, l.to, l.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.NoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to := kit.ChatTarget{ChatID: c.chatID, ThreadID: c.cfgThread}
	if to.ThreadID == 0 {
		to.ThreadID = c.thread
	}
	minLevel, lim := c.minLevel, c.limiter
	c.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{to: to, text: renderChatLine(p)}:
	default:
	}
	return len(p), nil
}

// renderChatLine turns one JSON log line into plain "LVL message key=value" text.
func renderChatLine(p []byte) string {
	var buf bytes.Buffer
	w := zerolog.ConsoleWriter{
		Out:          &buf,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	if _, err := w.Write(p); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMaxLen)
	}
	return truncate(strings.TrimSpace(buf.String()), chatMaxLen)
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

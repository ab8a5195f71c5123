package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkguard/internal/config"
	"linkguard/internal/pairing"
	"linkguard/internal/router"
	"linkguard/internal/storage"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsoleSessionModeratesLinks(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
transport:
  kind: console
logging:
  level: error
moderation:
  warn_limit: 3
storage:
  driver: file
  path: `+statePath+`
`), 0o600))

	in := strings.NewReader(strings.Join([]string{
		"alice: hi all",
		"bob: see https://evil.example/x",
		"bob: https://evil.example/y",
		"carol*: https://admin.example/news",
		"dave: my profile https://www.linkedin.com/in/dave",
		"bob: https://evil.example/z",
	}, "\n") + "\n")
	out := &syncBuffer{}

	a, err := New(cfgPath, WithConsoleIO(in, out))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("console session did not end after input closed")
	}
	assert.Equal(t, StopInputClosed, a.StopReason())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, a.StopReason()))

	got := out.String()
	assert.Equal(t, 3, strings.Count(got, "[delete]"), got)
	assert.Contains(t, got, "bob only links to linkedin.com are allowed.\nWarning 1/3.")
	assert.Contains(t, got, "Warning 2/3.")
	assert.NotContains(t, got, "Warning 3/3.")
	assert.Contains(t, got, "[remove] bob")
	assert.Contains(t, got, "bob has been removed after 3 warnings")
	assert.NotContains(t, got, "carol only")
	assert.NotContains(t, got, "dave only")

	st, err := storage.Open(storage.Config{Driver: "file", Path: statePath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	entries, err := st.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "remove", entries[0].Action)
	assert.Equal(t, 3, entries[0].Count)
	assert.Equal(t, "bob", entries[0].Username)
}

func TestPairingPortConflictKeepsModerating(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
transport:
  kind: console
logging:
  level: error
pairing:
  enabled: true
  addr: `+busy.Addr().String()+`
  link_base: "pair:"
`), 0o600))

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	a, err := New(cfgPath, WithConsoleIO(pr, out))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	_, err = io.WriteString(pw, "bob: https://evil.example/x\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Warning 1/3.")
	}, 3*time.Second, 10*time.Millisecond)

	// The listener failed at least once by now and is waiting to retry.
	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, a.Err())
	assert.Contains(t, a.sup.Running(), "pairing.http")
	select {
	case <-a.Done():
		t.Fatal("app stopped on a pairing listener error")
	default:
	}

	_, err = io.WriteString(pw, "bob: https://evil.example/y\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Warning 2/3.")
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, pw.Close())
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("console session did not end after input closed")
	}
	assert.Equal(t, StopInputClosed, a.StopReason())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, a.StopReason()))
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *captureSender) Stop(context.Context) error                     { return nil }
func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.sent, "\n")
}

func TestStartCommandPairsOwner(t *testing.T) {
	svc := pairing.New(pairing.Config{LinkBase: "pair:"}, nil, nil, nil, logx.Nop())
	_, err := svc.Prepare(context.Background())
	require.NoError(t, err)
	token := strings.TrimPrefix(svc.Link(), "pair:")

	sender := &captureSender{}
	rt := router.New(sender, nil, logx.Nop(), router.Options{Workers: 1})
	var mu sync.Mutex
	var bound []int64
	rt.Register(startCommand(svc, func(id int64) {
		mu.Lock()
		bound = append(bound, id)
		mu.Unlock()
		rt.AddOwner(id)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx, updates)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	dm := func(from int64, text string) kit.Update {
		return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, SenderID: from, Text: text}}
	}
	updates <- dm(5, "/start")
	updates <- dm(5, "/start nope")
	updates <- dm(5, "/start "+token)
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -9, SenderID: 6, Text: "/start " + token, IsGroup: true}}

	assert.Eventually(t, func() bool {
		return strings.Contains(sender.joined(), "Paired")
	}, 2*time.Second, 10*time.Millisecond)

	got := sender.joined()
	assert.Contains(t, got, greeting)
	assert.Contains(t, got, "invalid pairing code")
	mu.Lock()
	assert.Equal(t, []int64{5}, bound)
	mu.Unlock()
	assert.Equal(t, []int64{5}, rt.Owners())
}

func TestFormatAudit(t *testing.T) {
	assert.Equal(t, "No moderation actions recorded.", formatAudit(nil))

	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)
	got := formatAudit([]storage.AuditEntry{
		{At: at, Action: "remove", UserID: 7, Username: "bob", Count: 3, OK: false, Error: "not enough rights"},
		{At: at, Action: "delete", UserID: 8, OK: true},
	})
	assert.Equal(t, "Recent actions:\n05-01 10:30 remove bob #3 (failed: not enough rights)\n05-01 10:30 delete 8", got)
}

func TestConfigMapping(t *testing.T) {
	no := false
	cfg := &config.Config{}
	cfg.Telegram.GroupLog = "-100123"
	cfg.Logging.Telegram.ThreadID = 4
	cfg.Moderation.DeleteMessages = &no
	cfg.Moderation.Notices.Warn = "stop {user}"

	mc := mapModerationConfig(cfg)
	assert.Equal(t, 3, mc.WarnLimit)
	assert.False(t, mc.DeleteMessages)
	assert.Equal(t, "stop {user}", mc.Notices.Warn)

	assert.Equal(t, int64(-100123), groupLogChat(cfg))
	cfg.Telegram.GroupLog = "logs"
	assert.Equal(t, int64(0), groupLogChat(cfg))

	assert.Equal(t,
		[]kit.ChatTarget{{ChatID: 1}, {ChatID: 2}, {ChatID: -100, ThreadID: 4}},
		reportTargets([]int64{1, 2}, -100, 4))
	assert.Empty(t, reportTargets(nil, 0, 0))

	sc, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " SQLite ", Path: "x.db"}})
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, sc)

	cfg.Report.Enabled = true
	cfg.Report.Timezone = "Mars/Olympus"
	_, err = mapReportConfig(cfg)
	assert.Error(t, err)
}

package pairing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkguard/internal/eventbus"
	"linkguard/internal/storage"
	logx "linkguard/pkg/logx"
)

type linkFunc func(string) string

func (f linkFunc) PairingLink(token string) string { return f(token) }

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPrepareIssuesCode(t *testing.T) {
	var got string
	svc := New(Config{}, linkFunc(func(tok string) string {
		got = tok
		return "https://t.me/linkguard_bot?start=" + tok
	}), nil, nil, logx.Nop())

	_, ok := svc.Artifact()
	assert.False(t, ok)

	needed, err := svc.Prepare(context.Background())
	require.NoError(t, err)
	assert.True(t, needed)
	assert.Len(t, got, 32)
	assert.Equal(t, "https://t.me/linkguard_bot?start="+got, svc.Link())

	png, ok := svc.Artifact()
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	// A second Prepare keeps the same code.
	_, err = svc.Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/linkguard_bot?start="+got, svc.Link())
}

func TestPrepareNeedsALinkSource(t *testing.T) {
	svc := New(Config{}, nil, nil, nil, logx.Nop())
	_, err := svc.Prepare(context.Background())
	assert.Error(t, err)
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(4, "pairing.")
	defer unsub()

	svc := New(Config{LinkBase: "https://example.test/pair?code="}, nil, st, bus, logx.Nop())
	assert.ErrorIs(t, svc.Redeem(ctx, "anything", 1), ErrNotReady)

	_, err := svc.Prepare(ctx)
	require.NoError(t, err)
	token := strings.TrimPrefix(svc.Link(), "https://example.test/pair?code=")

	assert.ErrorIs(t, svc.Redeem(ctx, "wrong", 1), ErrInvalidToken)
	require.NoError(t, svc.Redeem(ctx, " "+token+" ", 42))
	assert.ErrorIs(t, svc.Redeem(ctx, token, 43), ErrInvalidToken, "codes are single use")

	owner, ok := svc.Owner()
	require.True(t, ok)
	assert.Equal(t, int64(42), owner)

	v, ok, err := st.GetSetting(ctx, storage.SettingPairedOwner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", v)

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, eventbus.TypePaired, ev.Type)
	assert.Equal(t, int64(42), ev.Data.(Bound).UserID)

	// A restarted process finds the owner and skips pairing.
	again := New(Config{LinkBase: "https://example.test/pair?code="}, nil, st, nil, logx.Nop())
	needed, err := again.Prepare(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
	owner, _ = again.Owner()
	assert.Equal(t, int64(42), owner)
	_, ok = again.Artifact()
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (failingStore) PutSetting(context.Context, string, string) error { return nil }

func TestPrepareStoreError(t *testing.T) {
	svc := New(Config{LinkBase: "x:"}, nil, failingStore{}, nil, logx.Nop())
	_, err := svc.Prepare(context.Background())
	assert.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	svc := New(Config{LinkBase: "https://example.test/"}, nil, nil, nil, logx.Nop())
	srv := NewServer("", svc, logx.Nop())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/qr"`)

	rec = get("/qr")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "QR code not generated yet, please wait.", rec.Body.String())

	_, err := svc.Prepare(context.Background())
	require.NoError(t, err)
	rec = get("/qr")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), pngMagic))

	rec = get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("/nope").Code)
}

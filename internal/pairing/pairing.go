// Package pairing binds the bot to an owner account.
//
// On first start the service mints a one-time token, wraps it in a deep link
// and renders that link as a QR code. Whoever opens the link sends
// "/start <token>" to the bot and becomes its owner. The owner id is kept in
// storage settings so pairing happens once.
package pairing

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"linkguard/internal/eventbus"
	"linkguard/internal/storage"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

var (
	// ErrNotReady means no pairing code is outstanding.
	ErrNotReady = errors.New("pairing: no pairing code issued")
	// ErrInvalidToken means the token is wrong or was already used.
	ErrInvalidToken = errors.New("pairing: invalid pairing code")
)

const defaultQRSize = 256

type Config struct {
	// LinkBase is prefixed to the token. Empty means the transport's own deep link.
	LinkBase string
	QRSize   int
}

// SettingStore is the slice of storage the service needs.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Bound is the eventbus payload published when an owner redeems a code.
type Bound struct {
	UserID int64
	At     time.Time
}

type Service struct {
	cfg    Config
	pairer kit.Pairer
	store  SettingStore
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.RWMutex
	token    string
	link     string
	png      []byte
	redeemed bool
	owner    int64
}

// New creates the service. pairer, store and bus may be nil.
func New(cfg Config, pairer kit.Pairer, store SettingStore, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaultQRSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, pairer: pairer, store: store, bus: bus, log: log}
}

// Prepare loads a previously bound owner. If there is none it issues a code
// and reports true: the caller should announce that pairing is required.
func (s *Service) Prepare(ctx context.Context) (bool, error) {
	if s.store != nil {
		v, ok, err := s.store.GetSetting(ctx, storage.SettingPairedOwner)
		if err != nil && !errors.Is(err, storage.ErrDisabled) {
			return false, fmt.Errorf("load paired owner: %w", err)
		}
		if ok {
			id, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if perr == nil && id != 0 {
				s.mu.Lock()
				s.owner = id
				s.mu.Unlock()
				s.log.Info("owner already paired", logx.Int64("user_id", id))
				return false, nil
			}
			s.log.Warn("ignoring malformed paired owner setting", logx.String("value", v))
		}
	}
	if err := s.issue(); err != nil {
		return false, err
	}
	return true, nil
}

// issue mints a token and renders its QR code. An existing code is kept.
func (s *Service) issue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.png != nil {
		s.log.Debug("pairing code already issued; skipping regeneration")
		return nil
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	var link string
	switch {
	case strings.TrimSpace(s.cfg.LinkBase) != "":
		link = strings.TrimSpace(s.cfg.LinkBase) + token
	case s.pairer != nil:
		link = s.pairer.PairingLink(token)
	default:
		return errors.New("pairing: no link base and transport cannot build pairing links")
	}

	png, err := qrcode.Encode(link, qrcode.Medium, s.cfg.QRSize)
	if err != nil {
		return fmt.Errorf("render pairing QR code: %w", err)
	}
	s.token, s.link, s.png, s.redeemed = token, link, png, false
	s.log.Info("pairing code issued; open the pairing page and scan the QR code")
	return nil
}

// Artifact returns the QR code PNG once it has been generated.
func (s *Service) Artifact() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.png, s.png != nil
}

// Link returns the deep link encoded in the QR code.
func (s *Service) Link() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

// Owner returns the bound owner, if any.
func (s *Service) Owner() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, s.owner != 0
}

// Redeem binds userID as owner when token matches the outstanding code.
func (s *Service) Redeem(ctx context.Context, token string, userID int64) error {
	token = strings.TrimSpace(token)

	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.redeemed || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		s.mu.Unlock()
		return ErrInvalidToken
	}
	s.redeemed = true
	s.owner = userID
	s.mu.Unlock()

	log := s.log.With(logx.Int64("user_id", userID))
	if s.store != nil {
		err := s.store.PutSetting(ctx, storage.SettingPairedOwner, strconv.FormatInt(userID, 10))
		if err != nil && !errors.Is(err, storage.ErrDisabled) {
			// Still bound for this process; the next start asks again.
			log.Warn("could not persist paired owner", logx.Err(err))
		}
	}
	log.Info("owner paired")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePaired, Data: Bound{UserID: userID, At: time.Now()}})
	}
	return nil
}

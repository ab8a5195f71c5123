// Package adapter connects linkguard to the Telegram Bot API through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "linkguard/internal/runtime/supervisor"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

type Config struct {
	Token         string
	PollTimeout   time.Duration
	AdminCacheTTL time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter. Created on Start.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates lost to a full consumer channel.
	droppedUpdates atomic.Uint64
	// offline is set after a poll error and cleared by the next update.
	offline atomic.Bool

	admins *adminCache
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, admins: newAdminCache(cfg.AdminCacheTTL)}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)

	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: a.onError,
	})
	if err != nil {
		if errors.Is(err, tele.ErrUnauthorized) {
			return nil, errors.Join(ErrAuth, err)
		}
		return nil, err
	}
	a.bot = b
	a.registerHandlers()
	return a, nil
}

// ErrAuth marks a rejected bot token.
var ErrAuth = errors.New("telegram: bot token rejected")

// Username is the bot's own username, without "@".
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// PairingLink is a deep link that delivers "/start <token>" to the bot.
func (a *Adapter) PairingLink(token string) string {
	return "https://t.me/" + a.Username() + "?start=" + token
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, forward)
	// Links hidden in photo or document captions are moderated too.
	a.bot.Handle(tele.OnMedia, forward)
}

func toMessage(m *tele.Message) *kit.Message {
	// Automatic forwards are the linked channel's own posts mirrored into
	// the discussion group.
	if m == nil || m.Chat == nil || m.AutomaticForward {
		return nil
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil
	}
	out := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		out.SenderID = m.Sender.ID
		out.SenderName = m.Sender.Username
		if out.SenderName == "" {
			out.SenderName = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
		}
	}
	switch {
	case m.SenderChat == nil:
	case m.SenderChat.ID == m.Chat.ID:
		// Anonymous admins post as the group itself.
		out.FromChat = true
	default:
		// Posted on behalf of a channel; Sender is the shared Channel_Bot
		// account, so the channel is the identity.
		out.SenderID = m.SenderChat.ID
		out.SenderName = m.SenderChat.Username
		if out.SenderName == "" {
			out.SenderName = m.SenderChat.Title
		}
	}
	return out
}

func (a *Adapter) onError(err error, c tele.Context) {
	if err == nil {
		return
	}
	if errors.Is(err, tele.ErrUnauthorized) {
		a.log.Error("telegram rejected the bot token", logx.Err(err))
		a.lifecycle(kit.LifecycleAuthFailure, err.Error())
		return
	}
	if c == nil {
		// Poller errors arrive without a context.
		if a.offline.CompareAndSwap(false, true) {
			a.log.Warn("telegram polling failed", logx.Err(err))
			a.lifecycle(kit.LifecycleDisconnected, err.Error())
		}
		return
	}
	a.log.Warn("telegram handler error", logx.Err(err))
}

func (a *Adapter) lifecycle(state kit.LifecycleState, detail string) {
	a.sendUpdate(kit.Update{Kind: kit.UpdateLifecycle, Lifecycle: &kit.Lifecycle{State: state, Detail: detail}})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	if up.Kind == kit.UpdateMessage && a.offline.CompareAndSwap(true, false) {
		a.log.Info("telegram polling recovered")
		a.lifecycle(kit.LifecycleReady, "reconnected")
	}
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop. An early return while the context
	// is alive is treated as a failure and restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	a.lifecycle(kit.LifecycleReady, "@"+a.Username())
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.lifecycle(kit.LifecycleDisconnected, "stopping")
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))

	sup.Cancel()
	go a.bot.Stop()

	// A pending getUpdates long poll must not hold shutdown hostage.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

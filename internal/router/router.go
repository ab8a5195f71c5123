// Package router turns transport updates into moderation runs and commands.
//
// Group messages go through the moderator one at a time, in arrival order.
// Commands ("/name args") run on a small worker pool so a slow reply never
// delays moderation.
package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"linkguard/internal/eventbus"
	"linkguard/internal/moderation"
	rtsup "linkguard/internal/runtime/supervisor"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Access      Access
	// PrivateOnly commands are ignored in groups.
	PrivateOnly bool
	// Hidden commands are left out of /help.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	IsOwner bool
	Logger  logx.Logger

	sender kit.Adapter
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Moderator is the group-message handler.
type Moderator interface {
	Handle(ctx context.Context, msg *kit.Message) moderation.Outcome
}

type Options struct {
	Workers           int
	QueueSize         int
	ModerationTimeout time.Duration
	// CommandRate is the per-user command rate (per second) with CommandBurst headroom.
	CommandRate  float64
	CommandBurst int
}

type Router struct {
	log    logx.Logger
	sender kit.Adapter
	bus    eventbus.Bus
	opt    Options

	mu       sync.RWMutex
	commands map[string]Command
	owners   map[int64]bool
	mod      Moderator
	onLife   func(kit.Lifecycle)

	jobs     chan func()
	throttle *throttle
}

func New(sender kit.Adapter, bus eventbus.Bus, log logx.Logger, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.ModerationTimeout <= 0 {
		opt.ModerationTimeout = 30 * time.Second
	}
	if opt.CommandRate <= 0 {
		opt.CommandRate = 0.5
	}
	if opt.CommandBurst <= 0 {
		opt.CommandBurst = 5
	}
	r := &Router{
		log:      log,
		sender:   sender,
		bus:      bus,
		opt:      opt,
		commands: map[string]Command{},
		owners:   map[int64]bool{},
		jobs:     make(chan func(), opt.QueueSize),
		throttle: newThrottle(opt.CommandRate, opt.CommandBurst),
	}
	r.Register(Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.IsOwner))
		},
	})
	return r
}

// SetModerator installs the group-message handler. nil disables moderation.
func (r *Router) SetModerator(m Moderator) {
	r.mu.Lock()
	r.mod = m
	r.mu.Unlock()
}

// OnLifecycle installs a hook called for each transport lifecycle update.
func (r *Router) OnLifecycle(fn func(kit.Lifecycle)) {
	r.mu.Lock()
	r.onLife = fn
	r.mu.Unlock()
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.commands[name] = c
	}
}

// SetOwners replaces the owner set. Safe during hot reload.
func (r *Router) SetOwners(ids ...int64) {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id != 0 {
			set[id] = true
		}
	}
	r.mu.Lock()
	r.owners = set
	r.mu.Unlock()
}

func (r *Router) AddOwner(id int64) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	r.owners[id] = true
	r.mu.Unlock()
}

func (r *Router) Owners() []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.owners))
	for id := range r.owners {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[id]
}

// Run dispatches updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "router"))))
	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, up)
		}
	}
}

// Dispatch handles one update. Moderation completes before it returns;
// commands are queued.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateLifecycle:
		if up.Lifecycle != nil {
			r.lifecycle(*up.Lifecycle)
		}
	case kit.UpdateMessage:
		msg := up.Message
		if msg == nil {
			return
		}
		if msg.IsGroup {
			r.moderate(ctx, msg)
		}
		r.routeCommand(ctx, msg)
	}
}

func (r *Router) lifecycle(l kit.Lifecycle) {
	log := r.log.With(logx.String("state", string(l.State)), logx.String("detail", l.Detail))
	switch l.State {
	case kit.LifecycleAuthFailure:
		log.Error("transport authentication failed")
	case kit.LifecycleDisconnected:
		log.Warn("transport disconnected")
	default:
		log.Info("transport lifecycle")
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeLifecycle, Data: l})
	}
	r.mu.RLock()
	fn := r.onLife
	r.mu.RUnlock()
	if fn != nil {
		fn(l)
	}
}

func (r *Router) moderate(ctx context.Context, msg *kit.Message) {
	r.mu.RLock()
	mod := r.mod
	r.mu.RUnlock()
	if mod == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in moderation",
				logx.Int64("chat_id", msg.ChatID), logx.Int("msg_id", msg.ID),
				logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	mctx, cancel := context.WithTimeout(ctx, r.opt.ModerationTimeout)
	defer cancel()
	mod.Handle(mctx, msg)
}

// parseCommand splits "/name@bot a b" into ("name", [a b]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

func (r *Router) routeCommand(ctx context.Context, msg *kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd, found := r.commands[name]
	r.mu.RUnlock()
	// Stay quiet about unknown commands; groups see plenty of other bots' commands.
	if !found || (cmd.PrivateOnly && msg.IsGroup) {
		r.log.Debug("command ignored", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	owner := r.isOwner(msg.SenderID)
	if cmd.Access == AccessOwnerOnly && !owner {
		r.log.Debug("owner-only command refused", logx.String("cmd", name), logx.Int64("from_id", msg.SenderID))
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    msg.Chat(),
		FromID:  msg.SenderID,
		Command: name,
		Args:    args,
		ReqID:   rid,
		IsOwner: owner,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.SenderID),
			logx.String("cmd", name),
		),
		sender: r.sender,
	}
	final := Chain(cmd.Handle, logOutcome(750*time.Millisecond), recoverPanics, r.throttle.middleware, withDeadline(cmd.Timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		req.Logger.Warn("command queue full; dropped")
	}
}

func (r *Router) helpText(owner bool) string {
	r.mu.RLock()
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range cmds {
		b.WriteString("\n/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}

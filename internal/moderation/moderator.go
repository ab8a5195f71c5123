package moderation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"linkguard/internal/eventbus"
	"linkguard/internal/storage"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

// Config is the reloadable part of the moderator.
type Config struct {
	TrustedDomain string
	WarnLimit     int
	// DeleteMessages controls removal of the offending message. Counting and
	// notices happen either way.
	DeleteMessages bool
	Notices        Notices
}

// Auditor receives one entry per moderation side effect.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// ViolationEvent is the eventbus payload for moderation events.
type ViolationEvent struct {
	ChatID   int64
	UserID   int64
	Username string
	Verdict  Verdict
	Action   Action
	Links    []string
}

// Outcome reports what Handle did with a message.
type Outcome struct {
	Verdict Verdict
	Action  Action
	// Skipped is set when the message could not be classified (admin lookup failed).
	Skipped bool
	// Err joins every side-effect failure. Handle already logged them.
	Err error
}

type settings struct {
	policy  *Policy
	notices Notices
	delete  bool
}

// Moderator runs the classify -> escalate -> act pipeline for group messages.
type Moderator struct {
	log    logx.Logger
	tr     kit.Moderation
	ledger *Ledger
	bus    eventbus.Bus
	audit  Auditor

	cur atomic.Pointer[settings]
}

// New creates a moderator. bus and audit may be nil.
func New(cfg Config, tr kit.Moderation, ledger *Ledger, log logx.Logger, bus eventbus.Bus, audit Auditor) (*Moderator, error) {
	if tr == nil {
		return nil, errors.New("moderation: transport is nil")
	}
	if ledger == nil {
		ledger = NewLedger(cfg.WarnLimit)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Moderator{log: log, tr: tr, ledger: ledger, bus: bus, audit: audit}
	if err := m.Apply(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply swaps policy, notices and threshold. Ledger counts survive.
func (m *Moderator) Apply(cfg Config) error {
	p, err := NewPolicy(cfg.TrustedDomain)
	if err != nil {
		return err
	}
	if cfg.WarnLimit > 0 {
		m.ledger.SetLimit(cfg.WarnLimit)
	}
	m.cur.Store(&settings{policy: p, notices: cfg.Notices.withDefaults(), delete: cfg.DeleteMessages})
	return nil
}

func (m *Moderator) Ledger() *Ledger { return m.ledger }

func (m *Moderator) Policy() *Policy { return m.cur.Load().policy }

// Handle moderates one inbound message. Side-effect failures are logged and
// folded into Outcome.Err; they never stop later messages.
func (m *Moderator) Handle(ctx context.Context, msg *kit.Message) Outcome {
	if msg == nil || !msg.IsGroup {
		return Outcome{Verdict: Clean}
	}
	st := m.cur.Load()
	if !st.policy.HasLink(msg.Text) {
		return Outcome{Verdict: Clean}
	}

	log := m.log.With(
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("user_id", msg.SenderID),
		logx.Int("msg_id", msg.ID),
	)

	isAdmin := msg.FromChat
	if !isAdmin {
		var err error
		isAdmin, err = m.tr.IsAdmin(ctx, msg.ChatID, msg.SenderID)
		if err != nil {
			log.Warn("admin lookup failed; message left alone", logx.Err(err))
			return Outcome{Verdict: Clean, Skipped: true, Err: err}
		}
	}

	verdict := st.policy.Classify(msg.Text, isAdmin)
	switch verdict {
	case AdminExempt:
		log.Info("admin posted a link")
		m.publish(eventbus.TypeExempt, msg, verdict, Action{}, st.policy)
		return Outcome{Verdict: verdict}
	case ContentExempt:
		log.Info("member posted a trusted link", logx.String("domain", st.policy.Domain()))
		m.publish(eventbus.TypeExempt, msg, verdict, Action{}, st.policy)
		return Outcome{Verdict: verdict}
	case Clean:
		return Outcome{Verdict: verdict}
	}

	log.Info("unauthorized link", logx.Any("links", st.policy.Links(msg.Text)))
	m.publish(eventbus.TypeViolation, msg, verdict, Action{}, st.policy)

	var errs []error
	if st.delete {
		err := m.tr.DeleteMessage(ctx, msg.Ref())
		m.record(ctx, msg, "delete", 0, err)
		if err != nil {
			log.Warn("could not delete message", logx.Err(err))
			errs = append(errs, err)
		}
	}

	act := m.ledger.RecordViolation(msg.SenderKey())
	who := m.contact(ctx, msg, log)
	out := Outcome{Verdict: verdict, Action: act}

	switch act.Kind {
	case ActionWarn:
		log.Info("warning issued", logx.Int("count", act.Count), logx.Int("limit", act.Limit))
		text := render(st.notices.Warn, who.Handle(), st.policy.Domain(), act)
		_, err := m.tr.SendText(ctx, msg.Chat(), text, &kit.SendOptions{DisablePreview: true, Mentions: []kit.Contact{who}})
		m.record(ctx, msg, "warn", act.Count, err)
		if err != nil {
			log.Warn("could not send warning", logx.Err(err))
			errs = append(errs, err)
		}
		m.publish(eventbus.TypeWarned, msg, verdict, act, st.policy)

	case ActionRemove:
		log.Info("removing member", logx.Int("count", act.Count))
		err := m.tr.RemoveMember(ctx, msg.ChatID, msg.SenderID)
		m.record(ctx, msg, "remove", act.Count, err)
		if err != nil {
			// No farewell for a member who is still in the group.
			log.Warn("could not remove member", logx.Err(err))
			errs = append(errs, err)
			break
		}
		text := render(st.notices.Removed, who.Handle(), st.policy.Domain(), act)
		if _, err := m.tr.SendText(ctx, msg.Chat(), text, &kit.SendOptions{DisablePreview: true, Mentions: []kit.Contact{who}}); err != nil {
			m.record(ctx, msg, "notice", act.Count, err)
			log.Warn("could not send removal notice", logx.Err(err))
			errs = append(errs, err)
		}
		m.publish(eventbus.TypeRemoved, msg, verdict, act, st.policy)
	}

	if len(errs) > 0 {
		out.Err = errors.Join(errs...)
		m.publish(eventbus.TypeActionErr, msg, verdict, act, st.policy)
	}
	return out
}

func (m *Moderator) contact(ctx context.Context, msg *kit.Message, log logx.Logger) kit.Contact {
	c, err := m.tr.Contact(ctx, msg.ChatID, msg.SenderID)
	if err == nil {
		return c
	}
	log.Debug("contact lookup failed; using message sender", logx.Err(err))
	return kit.Contact{UserID: msg.SenderID, Username: msg.SenderName}
}

func (m *Moderator) publish(typ string, msg *kit.Message, v Verdict, a Action, p *Policy) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: ViolationEvent{
		ChatID:   msg.ChatID,
		UserID:   msg.SenderID,
		Username: msg.SenderName,
		Verdict:  v,
		Action:   a,
		Links:    p.Links(msg.Text),
	}})
}

func (m *Moderator) record(ctx context.Context, msg *kit.Message, action string, count int, err error) {
	if m.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        time.Now(),
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		UserID:    msg.SenderID,
		Username:  msg.SenderName,
		Action:    action,
		Count:     count,
		OK:        err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := m.audit.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
		m.log.Debug("audit append failed", logx.Err(aerr), logx.String("action", action))
	}
}

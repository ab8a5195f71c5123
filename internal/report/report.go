// Package report aggregates moderation events and sends periodic digests.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"linkguard/internal/eventbus"
	"linkguard/internal/moderation"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

const topOffenders = 3

type Config struct {
	Enabled  bool
	Schedule string // standard cron spec or descriptor, e.g. "@daily"
	Location *time.Location
}

// Sender delivers digest text.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Counters is one reporting period.
type Counters struct {
	Since          time.Time
	Violations     int
	Warned         int
	Removed        int
	AdminExempt    int
	ContentExempt  int
	ActionFailures int
	offenders      map[int64]*offender
}

type offender struct {
	name  string
	count int
}

type Reporter struct {
	log    logx.Logger
	sender Sender

	mu      sync.Mutex
	cur     Counters
	targets []kit.ChatTarget

	cronMu sync.Mutex
	cron   *cron.Cron
	spec   string
	loc    *time.Location
}

func New(sender Sender, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{log: log, sender: sender, cur: newCounters(time.Now())}
}

func newCounters(now time.Time) Counters {
	return Counters{Since: now, offenders: map[int64]*offender{}}
}

// SetTargets replaces the chats that receive digests.
func (r *Reporter) SetTargets(targets []kit.ChatTarget) {
	r.mu.Lock()
	r.targets = append([]kit.ChatTarget(nil), targets...)
	r.mu.Unlock()
}

// Observe folds one moderation event into the current period.
func (r *Reporter) Observe(e eventbus.Event) {
	ev, ok := e.Data.(moderation.ViolationEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Type {
	case eventbus.TypeViolation:
		r.cur.Violations++
		o := r.cur.offenders[ev.UserID]
		if o == nil {
			o = &offender{}
			r.cur.offenders[ev.UserID] = o
		}
		o.count++
		if ev.Username != "" {
			o.name = ev.Username
		}
	case eventbus.TypeWarned:
		r.cur.Warned++
	case eventbus.TypeRemoved:
		r.cur.Removed++
	case eventbus.TypeActionErr:
		r.cur.ActionFailures++
	case eventbus.TypeExempt:
		if ev.Verdict == moderation.AdminExempt {
			r.cur.AdminExempt++
		} else {
			r.cur.ContentExempt++
		}
	}
}

// Run consumes moderation events until ctx ends.
func (r *Reporter) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.SubscribePrefix(256, "moderation.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.Observe(e)
		}
	}
}

// Snapshot returns a copy of the current period's counters.
func (r *Reporter) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cur
	c.offenders = make(map[int64]*offender, len(r.cur.offenders))
	for id, o := range r.cur.offenders {
		cp := *o
		c.offenders[id] = &cp
	}
	return c
}

// Digest renders the current period.
func (r *Reporter) Digest() string {
	return r.Snapshot().Format()
}

func (c Counters) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Moderation digest since %s\n", c.Since.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Violations: %d\n", c.Violations)
	fmt.Fprintf(&b, "Warnings: %d\n", c.Warned)
	fmt.Fprintf(&b, "Removals: %d\n", c.Removed)
	fmt.Fprintf(&b, "Allowed links: %d (admins %d, trusted domain %d)\n", c.AdminExempt+c.ContentExempt, c.AdminExempt, c.ContentExempt)
	if c.ActionFailures > 0 {
		fmt.Fprintf(&b, "Failed actions: %d\n", c.ActionFailures)
	}

	type row struct {
		id int64
		offender
	}
	rows := make([]row, 0, len(c.offenders))
	for id, o := range c.offenders {
		rows = append(rows, row{id, *o})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].id < rows[j].id
	})
	if len(rows) > topOffenders {
		rows = rows[:topOffenders]
	}
	if len(rows) > 0 {
		b.WriteString("Top offenders:\n")
		for _, r := range rows {
			name := r.name
			if name == "" {
				name = fmt.Sprint(r.id)
			}
			fmt.Fprintf(&b, "  • %s: %d\n", name, r.count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SendDigest delivers the current period to every target and starts a new period.
func (r *Reporter) SendDigest(ctx context.Context) error {
	r.mu.Lock()
	period := r.cur
	targets := append([]kit.ChatTarget(nil), r.targets...)
	r.cur = newCounters(time.Now())
	r.mu.Unlock()

	if len(targets) == 0 {
		r.log.Debug("digest skipped; no targets")
		return nil
	}
	text := period.Format()
	var errs []error
	for _, to := range targets {
		if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			r.log.Warn("digest delivery failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			errs = append(errs, err)
		}
	}
	r.log.Info("digest sent", logx.Int("targets", len(targets)), logx.Int("violations", period.Violations))
	return errors.Join(errs...)
}

// Apply (re)schedules digests. A disabled config stops the schedule.
func (r *Reporter) Apply(cfg Config) error {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = "@daily"
	}

	r.cronMu.Lock()
	defer r.cronMu.Unlock()

	if !cfg.Enabled {
		r.stopLocked()
		return nil
	}
	if r.cron != nil && r.spec == spec && r.loc.String() == loc.String() {
		return nil
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.SendDigest(ctx)
	}); err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	r.stopLocked()
	c.Start()
	r.cron, r.spec, r.loc = c, spec, loc
	r.log.Info("digest scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule. A digest already running is not interrupted.
func (r *Reporter) Stop() {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	r.stopLocked()
}

func (r *Reporter) stopLocked() {
	if r.cron == nil {
		return
	}
	r.cron.Stop()
	r.cron, r.spec, r.loc = nil, "", nil
}

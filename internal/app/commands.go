package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"linkguard/internal/pairing"
	"linkguard/internal/report"
	"linkguard/internal/router"
	"linkguard/internal/storage"
	logx "linkguard/pkg/logx"
)

const greeting = "Hi! Add me to a group as an admin and I will keep links in check."

// startCommand redeems a pairing code ("/start <code>") in a private chat.
func startCommand(svc *pairing.Service, onBound func(userID int64)) router.Command {
	return router.Command{
		Name:        "start",
		Hidden:      true,
		PrivateOnly: true,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *router.Request) error {
			if len(req.Args) == 0 || svc == nil {
				return req.Reply(ctx, greeting)
			}
			err := svc.Redeem(ctx, req.Args[0], req.FromID)
			switch {
			case errors.Is(err, pairing.ErrInvalidToken), errors.Is(err, pairing.ErrNotReady):
				req.Logger.Warn("pairing code rejected", logx.Err(err))
				return req.Reply(ctx, "invalid pairing code")
			case err != nil:
				return err
			}
			if onBound != nil {
				onBound(req.FromID)
			}
			return req.Reply(ctx, "✅ Paired. You now own this bot and will receive moderation digests.")
		},
	}
}

func modstatsCommand(rep *report.Reporter) router.Command {
	return router.Command{
		Name:        "modstats",
		Description: "moderation digest for the current period",
		Access:      router.AccessOwnerOnly,
		Handle: func(ctx context.Context, req *router.Request) error {
			return req.Reply(ctx, rep.Digest())
		},
	}
}

const (
	defaultAuditRows = 10
	maxAuditRows     = 50
)

// auditCommand lists recent moderation actions ("/audit [n]").
func auditCommand(store storage.Store) router.Command {
	return router.Command{
		Name:        "audit",
		Description: "recent moderation actions, /audit [n]",
		Access:      router.AccessOwnerOnly,
		Timeout:     5 * time.Second,
		Handle: func(ctx context.Context, req *router.Request) error {
			if store == nil {
				return req.Reply(ctx, "Storage is disabled; no audit trail is kept.")
			}
			n := defaultAuditRows
			if len(req.Args) > 0 {
				v, err := strconv.Atoi(req.Args[0])
				if err != nil || v <= 0 {
					return req.Reply(ctx, "usage: /audit [n]")
				}
				n = min(v, maxAuditRows)
			}
			entries, err := store.RecentAudit(ctx, n)
			if err != nil {
				return err
			}
			return req.Reply(ctx, formatAudit(entries))
		},
	}
}

func formatAudit(entries []storage.AuditEntry) string {
	if len(entries) == 0 {
		return "No moderation actions recorded."
	}
	var b strings.Builder
	b.WriteString("Recent actions:")
	for _, e := range entries {
		who := e.Username
		if who == "" {
			who = strconv.FormatInt(e.UserID, 10)
		}
		fmt.Fprintf(&b, "\n%s %s %s", e.At.Local().Format("01-02 15:04"), e.Action, who)
		if e.Count > 0 {
			fmt.Fprintf(&b, " #%d", e.Count)
		}
		if !e.OK {
			b.WriteString(" (failed")
			if e.Error != "" {
				b.WriteString(": " + e.Error)
			}
			b.WriteString(")")
		}
	}
	return b.String()
}

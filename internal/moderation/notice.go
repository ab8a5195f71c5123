package moderation

import (
	"strconv"
	"strings"
)

// Notices are the texts posted to the group. Placeholders:
// {user} sender handle (rendered as a mention), {count}, {limit}, {domain}.
type Notices struct {
	Warn    string
	Removed string
}

const (
	defaultWarnNotice    = "⚠️ {user} only links to {domain} are allowed.\nWarning {count}/{limit}."
	defaultRemovedNotice = "🚫 {user} has been removed after {limit} warnings for posting unauthorized links."
)

// DefaultNotices returns the built-in notice texts.
func DefaultNotices() Notices {
	return Notices{Warn: defaultWarnNotice, Removed: defaultRemovedNotice}
}

func (n Notices) withDefaults() Notices {
	if strings.TrimSpace(n.Warn) == "" {
		n.Warn = defaultWarnNotice
	}
	if strings.TrimSpace(n.Removed) == "" {
		n.Removed = defaultRemovedNotice
	}
	return n
}

func render(tmpl, user, domain string, a Action) string {
	return strings.NewReplacer(
		"{user}", user,
		"{count}", strconv.Itoa(a.Count),
		"{limit}", strconv.Itoa(a.Limit),
		"{domain}", domain,
	).Replace(tmpl)
}

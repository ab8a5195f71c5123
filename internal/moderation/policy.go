package moderation

import (
	"errors"
	"regexp"
	"strings"
)

// Verdict is the classification of one group message.
type Verdict int

const (
	// Clean messages carry no link.
	Clean Verdict = iota
	// Violation is a link from a non-admin to an untrusted destination.
	Violation
	// AdminExempt is any link posted by a group admin.
	AdminExempt
	// ContentExempt is a non-admin link to the trusted domain.
	ContentExempt
)

func (v Verdict) String() string {
	switch v {
	case Clean:
		return "clean"
	case Violation:
		return "violation"
	case AdminExempt:
		return "admin_exempt"
	case ContentExempt:
		return "content_exempt"
	default:
		return "unknown"
	}
}

// DefaultTrustedDomain is the one destination members may link to.
const DefaultTrustedDomain = "linkedin.com"

var linkPattern = regexp.MustCompile(`https?://\S+`)

// hostPattern accepts a bare hostname made of dot-separated labels.
var hostPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)+$`)

// Policy is the link classifier: a URL detector plus one trusted-domain
// matcher. It is immutable and safe for concurrent use.
//
// Matching is case-sensitive on scheme and host.
type Policy struct {
	domain  string
	trusted *regexp.Regexp
}

// NewPolicy builds a policy that exempts links to domain and its subdomains.
func NewPolicy(domain string) (*Policy, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = DefaultTrustedDomain
	}
	if !hostPattern.MatchString(domain) {
		return nil, errors.New("moderation: invalid trusted domain " + domain)
	}
	// The host must end exactly at the trusted domain. An optional numeric
	// port may follow, then a path, query, fragment, whitespace or end of
	// text. Userinfo ("trusted:x@other") never matches.
	expr := `https?://(?:[A-Za-z0-9-]+\.)*` + regexp.QuoteMeta(domain) + `(?::\d+)?(?:[/?#\s]|$)`
	return &Policy{domain: domain, trusted: regexp.MustCompile(expr)}, nil
}

// Domain returns the trusted domain.
func (p *Policy) Domain() string { return p.domain }

// HasLink reports whether body contains at least one http(s) link.
func (p *Policy) HasLink(body string) bool {
	return linkPattern.MatchString(body)
}

// Links returns every http(s) link found in body.
func (p *Policy) Links(body string) []string {
	return linkPattern.FindAllString(body, -1)
}

// Classify decides the verdict for a group message body. Admin status wins
// over the destination check and short-circuits it.
func (p *Policy) Classify(body string, isAdmin bool) Verdict {
	if !p.HasLink(body) {
		return Clean
	}
	if isAdmin {
		return AdminExempt
	}
	if p.trusted.MatchString(body) {
		return ContentExempt
	}
	return Violation
}

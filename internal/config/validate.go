package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var domainPattern = regexp.MustCompile(`^(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?\.)+[A-Za-z]{2,}$`)

func normalizeKind(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Validate checks a parsed config. It collects every problem instead of
// stopping at the first one.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch cfg.TransportKind() {
	case "telegram":
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add("telegram.token is required for transport.kind=telegram")
		}
	case "console":
	default:
		add("transport.kind: unknown value %q (want telegram or console)", cfg.Transport.Kind)
	}

	durations := [][2]string{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.admin_cache_ttl", cfg.Telegram.AdminCacheTTL},
	}
	if cfg.Storage != nil {
		durations = append(durations, [2]string{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := Duration(d[0], d[1], 0); err != nil {
			errs = append(errs, err)
		}
	}
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if _, err := strconv.ParseInt(gl, 10, 64); err != nil {
			add("telegram.group_log: must be a numeric chat id, got %q", gl)
		}
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add("logging.telegram.enabled requires telegram.group_log")
	}

	if d := strings.TrimSpace(cfg.Moderation.TrustedDomain); d != "" && !domainPattern.MatchString(d) {
		add("moderation.trusted_domain: %q is not a bare domain name", d)
	}
	if cfg.Moderation.WarnLimit < 0 {
		add("moderation.warn_limit must be >= 0")
	}

	if cfg.Pairing.Enabled {
		if lb := strings.TrimSpace(cfg.Pairing.LinkBase); lb == "" && cfg.TransportKind() == "console" {
			add("pairing.link_base is required with transport.kind=console")
		}
	}

	if s := cfg.Storage; s != nil {
		switch normalizeKind(s.Driver) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", s.Driver)
			}
		default:
			add("storage.driver: unknown value %q", s.Driver)
		}
	}

	if cfg.Report.Enabled {
		if _, err := cron.ParseStandard(ReportSchedule(cfg)); err != nil {
			add("report.schedule: %w", err)
		}
		if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("report.timezone: %w", err)
			}
		}
	}

	if p := cfg.Debug.Pprof; p.Enabled {
		if addr := strings.TrimSpace(p.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add("debug.pprof.addr: %w", err)
			}
		}
		if p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 {
			add("debug.pprof profile rates must be >= 0")
		}
	}

	return errors.Join(errs...)
}

// ReportSchedule returns the digest schedule with its default applied.
func ReportSchedule(cfg *Config) string {
	if s := strings.TrimSpace(cfg.Report.Schedule); s != "" {
		return s
	}
	return "@daily"
}

// Duration reads a duration setting. Blank and zero mean def; malformed or
// negative values are errors that name the setting.
func Duration(setting, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (e.g. 30s, 2m)", setting, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", setting, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "linkguard/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)
	trim := strings.TrimSpace

	if oldCfg.TransportKind() != newCfg.TransportKind() {
		changed = append(changed, "transport")
		attrs = append(attrs, logx.String("transport.kind", newCfg.TransportKind()))
	}

	if trim(oldCfg.Telegram.PollTimeout) != trim(newCfg.Telegram.PollTimeout) ||
		trim(oldCfg.Telegram.AdminCacheTTL) != trim(newCfg.Telegram.AdminCacheTTL) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		trim(oldCfg.Telegram.GroupLog) != trim(newCfg.Telegram.GroupLog) ||
		trim(oldCfg.Telegram.Token) != trim(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", trim(newCfg.Telegram.PollTimeout)),
			logx.String("telegram.admin_cache_ttl", trim(newCfg.Telegram.AdminCacheTTL)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", trim(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", trim(oldCfg.Telegram.Token) != trim(newCfg.Telegram.Token)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.ModerationEnabled() != newCfg.ModerationEnabled() ||
		oldCfg.DeleteMessages() != newCfg.DeleteMessages() ||
		trim(oldCfg.Moderation.TrustedDomain) != trim(newCfg.Moderation.TrustedDomain) ||
		oldCfg.Moderation.WarnLimit != newCfg.Moderation.WarnLimit ||
		oldCfg.Moderation.Notices != newCfg.Moderation.Notices {
		changed = append(changed, "moderation")
		attrs = append(attrs,
			logx.Bool("moderation.enabled", newCfg.ModerationEnabled()),
			logx.String("moderation.trusted_domain", trim(newCfg.Moderation.TrustedDomain)),
			logx.Int("moderation.warn_limit", newCfg.Moderation.WarnLimit),
			logx.Bool("moderation.delete_messages", newCfg.DeleteMessages()),
			logx.Bool("moderation.notices_custom", newCfg.Moderation.Notices != NoticesConfig{}),
		)
	}

	if oldCfg.Pairing != newCfg.Pairing {
		changed = append(changed, "pairing")
		attrs = append(attrs,
			logx.Bool("pairing.enabled", newCfg.Pairing.Enabled),
			logx.String("pairing.addr", trim(newCfg.Pairing.Addr)),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if trim(oS.Driver) != trim(nS.Driver) || trim(oS.Path) != trim(nS.Path) || trim(oS.BusyTimeout) != trim(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(nS.Driver)),
			logx.Bool("storage.path_set", trim(nS.Path) != ""),
			logx.String("storage.busy_timeout", trim(nS.BusyTimeout)),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", ReportSchedule(newCfg)),
			logx.String("report.timezone", trim(newCfg.Report.Timezone)),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof.enabled", newCfg.Debug.Pprof.Enabled),
			logx.String("debug.pprof.addr", trim(newCfg.Debug.Pprof.Addr)),
			logx.Bool("debug.pprof.token_set", trim(newCfg.Debug.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "transport", "storage", "pairing", "debug":
			out = append(out, s)
		}
	}
	return out
}

package app

import (
	"strconv"
	"strings"
	"time"

	"linkguard/internal/config"
	"linkguard/internal/moderation"
	"linkguard/internal/report"
	"linkguard/internal/storage"
	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

// groupLogChat returns the numeric log chat id, or 0 when unset.
func groupLogChat(cfg *config.Config) int64 {
	gl := strings.TrimSpace(cfg.Telegram.GroupLog)
	if gl == "" {
		return 0
	}
	id, err := strconv.ParseInt(gl, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapModerationConfig(cfg *config.Config) moderation.Config {
	limit := cfg.Moderation.WarnLimit
	if limit <= 0 {
		limit = moderation.DefaultWarnLimit
	}
	return moderation.Config{
		TrustedDomain:  strings.TrimSpace(cfg.Moderation.TrustedDomain),
		WarnLimit:      limit,
		DeleteMessages: cfg.DeleteMessages(),
		Notices: moderation.Notices{
			Warn:    cfg.Moderation.Notices.Warn,
			Removed: cfg.Moderation.Notices.Removed,
		},
	}
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return report.Config{}, err
		}
		loc = l
	}
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: config.ReportSchedule(cfg),
		Location: loc,
	}, nil
}

// reportTargets sends digests to every owner's private chat and the log group.
func reportTargets(owners []int64, logChat int64, logThread int) []kit.ChatTarget {
	out := make([]kit.ChatTarget, 0, len(owners)+1)
	for _, id := range owners {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	if logChat != 0 {
		out = append(out, kit.ChatTarget{ChatID: logChat, ThreadID: logThread})
	}
	return out
}

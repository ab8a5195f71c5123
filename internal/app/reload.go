package app

import (
	"context"
	"strings"

	"linkguard/internal/config"
	logx "linkguard/pkg/logx"
)

// reloadLoop applies committed configs until ctx ends. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	// Target first so Apply does not warn when the chat sink is enabled.
	a.logs.SetChatTarget(groupLogChat(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	if err := a.moderator.Apply(mapModerationConfig(newCfg)); err != nil {
		a.log.Warn("invalid moderation config; keeping previous", logx.Err(err))
	}
	a.applyModerationSwitch(newCfg)
	a.refreshOwners(newCfg)

	if rc, err := mapReportConfig(newCfg); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	} else if err := a.reporter.Apply(rc); err != nil {
		a.log.Warn("report schedule rejected; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

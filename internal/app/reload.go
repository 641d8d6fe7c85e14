package app

import (
	"context"
	"strings"

	"agentmon/internal/config"
	logx "agentmon/pkg/logx"
)

// reloadLoop applies published configs. Only logging and monitor settings
// change live; other sections are reported as needing a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config, lastApplied *config.Config) {
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
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
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLoggingConfig(newCfg))

	mc, err := mapMonitorConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else {
		a.mon.Apply(mc)
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

package app

import (
	"context"
	"slices"
	"strings"

	"cronhost/internal/config"
	logx "cronhost/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, updates chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig applies what can change live. The registry is fixed once the
// host has started, so job and host changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	if slices.Contains(changed, "logging") {
		if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
			a.log.Warn("logging reload incomplete", logx.Err(err))
		}
	}
	if slices.Contains(changed, "admin") && a.admin != nil {
		a.admin.Reconfigure(ctx, mapAdminConfig(newCfg))
	}
	if config.RequiresRestart(changed) {
		a.log.Warn("config changes require a restart to take effect", logx.String("changed", strings.Join(changed, ",")))
	}
}

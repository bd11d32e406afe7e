package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cronhost/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.String("host.tick", strings.TrimSpace(newCfg.Host.Tick)),
			logx.String("host.timezone", strings.TrimSpace(newCfg.Host.Timezone)),
			logx.String("host.failure_mode", newCfg.Host.Mode()),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		tg := newCfg.Alerts.Telegram
		attrs = append(attrs, logx.Bool("alerts.telegram_enabled", tg != nil && tg.Enabled))
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		attrs = append(attrs, logx.Bool("admin.enabled", newCfg.Admin != nil && newCfg.Admin.Enabled))
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.count", len(newCfg.Jobs)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// LiveSections can be applied without restarting the host.
var LiveSections = map[string]bool{"logging": true, "admin": true}

// RequiresRestart reports whether any changed section cannot be applied live.
func RequiresRestart(changed []string) bool {
	for _, c := range changed {
		if !LiveSections[c] {
			return true
		}
	}
	return false
}

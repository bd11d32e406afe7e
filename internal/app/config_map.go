package app

import (
	"fmt"
	"strings"
	"time"

	"cronhost/internal/alert"
	"cronhost/internal/config"
	"cronhost/internal/host"
	"cronhost/internal/observability/admin"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapHostConfig(cfg *config.Config) (host.Config, error) {
	tick, err := config.ParseDurationOrDefault("host.tick", cfg.Host.Tick, host.DefaultTick)
	if err != nil {
		return host.Config{}, err
	}
	drain, err := config.ParseDurationField("host.drain_timeout", cfg.Host.DrainTimeout)
	if err != nil {
		return host.Config{}, err
	}
	loc, err := cfg.Host.Location()
	if err != nil {
		return host.Config{}, fmt.Errorf("host.timezone: %w", err)
	}
	return host.Config{Tick: tick, Location: loc, DrainTimeout: drain}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapAlertConfig(cfg *config.Config) (alert.TelegramConfig, bool) {
	tg := cfg.Alerts.Telegram
	if tg == nil || !tg.Enabled {
		return alert.TelegramConfig{}, false
	}
	return alert.TelegramConfig{
		Token:      tg.Token,
		ChatID:     tg.ChatID,
		ThreadID:   tg.ThreadID,
		URL:        tg.URL,
		RatePerMin: tg.RatePerMin,
	}, true
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	ad := cfg.Admin
	if ad == nil {
		return admin.Config{}
	}
	return admin.Config{
		Enabled:              ad.Enabled,
		Addr:                 ad.Addr,
		Token:                ad.Token,
		AllowInsecure:        ad.AllowInsecure,
		MutexProfileFraction: ad.MutexProfileFraction,
		BlockProfileRate:     ad.BlockProfileRate,
	}
}

// OpenJournal opens the run journal cfg describes, for readers outside a
// running app. It returns storage.ErrDisabled when none is configured.
func OpenJournal(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}

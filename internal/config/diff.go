package config

import (
	"sort"
	"strings"

	logx "lnsched/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and log
// fields describing their new values. Secrets (tokens, passwords) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	osc, nsc := oldCfg.Scheduler, newCfg.Scheduler
	if osc.Capacity != nsc.Capacity ||
		strings.TrimSpace(osc.Reconcile) != strings.TrimSpace(nsc.Reconcile) ||
		strings.TrimSpace(osc.Timezone) != strings.TrimSpace(nsc.Timezone) ||
		osc.OnFireEnabled() != nsc.OnFireEnabled() ||
		osc.SaveOnReconcile != nsc.SaveOnReconcile ||
		strings.TrimSpace(osc.Timeout) != strings.TrimSpace(nsc.Timeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.capacity", nsc.Capacity),
			logx.String("scheduler.reconcile", strings.TrimSpace(nsc.Reconcile)),
			logx.String("scheduler.timezone", strings.TrimSpace(nsc.Timezone)),
			logx.Bool("scheduler.on_fire", nsc.OnFireEnabled()),
			logx.Bool("scheduler.save_on_reconcile", nsc.SaveOnReconcile),
		)
	}

	if oldCfg.Platform != newCfg.Platform {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.Int("platform.capacity", newCfg.Platform.Capacity),
			logx.Int("platform.workers", newCfg.Platform.Workers),
			logx.Int("platform.rate_per_sec", newCfg.Platform.RatePerSec),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	ord, nrd := derefRedis(ost.Redis), derefRedis(nst.Redis)
	if !strings.EqualFold(strings.TrimSpace(ost.Driver), strings.TrimSpace(nst.Driver)) ||
		strings.TrimSpace(ost.Path) != strings.TrimSpace(nst.Path) ||
		strings.TrimSpace(ost.BusyTimeout) != strings.TrimSpace(nst.BusyTimeout) ||
		ord != nrd {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.String("storage.redis_addr", nrd.Addr),
			logx.Bool("storage.redis_password_set", nrd.Password != ""),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefRedis(r *RedisConfig) RedisConfig {
	if r == nil {
		return RedisConfig{}
	}
	return *r
}

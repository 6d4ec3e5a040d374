package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "lnsched/pkg/logx"
)

// Validate checks field-level constraints: bounds, durations, log level and
// timezone. Cross-component checks (schedule syntax, storage reachability)
// happen when the config is mapped onto components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	nonNegative := func(field string, v int) {
		if v < 0 {
			check(fmt.Errorf("%s must be >= 0", field))
		}
	}
	duration := func(field, raw string) {
		_, err := ParseDurationField(field, raw)
		check(err)
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		check(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		check(errors.New("logging.file.path is required when logging.file.enabled=true"))
	}

	nonNegative("scheduler.capacity", cfg.Scheduler.Capacity)
	duration("scheduler.timeout", cfg.Scheduler.Timeout)
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	p := cfg.Platform
	if d := strings.ToLower(strings.TrimSpace(p.Driver)); d != "" && d != "local" {
		check(fmt.Errorf("platform.driver: unknown driver %q", p.Driver))
	}
	nonNegative("platform.capacity", p.Capacity)
	nonNegative("platform.workers", p.Workers)
	nonNegative("platform.queue_size", p.QueueSize)
	nonNegative("platform.rate_per_sec", p.RatePerSec)
	nonNegative("platform.retry_max", p.RetryMax)
	duration("platform.retry_base", p.RetryBase)
	duration("platform.retry_max_delay", p.RetryMaxDelay)

	if s := cfg.Storage; s != nil {
		duration("storage.busy_timeout", s.BusyTimeout)
		if s.Redis != nil {
			nonNegative("storage.redis.db", s.Redis.DB)
		}
	}

	duration("http.read_timeout", cfg.HTTP.ReadTimeout)
	duration("http.write_timeout", cfg.HTTP.WriteTimeout)
	duration("http.idle_timeout", cfg.HTTP.IdleTimeout)

	return errors.Join(errs...)
}

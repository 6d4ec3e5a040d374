package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lnsched/internal/config"
	"lnsched/internal/httpapi"
	"lnsched/internal/platform/local"
	"lnsched/internal/storage"
	"lnsched/internal/trigger"
	logx "lnsched/pkg/logx"
)

// ValidateConfig runs field checks and every component mapping, so a config
// that passes can be applied without surprises.
func ValidateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapPlatformConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if tc, err := mapTriggerConfig(cfg); err != nil {
		errs = append(errs, err)
	} else if err := trigger.Validate(tc); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.reconcile: %w", err))
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckConfig loads and validates the file at path without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "file":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		if sc.Redis == nil || strings.TrimSpace(sc.Redis.Addr) == "" {
			return storage.Config{}, errors.New("storage.redis.addr is required when storage.driver=redis")
		}
		return storage.Config{Driver: driver, Redis: storage.RedisConfig{
			Addr:      strings.TrimSpace(sc.Redis.Addr),
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: strings.TrimSpace(sc.Redis.KeyPrefix),
		}}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver %q (want one of %s)", sc.Driver, strings.Join(storage.Drivers(), ", "))
	}
}

func mapPlatformConfig(cfg *config.Config) (local.Config, error) {
	pc := cfg.Platform
	base, err := config.ParseDurationField("platform.retry_base", pc.RetryBase)
	if err != nil {
		return local.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("platform.retry_max_delay", pc.RetryMaxDelay)
	if err != nil {
		return local.Config{}, err
	}
	if base > 0 && maxDelay > 0 && maxDelay < base {
		return local.Config{}, errors.New("platform.retry_max_delay must be >= platform.retry_base")
	}
	retryMax := pc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return local.Config{
		Capacity:      pc.Capacity,
		Workers:       pc.Workers,
		QueueSize:     pc.QueueSize,
		RatePerSec:    pc.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapTriggerConfig(cfg *config.Config) (trigger.Config, error) {
	sc := cfg.Scheduler
	timeout, err := config.ParseDurationField("scheduler.timeout", sc.Timeout)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Spec:     strings.TrimSpace(sc.Reconcile),
		Timezone: strings.TrimSpace(sc.Timezone),
		OnFire:   sc.OnFireEnabled(),
		Timeout:  timeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.ServerConfig, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	return httpapi.ServerConfig{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

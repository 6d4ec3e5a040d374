package config

// Config is the daemon's file configuration. JSON and YAML files share the
// same keys; unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Platform  PlatformConfig  `json:"platform"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the capacity-bounded scheduler and the trigger
// that reconciles it.
//
// Defaults (when fields are omitted/zero):
//   - capacity: the platform's capacity
//   - reconcile: "" (no periodic reconcile; start and on_fire only)
//   - on_fire: true
//   - timeout: "30s"
type SchedulerConfig struct {
	Capacity int `json:"capacity,omitempty"`

	// Reconcile is a cron expression, "@every 1m", a Go duration ("90s") or an
	// "HH:MM" interval. "cron:" and "interval:" prefixes force the kind.
	Reconcile string `json:"reconcile,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	// OnFire is a pointer so "omitted" can default to true.
	OnFire          *bool  `json:"on_fire,omitempty"`
	SaveOnReconcile bool   `json:"save_on_reconcile,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
}

// OnFireEnabled reports the effective on_fire setting.
func (s SchedulerConfig) OnFireEnabled() bool {
	return s.OnFire == nil || *s.OnFire
}

// PlatformConfig controls the in-process delivery platform.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type PlatformConfig struct {
	Driver        string `json:"driver,omitempty"` // only "local"
	Capacity      int    `json:"capacity,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lnsched.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"` // never logged
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// HTTPConfig controls the control API.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8080").
//   - A non-loopback addr requires a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

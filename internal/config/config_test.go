package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  capacity: 32
  reconcile: "interval:5m"
  timezone: Europe/Berlin
  on_fire: false
  save_on_reconcile: true
platform:
  workers: 4
  retry_base: 250ms
storage:
  driver: redis
  redis:
    addr: 127.0.0.1:6379
    db: 2
http:
  enabled: true
  addr: 127.0.0.1:9000
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("lnsched.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Capacity != 32 || cfg.Scheduler.Reconcile != "interval:5m" || cfg.Scheduler.OnFireEnabled() {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Platform.Workers != 4 || cfg.Platform.RetryBase != "250ms" {
		t.Fatalf("platform = %+v", cfg.Platform)
	}
	if cfg.Storage == nil || cfg.Storage.Redis == nil || cfg.Storage.Redis.DB != 2 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown json key", "c.json", `{"scheduler":{"capacity":1,"bogus":true}}`},
		{"unknown yaml key", "c.yml", "platform:\n  speed: 3\n"},
		{"trailing json", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "scheduler: [\n"},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
			t.Fatalf("%s: Decode err = nil, want error", tt.name)
		}
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !cfg.Scheduler.OnFireEnabled() || cfg.Storage != nil {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"zero", Config{}, ""},
		{"level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
		{"file path", Config{Logging: LoggingConfig{File: LoggingFile{Enabled: true}}}, "logging.file.path"},
		{"capacity", Config{Scheduler: SchedulerConfig{Capacity: -1}}, "scheduler.capacity"},
		{"timezone", Config{Scheduler: SchedulerConfig{Timezone: "Nowhere/Land"}}, "scheduler.timezone"},
		{"timeout", Config{Scheduler: SchedulerConfig{Timeout: "soon"}}, "scheduler.timeout"},
		{"driver", Config{Platform: PlatformConfig{Driver: "apns"}}, "platform.driver"},
		{"workers", Config{Platform: PlatformConfig{Workers: -2}}, "platform.workers"},
		{"retry", Config{Platform: PlatformConfig{RetryMaxDelay: "-1s"}}, "platform.retry_max_delay"},
		{"busy", Config{Storage: &StorageConfig{Driver: "sqlite", BusyTimeout: "x"}}, "storage.busy_timeout"},
		{"redis db", Config{Storage: &StorageConfig{Driver: "redis", Redis: &RedisConfig{DB: -1}}}, "storage.redis.db"},
		{"http", Config{HTTP: HTTPConfig{IdleTimeout: "1 minute"}}, "http.idle_timeout"},
	}
	for _, tt := range tests {
		err := Validate(&tt.cfg)
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: Validate = %v, want nil", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Validate = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " "); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Second); err != nil || d != 90*time.Second {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationField("platform.retry_base", "-5s"); err == nil || !strings.Contains(err.Error(), "platform.retry_base") {
		t.Fatalf("negative err = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	oldCfg := &Config{
		Scheduler: SchedulerConfig{Reconcile: "1m"},
		Storage:   &StorageConfig{Driver: "redis", Redis: &RedisConfig{Addr: "a:1", Password: "one"}},
		HTTP:      HTTPConfig{Token: "t1"},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Reconcile: " 1m ", OnFire: &off},
		Storage:   &StorageConfig{Driver: "redis", Redis: &RedisConfig{Addr: "a:1", Password: "two"}},
		HTTP:      HTTPConfig{Token: "t1"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if want := []string{"scheduler", "storage"}; !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("attrs empty")
	}

	same := *oldCfg
	if changed, _ := SummarizeConfigChange(oldCfg, &same); len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
	if changed, _ := SummarizeConfigChange(nil, &Config{HTTP: HTTPConfig{Enabled: true}}); !reflect.DeepEqual(changed, []string{"http"}) {
		t.Fatalf("changed from nil = %v", changed)
	}
}

func TestHash(t *testing.T) {
	t.Parallel()
	a := &Config{Scheduler: SchedulerConfig{Capacity: 1}}
	b := &Config{Scheduler: SchedulerConfig{Capacity: 1}}
	c := &Config{Scheduler: SchedulerConfig{Capacity: 2}}
	if Hash(a) != Hash(b) || Hash(a) == Hash(c) || Hash(nil) != 0 {
		t.Fatalf("Hash mismatch: %x %x %x", Hash(a), Hash(b), Hash(c))
	}
}

func TestSubscribeDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("received %p, want newest %p", got, second)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	m.publish(first)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lnsched.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"scheduler":{"capacity":8}}`)

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Capacity > 100 {
			return errors.New("too big")
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Rejected by the validator; the committed config stays.
	time.Sleep(100 * time.Millisecond)
	write(`{"scheduler":{"capacity":500}}`)
	time.Sleep(200 * time.Millisecond)
	if got := m.Get().Scheduler.Capacity; got != 8 {
		t.Fatalf("capacity after rejected reload = %d, want 8", got)
	}

	write(`{"scheduler":{"capacity":16}}`)
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Capacity != 16 {
			t.Fatalf("published capacity = %d, want 16", cfg.Scheduler.Capacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if got := m.Get().Scheduler.Capacity; got != 16 {
		t.Fatalf("Get capacity = %d, want 16", got)
	}
}

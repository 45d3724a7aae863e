package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"timezone": "Asia/Taipei", "workers": 2, "queue_size": 64, "fire_timeout": "30s"},
		"storage": {"driver": "sqlite", "path": "./bot.db"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Logging.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.Timezone != "Asia/Taipei" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Notifier != nil {
		t.Fatal("omitted notifier section must stay nil")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./bot.log
scheduler:
  timezone: Asia/Taipei
notifier:
  workers: 3
  queue_size: 128
  rate_per_sec: 3
  retry_max: 2
  retry_base: 500ms
  retry_max_delay: 10s
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "./bot.log" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 3 || cfg.Notifier.RetryBase != "500ms" {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "x", "chat_id": 5}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "x"}}{"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestTokenFromEnv(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram": {"token": ""}}`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env:token")

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing token",
			cfg:     Config{},
			wantErr: "telegram.token",
		},
		{
			name: "bad fire_timeout",
			cfg: Config{
				Telegram:  TelegramConfig{Token: "x"},
				Scheduler: SchedulerConfig{FireTimeout: "soon"},
			},
			wantErr: "scheduler.fire_timeout",
		},
		{
			name: "unknown storage driver",
			cfg: Config{
				Telegram: TelegramConfig{Token: "x"},
				Storage:  &StorageConfig{Driver: "etcd"},
			},
			wantErr: "storage.driver",
		},
		{
			name: "negative notifier duration",
			cfg: Config{
				Telegram: TelegramConfig{Token: "x"},
				Notifier: &NotifierConfig{RetryBase: "-1s"},
			},
			wantErr: "notifier.retry_base",
		},
		{
			name: "valid",
			cfg: Config{
				Telegram:  TelegramConfig{Token: "x", PollTimeout: "10s"},
				Scheduler: SchedulerConfig{Timezone: "Asia/Taipei", FireTimeout: "30s"},
				Storage:   &StorageConfig{Driver: "memory"},
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "x"}}`)
	m := NewManager(path)

	if m.Get() != nil {
		t.Fatal("Get before Load must be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Telegram:  TelegramConfig{Token: "x", PollTimeout: "10s"},
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{Timezone: "Asia/Taipei"},
	}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "x", PollTimeout: "10s"},
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Storage:   &StorageConfig{Driver: "file", Path: "./st"},
	}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "scheduler", "storage"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}

	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("publish did not deliver")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after Unsubscribe")
	}
}

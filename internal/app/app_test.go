package app

import (
	"testing"
	"time"

	"dutybot/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if got := mapStorageConfig(&config.Config{}); got.Driver != "" {
		t.Fatalf("nil storage section must map to the memory default, got %+v", got)
	}

	got := mapStorageConfig(&config.Config{
		Storage: &config.StorageConfig{Driver: "sqlite", Path: "./bot.db", BusyTimeout: "5s"},
	})
	if got.Driver != "sqlite" || got.Path != "./bot.db" || got.BusyTimeout != 5*time.Second {
		t.Fatalf("mapStorageConfig = %+v", got)
	}
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()

	got, err := mapSchedulerConfig(&config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "Asia/Taipei", Workers: 4, QueueSize: 128, FireTimeout: "45s"},
	})
	if err != nil {
		t.Fatalf("mapSchedulerConfig: %v", err)
	}
	if got.Timezone != "Asia/Taipei" || got.Workers != 4 || got.FireTimeout != 45*time.Second {
		t.Fatalf("mapSchedulerConfig = %+v", got)
	}

	if _, err := mapSchedulerConfig(&config.Config{
		Scheduler: config.SchedulerConfig{FireTimeout: "whenever"},
	}); err == nil {
		t.Fatal("bad fire_timeout must fail")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	// Omitted section falls through to runtime defaults.
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.Workers != 0 || got.RetryBase != 0 {
		t.Fatalf("zero config expected, got %+v", got)
	}

	got, err = mapNotifierConfig(&config.Config{
		Notifier: &config.NotifierConfig{
			Workers: 3, QueueSize: 64, RatePerSec: 5,
			RetryMax: 2, RetryBase: "250ms", RetryMaxDelay: "5s", SendTimeout: "8s",
		},
	})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.RetryBase != 250*time.Millisecond || got.RetryMaxDelay != 5*time.Second || got.SendTimeout != 8*time.Second {
		t.Fatalf("mapNotifierConfig = %+v", got)
	}
}

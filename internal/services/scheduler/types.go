package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is used when Config.Timezone is empty or invalid.
const DefaultTimezone = "Asia/Taipei"

// Config controls the trigger service.
type Config struct {
	Timezone    string        `json:"timezone"`     // IANA TZ for all triggers
	Workers     int           `json:"workers"`      // fire workers (default 2)
	QueueSize   int           `json:"queue_size"`   // pending fires (default 64)
	FireTimeout time.Duration `json:"fire_timeout"` // per-fire deadline (default 30s)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.FireTimeout <= 0 {
		c.FireTimeout = 30 * time.Second
	}
	return c
}

// trigger is the live registration for one tenant.
type trigger struct {
	spec    string
	entryID cron.EntryID
	gen     uint64
}

// task is one pending fire. gen pins it to the trigger generation that
// enqueued it.
type task struct {
	tenantID string
	gen      uint64
}

// TriggerInfo is a read-only view of one installed trigger.
type TriggerInfo struct {
	TenantID string
	Spec     string
	Next     time.Time
}

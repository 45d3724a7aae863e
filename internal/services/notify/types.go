package notify

import (
	"context"
	"time"
)

// Notification is one outbound reminder message for a tenant chat.
type Notification struct {
	TenantID string
	Text     string
}

// Sender delivers a message to a tenant's chat. Implemented by the
// telegram adapter; tests use fakes.
type Sender interface {
	SendText(ctx context.Context, tenantID, text string) error
}

// Config controls the notification pipeline.
type Config struct {
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	RatePerSec    int           `json:"rate_per_sec"`
	RetryMax      int           `json:"retry_max"`
	RetryBase     time.Duration `json:"retry_base"`
	RetryMaxDelay time.Duration `json:"retry_max_delay"`
	SendTimeout   time.Duration `json:"send_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

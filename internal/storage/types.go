package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dutybot/internal/rotation"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory" (or empty): in-process only
//   - "file": JSON snapshot at Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	DSN         string        `json:"dsn"`
	BusyTimeout time.Duration `json:"busy_timeout"` // sqlite only; 0 means default
}

// Store is the persistence API used by the command layer.
//
// Load returns (nil, nil) for an unknown tenant. Save fully replaces the
// tenant's record. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, tenantID string) (*rotation.Tenant, error)
	Save(ctx context.Context, t *rotation.Tenant) error
	Delete(ctx context.Context, tenantID string) error
	ListAll(ctx context.Context) ([]*rotation.Tenant, error)
	Close() error
}

// tenantRecord is the wire schema shared by the file, sqlite and
// postgres drivers. Keep it stable; weekdays persist as 0-based
// Mon..Sun integers.
type tenantRecord struct {
	ID       string           `json:"id"`
	BaseDate string           `json:"base_date,omitempty"` // RFC3339, empty when unset
	Weeks    map[int][]string `json:"weeks,omitempty"`
	Schedule *scheduleRecord  `json:"schedule,omitempty"`
	Template string           `json:"template,omitempty"`
}

type scheduleRecord struct {
	Days   []int `json:"days"`
	Hour   int   `json:"hour"`
	Minute int   `json:"minute"`
}

func encodeTenant(t *rotation.Tenant) ([]byte, error) {
	rec := tenantRecord{
		ID:       t.ID,
		Weeks:    t.Weeks,
		Template: t.MessageTemplate,
	}
	if !t.BaseDate.IsZero() {
		rec.BaseDate = t.BaseDate.Format(time.RFC3339)
	}
	if t.Schedule != nil {
		sr := &scheduleRecord{Hour: t.Schedule.Hour, Minute: t.Schedule.Minute}
		for _, d := range t.Schedule.Days {
			sr.Days = append(sr.Days, int(d))
		}
		rec.Schedule = sr
	}
	return json.Marshal(rec)
}

func decodeTenant(data []byte) (*rotation.Tenant, error) {
	var rec tenantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	t := rotation.NewTenant(rec.ID)
	if rec.Weeks != nil {
		t.Weeks = rec.Weeks
	}
	t.MessageTemplate = rec.Template
	if rec.BaseDate != "" {
		ts, err := time.Parse(time.RFC3339, rec.BaseDate)
		if err != nil {
			return nil, err
		}
		t.BaseDate = ts
	}
	if rec.Schedule != nil {
		sc := &rotation.ScheduleConfig{Hour: rec.Schedule.Hour, Minute: rec.Schedule.Minute}
		for _, d := range rec.Schedule.Days {
			sc.Days = append(sc.Days, rotation.Weekday(d))
		}
		sc.Normalize()
		t.Schedule = sc
	}
	return t, nil
}

// Package core is the command layer: the dispatcher that routes inbound
// chat text, the handlers that mutate tenant state, and the tenant
// service that serializes those mutations against the live triggers.
package core

import (
	"context"
	"time"

	"dutybot/internal/services/notify"
	"dutybot/internal/rotation"
	"dutybot/pkg/logx"
)

// Sigil starts every command word.
const Sigil = "@"

// HandlerFunc runs one command and returns the reply text. Errors are
// converted to reply text at the dispatch boundary, never propagated to
// the transport.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

// Command is one registry entry. Registration order is the routing
// tie-break, so the order handlers are listed in matters.
type Command struct {
	Name        string   // canonical, e.g. "@week"
	Aliases     []string // localized forms, rewritten to Name before routing
	Description string
	Usage       string
	Timeout     time.Duration // overrides the dispatcher's default deadline when > 0
	Handle      HandlerFunc
}

// Request carries one inbound command through the middleware chain.
type Request struct {
	TenantID string
	Command  string   // canonical name
	ArgText  string   // raw remainder after the command word
	Args     []string // whitespace-split ArgText
	ReqID    string

	Logger  logx.Logger
	Service *TenantService
}

// SchedulePort is the trigger manager as seen by handlers.
type SchedulePort interface {
	Upsert(tenantID string, sched *rotation.ScheduleConfig) (time.Time, error)
	Remove(tenantID string) bool
	NextFireTime(tenantID string) (time.Time, bool)
	Location() *time.Location
}

// NotifierPort delivers outbound reminders.
type NotifierPort interface {
	Notify(ctx context.Context, n notify.Notification) error
}

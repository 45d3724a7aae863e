package rotation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekday is a day of the week in the canonical Mon..Sun order used for
// rotation math. Note this differs from time.Weekday (Sunday-first).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
var weekdayLabels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

// String returns the short lowercase name ("mon".."sun") used in commands
// and persisted state.
func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// Label returns the display form ("Mon".."Sun").
func (w Weekday) Label() string {
	if !w.Valid() {
		return w.String()
	}
	return weekdayLabels[w]
}

// CronDOW converts to the cron day-of-week numbering (Sunday=0).
func (w Weekday) CronDOW() int { return (int(w) + 1) % 7 }

// WeekdayOf converts a calendar date to the canonical weekday.
func WeekdayOf(t time.Time) Weekday {
	// time.Weekday: Sunday=0 .. Saturday=6.
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday accepts the short names "mon".."sun" (case-insensitive).
func ParseWeekday(s string) (Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range weekdayNames {
		if s == n {
			return Weekday(i), true
		}
	}
	return 0, false
}

// ValidationError reports user-correctable problems in rotation or
// schedule data. Handlers render it verbatim as the reply text.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ScheduleConfig is a tenant's recurring reminder slot: the set of active
// weekdays plus a local fire time (scheduler timezone).
type ScheduleConfig struct {
	Days   []Weekday `json:"days"`
	Hour   int       `json:"hour"`
	Minute int       `json:"minute"`
}

// Normalize sorts Days into canonical Mon..Sun order and drops duplicates.
// Day order is canonical, never insertion order: it drives the index-based
// member assignment in CurrentDayMember.
func (c *ScheduleConfig) Normalize() {
	if len(c.Days) == 0 {
		return
	}
	seen := [7]bool{}
	out := c.Days[:0]
	for _, d := range c.Days {
		if d.Valid() && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	c.Days = out
}

// Validate reports the first problem found, or nil. A valid config is
// required before a trigger may be installed.
func (c *ScheduleConfig) Validate() error {
	if c == nil {
		return invalidf("schedule is not set")
	}
	if len(c.Days) == 0 {
		return invalidf("at least one weekday is required (mon..sun)")
	}
	for _, d := range c.Days {
		if !d.Valid() {
			return invalidf("invalid weekday %d; use mon,tue,wed,thu,fri,sat,sun", int(d))
		}
	}
	if c.Hour < 0 || c.Hour > 23 {
		return invalidf("hour must be 0-23, got %d", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return invalidf("minute must be 0-59, got %d", c.Minute)
	}
	return nil
}

// DayIndex returns the position of w within the active days (canonical
// order), or -1 if w is not active.
func (c *ScheduleConfig) DayIndex(w Weekday) int {
	for i, d := range c.Days {
		if d == w {
			return i
		}
	}
	return -1
}

// DaysString renders the active days as "mon,thu".
func (c *ScheduleConfig) DaysString() string {
	parts := make([]string, 0, len(c.Days))
	for _, d := range c.Days {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ",")
}

func (c *ScheduleConfig) Clone() *ScheduleConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Days = append([]Weekday(nil), c.Days...)
	return &cp
}

// Tenant is one independently configured communication group: its
// rotation table, its reminder schedule, and an optional message
// template override.
type Tenant struct {
	ID string

	// BaseDate anchors week 1. Zero until the first rotation write.
	BaseDate time.Time

	// Weeks maps 1-based week numbers to ordered member lists. Keys need
	// not be contiguous; a missing key is a "nobody assigned" week.
	Weeks map[int][]string

	// Schedule is nil when no recurring reminder is configured.
	Schedule *ScheduleConfig

	// MessageTemplate overrides the built-in reminder text. Placeholders:
	// {name}, {date}, {weekday}.
	MessageTemplate string
}

func NewTenant(id string) *Tenant {
	return &Tenant{ID: id, Weeks: map[int][]string{}}
}

// TotalWeeks is the count of distinct configured week numbers (not the
// max key).
func (t *Tenant) TotalWeeks() int { return len(t.Weeks) }

// WeekNumbers returns the configured week numbers in ascending order.
func (t *Tenant) WeekNumbers() []int {
	out := make([]int, 0, len(t.Weeks))
	for n := range t.Weeks {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy. Handlers mutate clones and persist them
// before the live trigger is re-armed.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Weeks = make(map[int][]string, len(t.Weeks))
	for n, members := range t.Weeks {
		cp.Weeks[n] = append([]string(nil), members...)
	}
	cp.Schedule = t.Schedule.Clone()
	return &cp
}

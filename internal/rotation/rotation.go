// Package rotation holds the tenant model and the pure week/member
// assignment math. Nothing here touches storage, clocks, or transports;
// every function takes the reference time explicitly.
package rotation

import "time"

// mondayOf truncates t to the Monday 00:00 of its natural week, in t's
// location.
func mondayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -int(WeekdayOf(day)))
}

// mondayUTC re-materializes mondayOf(t)'s calendar date at UTC
// midnight. Differences between two such values are exact multiples of
// 24h even when t's location observes DST, where a transition week is
// 167 or 169 wall-clock hours.
func mondayUTC(t time.Time) time.Time {
	y, m, d := mondayOf(t).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// floorDiv is integer division rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mathMod is the mathematical modulo: result always in [0, b).
func mathMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// CurrentWeek returns the 1-based rotation week active at now.
//
// Weeks are natural Monday-anchored weeks: the week containing BaseDate
// is week 1 regardless of which weekday BaseDate falls on, and the
// boundary is Monday 00:00. A now before BaseDate wraps backwards
// through the cycle (floor division + mathematical modulo), so the
// result is always in [1, TotalWeeks()].
//
// With no configured weeks the cycle length is taken as 1 and the
// result is 1; callers that care must check TotalWeeks() themselves.
func (t *Tenant) CurrentWeek(now time.Time) int {
	total := t.TotalWeeks()
	if total < 1 {
		total = 1
	}
	if t.BaseDate.IsZero() {
		return 1
	}
	days := int(mondayUTC(now).Sub(mondayUTC(t.BaseDate)).Hours() / 24)
	weeksDiff := floorDiv(days, 7)
	return mathMod(weeksDiff, total) + 1
}

// CurrentWeekMembers returns the member list of the active week, or nil
// when that week number has no entry.
func (t *Tenant) CurrentWeekMembers(now time.Time) []string {
	return t.Weeks[t.CurrentWeek(now)]
}

// CurrentDayMember resolves today's duty member: the position of now's
// weekday within the schedule's active days (canonical Mon..Sun order),
// modulo the member count.
//
// Returns ("", false) when the schedule is unset, today is not an
// active day, or the active week has no members. With fewer members
// than active days, members repeat cyclically across the week.
func (t *Tenant) CurrentDayMember(now time.Time) (string, bool) {
	if t.Schedule == nil {
		return "", false
	}
	idx := t.Schedule.DayIndex(WeekdayOf(now))
	if idx < 0 {
		return "", false
	}
	members := t.CurrentWeekMembers(now)
	if len(members) == 0 {
		return "", false
	}
	return members[idx%len(members)], true
}

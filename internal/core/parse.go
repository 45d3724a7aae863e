package core

import (
	"strconv"
	"strings"

	"dutybot/internal/rotation"
)

func invalid(msg string) *rotation.ValidationError {
	return &rotation.ValidationError{Msg: msg}
}

// memberSeparators are the list separators users actually type,
// including the fullwidth forms common on Chinese keyboards.
var memberSeparators = []string{",", "，", "、", ";", "；"}

func splitList(s string) []string {
	for _, sep := range memberSeparators {
		s = strings.ReplaceAll(s, sep, " ")
	}
	return strings.Fields(s)
}

// parseMembers splits a member list on commas, spaces and their
// fullwidth equivalents.
func parseMembers(s string) ([]string, error) {
	members := splitList(s)
	if len(members) == 0 {
		return nil, invalid("member list is empty")
	}
	return members, nil
}

// parseWeekdays accepts "mon,thu" style short names and the Chinese
// forms 一..日 with an optional 星期/週/周 prefix.
func parseWeekdays(s string) ([]rotation.Weekday, error) {
	tokens := splitList(s)
	if len(tokens) == 0 {
		return nil, invalid("at least one weekday is required (mon..sun)")
	}
	var days []rotation.Weekday
	for _, tok := range tokens {
		d, ok := parseOneWeekday(tok)
		if !ok {
			return nil, invalid("unknown weekday " + strconv.Quote(tok) + "; use mon,tue,wed,thu,fri,sat,sun")
		}
		days = append(days, d)
	}
	return days, nil
}

var chineseWeekdays = map[string]rotation.Weekday{
	"一": rotation.Monday,
	"二": rotation.Tuesday,
	"三": rotation.Wednesday,
	"四": rotation.Thursday,
	"五": rotation.Friday,
	"六": rotation.Saturday,
	"日": rotation.Sunday,
	"天": rotation.Sunday,
}

func parseOneWeekday(tok string) (rotation.Weekday, bool) {
	if d, ok := rotation.ParseWeekday(tok); ok {
		return d, true
	}
	for _, prefix := range []string{"星期", "週", "周"} {
		tok = strings.TrimPrefix(tok, prefix)
	}
	d, ok := chineseWeekdays[tok]
	return d, ok
}

// parseTimeFlexible accepts "18:30", "18 30" and "1830" (also "930").
func parseTimeFlexible(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "：", ":"))
	if s == "" {
		return 0, 0, invalid("time is required, e.g. 17:10")
	}

	var hs, ms string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		hs, ms = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	default:
		fields := strings.Fields(s)
		switch {
		case len(fields) == 2:
			hs, ms = fields[0], fields[1]
		case len(fields) == 1 && len(fields[0]) == 4:
			hs, ms = fields[0][:2], fields[0][2:]
		case len(fields) == 1 && len(fields[0]) == 3:
			hs, ms = fields[0][:1], fields[0][1:]
		default:
			return 0, 0, invalid("cannot parse time " + strconv.Quote(s) + "; use HH:MM")
		}
	}

	h, herr := strconv.Atoi(hs)
	m, merr := strconv.Atoi(ms)
	if herr != nil || merr != nil {
		return 0, 0, invalid("cannot parse time " + strconv.Quote(s) + "; use HH:MM")
	}
	if h < 0 || h > 23 {
		return 0, 0, invalid("hour must be 0-23, got " + strconv.Itoa(h))
	}
	if m < 0 || m > 59 {
		return 0, 0, invalid("minute must be 0-59, got " + strconv.Itoa(m))
	}
	return h, m, nil
}

// parseWeekNumber parses a 1-based rotation week number.
func parseWeekNumber(tok string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil || n < 1 {
		return 0, invalid("week number must be a positive integer, got " + strconv.Quote(tok))
	}
	return n, nil
}

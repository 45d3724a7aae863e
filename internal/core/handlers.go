package core

import (
	"context"
	"fmt"
	"strings"

	"dutybot/internal/rotation"
)

const nextFireFormat = "2006-01-02 15:04 (Mon)"

// Registry builds the command table. Order matters: it is the routing
// tie-break and the order @help lists commands in.
func Registry() []Command {
	var cmds []Command
	cmds = append(cmds,
		Command{
			Name:        "@cron",
			Aliases:     []string{"@設定排程"},
			Description: "set the reminder schedule (days and time)",
			Usage:       "@cron mon,thu 17:10",
			Handle:      handleCron,
		},
		Command{
			Name:        "@time",
			Aliases:     []string{"@設定時間"},
			Description: "set the reminder time, keeping the days",
			Usage:       "@time 17:10",
			Handle:      handleTime,
		},
		Command{
			Name:        "@day",
			Aliases:     []string{"@設定星期"},
			Description: "set the reminder days, keeping the time",
			Usage:       "@day mon,thu",
			Handle:      handleDay,
		},
		Command{
			Name:        "@week",
			Aliases:     []string{"@設定成員"},
			Description: "set the members for one rotation week",
			Usage:       "@week 1 Alice,Bob",
			Handle:      handleWeek,
		},
		Command{
			Name:        "@addmember",
			Description: "add one member to a rotation week",
			Usage:       "@addmember 1 Dave",
			Handle:      handleAddMember,
		},
		Command{
			Name:        "@removemember",
			Description: "remove one member from a rotation week",
			Usage:       "@removemember 1 Dave",
			Handle:      handleRemoveMember,
		},
		Command{
			Name:        "@message",
			Aliases:     []string{"@設定文案"},
			Description: "set the reminder text ({name}, {date}, {weekday}); '@message reset' restores the default",
			Usage:       "@message 🧹 {date} {weekday}: {name}'s turn!",
			Handle:      handleMessage,
		},
		Command{
			Name:        "@members",
			Aliases:     []string{"@查看成員"},
			Description: "show the rotation table",
			Handle:      handleMembers,
		},
		Command{
			Name:        "@schedule",
			Aliases:     []string{"@查看排程"},
			Description: "show the reminder schedule and next fire time",
			Handle:      handleSchedule,
		},
		Command{
			Name:        "@status",
			Aliases:     []string{"@查看狀態"},
			Description: "show rotation, schedule and today's duty",
			Handle:      handleStatus,
		},
		Command{
			Name:        "@quickstart",
			Aliases:     []string{"@快速設定"},
			Description: "step-by-step setup guide",
			Handle:      handleQuickstart,
		},
		Command{
			Name:        "@clear_week",
			Description: "remove one rotation week",
			Usage:       "@clear_week 2",
			Handle:      handleClearWeek,
		},
		Command{
			Name:        "@clear_members",
			Description: "remove the whole rotation table",
			Handle:      handleClearMembers,
		},
		Command{
			Name:        "@clear_schedule",
			Description: "remove the reminder schedule",
			Handle:      handleClearSchedule,
		},
		Command{
			Name:        "@reset_all",
			Aliases:     []string{"@重置"},
			Description: "delete everything configured for this group",
			Handle:      handleResetAll,
		},
	)
	cmds = append(cmds, Command{
		Name:        "@help",
		Aliases:     []string{"@幫助", "@說明"},
		Description: "show this help",
		Usage:       "@help [command]",
		Handle: func(ctx context.Context, req *Request) (string, error) {
			return formatHelp(cmds, req.Args), nil
		},
	})
	return cmds
}

func handleCron(ctx context.Context, req *Request) (string, error) {
	days, hour, minute, err := splitDaysAndTime(req.ArgText)
	if err != nil {
		return "", err
	}
	next, err := req.Service.SetSchedule(ctx, req.TenantID, days, hour, minute)
	if err != nil {
		return "", err
	}
	cfg := &rotation.ScheduleConfig{Days: days, Hour: hour, Minute: minute}
	cfg.Normalize()
	return fmt.Sprintf("Reminder set: %s at %02d:%02d.\nNext fire: %s",
		cfg.DaysString(), hour, minute, next.Format(nextFireFormat)), nil
}

func handleTime(ctx context.Context, req *Request) (string, error) {
	hour, minute, err := parseTimeFlexible(req.ArgText)
	if err != nil {
		return "", err
	}
	next, err := req.Service.SetTime(ctx, req.TenantID, hour, minute)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder time set to %02d:%02d.\nNext fire: %s",
		hour, minute, next.Format(nextFireFormat)), nil
}

func handleDay(ctx context.Context, req *Request) (string, error) {
	days, err := parseWeekdays(req.ArgText)
	if err != nil {
		return "", err
	}
	next, err := req.Service.SetDays(ctx, req.TenantID, days)
	if err != nil {
		return "", err
	}
	cfg := &rotation.ScheduleConfig{Days: days}
	cfg.Normalize()
	return fmt.Sprintf("Reminder days set to %s.\nNext fire: %s",
		cfg.DaysString(), next.Format(nextFireFormat)), nil
}

func handleWeek(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "", invalid("usage: @week <n> <members>, e.g. @week 1 Alice,Bob")
	}
	week, err := parseWeekNumber(req.Args[0])
	if err != nil {
		return "", err
	}
	members, err := parseMembers(strings.TrimSpace(strings.TrimPrefix(req.ArgText, req.Args[0])))
	if err != nil {
		return "", err
	}
	if _, err := req.Service.SetWeekMembers(ctx, req.TenantID, week, members); err != nil {
		return "", err
	}
	return fmt.Sprintf("Week %d members set: %s", week, strings.Join(members, ", ")), nil
}

func handleAddMember(ctx context.Context, req *Request) (string, error) {
	week, name, err := weekAndName(req)
	if err != nil {
		return "", err
	}
	if _, err := req.Service.AddMember(ctx, req.TenantID, week, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s to week %d.", name, week), nil
}

func handleRemoveMember(ctx context.Context, req *Request) (string, error) {
	week, name, err := weekAndName(req)
	if err != nil {
		return "", err
	}
	if _, err := req.Service.RemoveMember(ctx, req.TenantID, week, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %s from week %d.", name, week), nil
}

func handleMessage(ctx context.Context, req *Request) (string, error) {
	text := strings.TrimSpace(req.ArgText)
	switch text {
	case "":
		t, err := req.Service.Tenant(ctx, req.TenantID)
		if err != nil {
			return "", err
		}
		current := DefaultTemplate
		if t != nil && t.MessageTemplate != "" {
			current = t.MessageTemplate
		}
		return "Current template: " + current +
			"\nSet one with @message <text> ({name}, {date}, {weekday}); reset with @message reset.", nil
	case "reset":
		if err := req.Service.SetTemplate(ctx, req.TenantID, ""); err != nil {
			return "", err
		}
		return "Reminder text restored to the default.", nil
	default:
		if !strings.Contains(text, "{name}") {
			return "", invalid("template must contain {name}")
		}
		if err := req.Service.SetTemplate(ctx, req.TenantID, text); err != nil {
			return "", err
		}
		return "Reminder text updated.", nil
	}
}

func handleMembers(ctx context.Context, req *Request) (string, error) {
	st, err := req.Service.Status(ctx, req.TenantID)
	if err != nil {
		return "", err
	}
	return formatMembers(st), nil
}

func handleSchedule(ctx context.Context, req *Request) (string, error) {
	st, err := req.Service.Status(ctx, req.TenantID)
	if err != nil {
		return "", err
	}
	return formatSchedule(st), nil
}

func handleStatus(ctx context.Context, req *Request) (string, error) {
	st, err := req.Service.Status(ctx, req.TenantID)
	if err != nil {
		return "", err
	}
	return formatStatus(st), nil
}

func handleQuickstart(ctx context.Context, req *Request) (string, error) {
	st, err := req.Service.Status(ctx, req.TenantID)
	if err != nil {
		return "", err
	}
	return formatQuickstart(st), nil
}

func handleClearWeek(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", invalid("usage: @clear_week <n>")
	}
	week, err := parseWeekNumber(req.Args[0])
	if err != nil {
		return "", err
	}
	if err := req.Service.ClearWeek(ctx, req.TenantID, week); err != nil {
		return "", err
	}
	return fmt.Sprintf("Week %d cleared.", week), nil
}

func handleClearMembers(ctx context.Context, req *Request) (string, error) {
	if err := req.Service.ClearMembers(ctx, req.TenantID); err != nil {
		return "", err
	}
	return "Rotation table cleared.", nil
}

func handleClearSchedule(ctx context.Context, req *Request) (string, error) {
	if err := req.Service.ClearSchedule(ctx, req.TenantID); err != nil {
		return "", err
	}
	return "Schedule cleared; the reminder is off.", nil
}

func handleResetAll(ctx context.Context, req *Request) (string, error) {
	if err := req.Service.ResetAll(ctx, req.TenantID); err != nil {
		return "", err
	}
	return "Everything cleared for this group.", nil
}

func weekAndName(req *Request) (int, string, error) {
	if len(req.Args) < 2 {
		return 0, "", invalid("usage: " + req.Command + " <week> <name>")
	}
	week, err := parseWeekNumber(req.Args[0])
	if err != nil {
		return 0, "", err
	}
	name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.ArgText), req.Args[0]))
	if name == "" {
		return 0, "", invalid("member name is required")
	}
	return week, name, nil
}

// splitDaysAndTime parses "@cron" arguments: weekdays followed by a
// flexible time ("mon,thu 17:10", "mon thu 17 10", "一,四 1710").
func splitDaysAndTime(argText string) ([]rotation.Weekday, int, int, error) {
	fields := strings.Fields(strings.TrimSpace(argText))
	if len(fields) < 2 {
		return nil, 0, 0, invalid("usage: @cron <days> <HH:MM>, e.g. @cron mon,thu 17:10")
	}

	// The time is the last token, or the last two when written "18 30".
	if h, m, err := parseTimeFlexible(fields[len(fields)-1]); err == nil {
		days, derr := parseWeekdays(strings.Join(fields[:len(fields)-1], " "))
		if derr != nil {
			return nil, 0, 0, derr
		}
		return days, h, m, nil
	}
	if len(fields) >= 3 {
		if h, m, err := parseTimeFlexible(fields[len(fields)-2] + " " + fields[len(fields)-1]); err == nil {
			days, derr := parseWeekdays(strings.Join(fields[:len(fields)-2], " "))
			if derr != nil {
				return nil, 0, 0, derr
			}
			return days, h, m, nil
		}
	}
	return nil, 0, 0, invalid("cannot parse the time; use HH:MM, e.g. @cron mon,thu 17:10")
}

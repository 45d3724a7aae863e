package core

import (
	"fmt"
	"strings"
	"time"

	"dutybot/internal/rotation"
)

// RenderTemplate fills the reminder placeholders {name}, {date} and
// {weekday}.
func RenderTemplate(template, name string, now time.Time) string {
	r := strings.NewReplacer(
		"{name}", name,
		"{date}", now.Format("2006-01-02"),
		"{weekday}", rotation.WeekdayOf(now).Label(),
	)
	return r.Replace(template)
}

func formatMembers(st *Status) string {
	t := st.Tenant
	if t == nil || t.TotalWeeks() == 0 {
		return "No rotation configured yet. Use " + Sigil + "week <n> <members> to set one up."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Rotation (%d weeks):\n", t.TotalWeeks()))
	for _, n := range t.WeekNumbers() {
		marker := "  "
		if n == st.CurrentWeek {
			marker = "▶ "
		}
		b.WriteString(fmt.Sprintf("%sweek %d: %s\n", marker, n, strings.Join(t.Weeks[n], ", ")))
	}
	b.WriteString(fmt.Sprintf("Current week: %d", st.CurrentWeek))
	return b.String()
}

func formatSchedule(st *Status) string {
	t := st.Tenant
	if t == nil || t.Schedule == nil {
		return "No schedule configured yet. Use " + Sigil + "cron <days> <HH:MM> to set one up."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Reminder: %s at %02d:%02d\n",
		t.Schedule.DaysString(), t.Schedule.Hour, t.Schedule.Minute))
	if st.HasTrigger {
		b.WriteString("Next fire: " + st.NextFire.Format("2006-01-02 15:04 (Mon)"))
	} else {
		b.WriteString("Reminder is not armed. Re-send " + Sigil + "cron to arm it.")
	}
	return b.String()
}

func formatStatus(st *Status) string {
	if st.Tenant == nil {
		return "Nothing configured yet. Try " + Sigil + "quickstart."
	}
	parts := []string{formatMembers(st), formatSchedule(st)}
	if st.TodayOnDuty {
		parts = append(parts, "On duty today: "+st.TodayName)
	} else {
		parts = append(parts, "No duty today.")
	}
	return strings.Join(parts, "\n\n")
}

func formatQuickstart(st *Status) string {
	hasRotation := st.Tenant != nil && st.Tenant.TotalWeeks() > 0
	hasSchedule := st.Tenant != nil && st.Tenant.Schedule != nil

	var b strings.Builder
	b.WriteString("Setup guide:\n")
	if hasRotation {
		b.WriteString("✅ Rotation is configured.\n")
	} else {
		b.WriteString("1. Set the members per week:\n   " + Sigil + "week 1 Alice,Bob\n   " + Sigil + "week 2 Carol\n")
	}
	if hasSchedule {
		b.WriteString("✅ Schedule is configured.\n")
	} else {
		b.WriteString("2. Set the reminder schedule:\n   " + Sigil + "cron mon,thu 17:10\n")
	}
	if hasRotation && hasSchedule {
		b.WriteString("All set. " + Sigil + "status shows the current state.")
	} else {
		b.WriteString("Then check with " + Sigil + "status.")
	}
	return b.String()
}

// WelcomeText is sent when the bot joins a group.
func WelcomeText() string {
	return "Hi! I remind this group about rotating duties.\n" +
		"Start with " + Sigil + "quickstart, or see " + Sigil + "help for all commands."
}

func formatHelp(cmds []Command, args []string) string {
	if len(args) > 0 {
		want := args[0]
		if !strings.HasPrefix(want, Sigil) {
			want = Sigil + want
		}
		for _, c := range cmds {
			if c.Name == want {
				var b strings.Builder
				b.WriteString(c.Name + " — " + c.Description)
				if c.Usage != "" {
					b.WriteString("\nUsage: " + c.Usage)
				}
				if len(c.Aliases) > 0 {
					b.WriteString("\nAliases: " + strings.Join(c.Aliases, ", "))
				}
				return b.String()
			}
		}
		return "Unknown command " + want + ". See " + Sigil + "help."
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range cmds {
		b.WriteString(fmt.Sprintf("%s — %s\n", c.Name, c.Description))
	}
	b.WriteString("\n" + Sigil + "help <command> shows usage and aliases.")
	return b.String()
}

package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dutybot/internal/rotation"
	"dutybot/internal/storage"
	"dutybot/pkg/logx"
)

// failStore wraps a real store and fails writes on demand.
type failStore struct {
	storage.Store
	failSave bool
}

func (f *failStore) Save(ctx context.Context, t *rotation.Tenant) error {
	if f.failSave {
		return errors.New("disk on fire")
	}
	return f.Store.Save(ctx, t)
}

func fixedNow(s *TenantService, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestSetScheduleSaveThenCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	fs := &failStore{Store: storage.NewMemory()}
	svc := NewTenantService(fs, sched, &fakeNotifier{}, logx.Nop())

	fs.failSave = true
	_, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StoreError", err)
	}
	if sched.upserts != 0 {
		t.Fatal("trigger was armed although the save failed")
	}

	fs.failSave = false
	if _, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if sched.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", sched.upserts)
	}
}

func TestSetScheduleUpsertFailureIsSchedulerError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	sched.upsertFn = func(string, *rotation.ScheduleConfig) (time.Time, error) {
		return time.Time{}, errors.New("timer exhausted")
	}
	svc := NewTenantService(storage.NewMemory(), sched, &fakeNotifier{}, logx.Nop())

	_, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10)
	var se *SchedulerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchedulerError", err)
	}
	// State is saved: the user re-issuing the command repairs the trigger.
	tn, err := svc.Tenant(ctx, "g")
	if err != nil || tn == nil || tn.Schedule == nil {
		t.Fatalf("schedule not saved: %v, %v", tn, err)
	}
}

func TestSetTimeDefaultsDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewTenantService(storage.NewMemory(), newFakeSched(), &fakeNotifier{}, logx.Nop())

	if _, err := svc.SetTime(ctx, "g", 18, 30); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	tn, _ := svc.Tenant(ctx, "g")
	if tn.Schedule.DaysString() != "mon,thu" {
		t.Fatalf("days = %s, want default mon,thu", tn.Schedule.DaysString())
	}
	if tn.Schedule.Hour != 18 || tn.Schedule.Minute != 30 {
		t.Fatalf("time = %02d:%02d", tn.Schedule.Hour, tn.Schedule.Minute)
	}
}

func TestSetDaysKeepsTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewTenantService(storage.NewMemory(), newFakeSched(), &fakeNotifier{}, logx.Nop())

	if _, err := svc.SetTime(ctx, "g", 8, 0); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	if _, err := svc.SetDays(ctx, "g", []rotation.Weekday{rotation.Friday}); err != nil {
		t.Fatalf("SetDays: %v", err)
	}
	tn, _ := svc.Tenant(ctx, "g")
	if tn.Schedule.Hour != 8 || tn.Schedule.DaysString() != "fri" {
		t.Fatalf("schedule = %+v", tn.Schedule)
	}
}

func TestWeekMembersAnchorsBaseDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	svc := NewTenantService(storage.NewMemory(), sched, &fakeNotifier{}, logx.Nop())
	anchor := time.Date(2026, time.January, 7, 12, 0, 0, 0, sched.loc)
	fixedNow(svc, anchor)

	if _, err := svc.SetWeekMembers(ctx, "g", 1, []string{"Alice"}); err != nil {
		t.Fatalf("SetWeekMembers: %v", err)
	}
	tn, _ := svc.Tenant(ctx, "g")
	if tn.BaseDate.IsZero() {
		t.Fatal("BaseDate not anchored on first rotation write")
	}
	first := tn.BaseDate

	// Later writes keep the anchor.
	fixedNow(svc, anchor.AddDate(0, 0, 30))
	if _, err := svc.SetWeekMembers(ctx, "g", 2, []string{"Bob"}); err != nil {
		t.Fatalf("SetWeekMembers 2: %v", err)
	}
	tn, _ = svc.Tenant(ctx, "g")
	if !tn.BaseDate.Equal(first) {
		t.Fatal("BaseDate moved on later writes")
	}
}

func TestAddRemoveMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewTenantService(storage.NewMemory(), newFakeSched(), &fakeNotifier{}, logx.Nop())

	if _, err := svc.AddMember(ctx, "g", 1, "Alice"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := svc.AddMember(ctx, "g", 1, "Alice"); err == nil {
		t.Fatal("duplicate add must fail")
	}
	if _, err := svc.RemoveMember(ctx, "g", 1, "Bob"); err == nil {
		t.Fatal("removing an absent member must fail")
	} else {
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("err = %T, want NotFoundError", err)
		}
	}
	if _, err := svc.RemoveMember(ctx, "g", 2, "Alice"); err == nil {
		t.Fatal("removing from an absent week must fail")
	}

	tn, err := svc.RemoveMember(ctx, "g", 1, "Alice")
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, ok := tn.Weeks[1]; ok {
		t.Fatal("emptied week should be dropped")
	}
}

func TestClearScheduleRemovesTrigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	svc := NewTenantService(storage.NewMemory(), sched, &fakeNotifier{}, logx.Nop())

	if _, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if err := svc.ClearSchedule(ctx, "g"); err != nil {
		t.Fatalf("ClearSchedule: %v", err)
	}
	if sched.removes != 1 {
		t.Fatalf("removes = %d, want 1", sched.removes)
	}
	if err := svc.ClearSchedule(ctx, "g"); err == nil {
		t.Fatal("clearing an absent schedule must fail")
	}
}

func TestResetAllDeletesTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	svc := NewTenantService(storage.NewMemory(), sched, &fakeNotifier{}, logx.Nop())

	if _, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if err := svc.ResetAll(ctx, "g"); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	tn, err := svc.Tenant(ctx, "g")
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if tn != nil {
		t.Fatal("tenant survived ResetAll")
	}
	if sched.removes != 1 {
		t.Fatalf("removes = %d", sched.removes)
	}
}

func TestMigrateMovesTenantAndTrigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	svc := NewTenantService(storage.NewMemory(), sched, &fakeNotifier{}, logx.Nop())

	if _, err := svc.SetSchedule(ctx, "old", []rotation.Weekday{rotation.Monday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if _, err := svc.SetWeekMembers(ctx, "old", 1, []string{"Alice"}); err != nil {
		t.Fatalf("SetWeekMembers: %v", err)
	}

	if err := svc.Migrate(ctx, "old", "new"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if tn, _ := svc.Tenant(ctx, "old"); tn != nil {
		t.Fatal("old tenant survived migration")
	}
	tn, err := svc.Tenant(ctx, "new")
	if err != nil || tn == nil {
		t.Fatalf("new tenant missing: %v, %v", tn, err)
	}
	if tn.ID != "new" || tn.Weeks[1][0] != "Alice" || tn.Schedule == nil {
		t.Fatalf("migrated tenant = %+v", tn)
	}
	if _, ok := sched.NextFireTime("new"); !ok {
		t.Fatal("trigger not re-armed under the new ID")
	}
	if _, ok := sched.NextFireTime("old"); ok {
		t.Fatal("old trigger still armed")
	}

	// Migrating an unknown tenant is a no-op.
	if err := svc.Migrate(ctx, "ghost", "elsewhere"); err != nil {
		t.Fatalf("Migrate(ghost): %v", err)
	}
}

func TestOnFireSendsReminder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	notif := &fakeNotifier{}
	svc := NewTenantService(storage.NewMemory(), sched, notif, logx.Nop())

	// Monday-anchored week 1, mon/thu, Alice then Bob.
	monday := time.Date(2026, time.January, 5, 17, 10, 0, 0, sched.loc)
	fixedNow(svc, monday)
	if _, err := svc.SetWeekMembers(ctx, "g", 1, []string{"Alice", "Bob"}); err != nil {
		t.Fatalf("SetWeekMembers: %v", err)
	}
	if _, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday, rotation.Thursday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}

	svc.OnFire(ctx, "g")
	if len(notif.sent) != 1 {
		t.Fatalf("sent = %d messages", len(notif.sent))
	}
	msg := notif.sent[0]
	if msg.TenantID != "g" {
		t.Fatalf("tenant = %q", msg.TenantID)
	}
	if !strings.Contains(msg.Text, "Alice") || !strings.Contains(msg.Text, "2026-01-05") || !strings.Contains(msg.Text, "Mon") {
		t.Fatalf("text = %q", msg.Text)
	}

	// Thursday goes to Bob.
	fixedNow(svc, monday.AddDate(0, 0, 3))
	svc.OnFire(ctx, "g")
	if len(notif.sent) != 2 || !strings.Contains(notif.sent[1].Text, "Bob") {
		t.Fatalf("thursday fire = %+v", notif.sent)
	}

	// Wednesday is not an active day: no send.
	fixedNow(svc, monday.AddDate(0, 0, 2))
	svc.OnFire(ctx, "g")
	if len(notif.sent) != 2 {
		t.Fatal("fired on an inactive day")
	}
}

func TestOnFireUsesCustomTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched := newFakeSched()
	notif := &fakeNotifier{}
	svc := NewTenantService(storage.NewMemory(), sched, notif, logx.Nop())
	monday := time.Date(2026, time.January, 5, 17, 10, 0, 0, sched.loc)
	fixedNow(svc, monday)

	if _, err := svc.SetWeekMembers(ctx, "g", 1, []string{"Alice"}); err != nil {
		t.Fatalf("SetWeekMembers: %v", err)
	}
	if _, err := svc.SetSchedule(ctx, "g", []rotation.Weekday{rotation.Monday}, 17, 10); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if err := svc.SetTemplate(ctx, "g", "{weekday}! {name}, go!"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}

	svc.OnFire(ctx, "g")
	if len(notif.sent) != 1 || notif.sent[0].Text != "Mon! Alice, go!" {
		t.Fatalf("sent = %+v", notif.sent)
	}
}

func TestOnFireUnknownTenantIsSilent(t *testing.T) {
	t.Parallel()
	notif := &fakeNotifier{}
	svc := NewTenantService(storage.NewMemory(), newFakeSched(), notif, logx.Nop())

	svc.OnFire(context.Background(), "ghost")
	if len(notif.sent) != 0 {
		t.Fatal("fire for unknown tenant sent a message")
	}
}

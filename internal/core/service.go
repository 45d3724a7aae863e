package core

import (
	"context"
	"strconv"
	"sync"
	"time"

	"dutybot/internal/rotation"
	"dutybot/internal/services/notify"
	"dutybot/internal/storage"
	"dutybot/pkg/logx"
)

// DefaultTemplate is the reminder text used when a tenant has no
// override. Placeholders: {name}, {date}, {weekday}.
const DefaultTemplate = "🗑️ Trash duty {date} ({weekday}): {name}"

// Defaults applied when the user sets only half of a schedule.
var defaultDays = []rotation.Weekday{rotation.Monday, rotation.Thursday}

const (
	defaultHour   = 17
	defaultMinute = 10
)

// TenantService owns all tenant mutations. Every operation on one
// tenant runs under that tenant's mutex, so command handlers and fire
// callbacks never interleave writes; operations on different tenants
// don't block each other.
//
// Mutations follow save-then-commit: Store.Save must succeed before the
// live trigger is touched. A failed save leaves both state and trigger
// unchanged; a failed trigger install after a successful save is
// reported as a SchedulerError and repaired by the next successful
// command.
type TenantService struct {
	store    storage.Store
	sched    SchedulePort
	notifier NotifierPort
	log      logx.Logger
	now      func() time.Time

	locks sync.Map // tenantID -> *sync.Mutex
}

func NewTenantService(store storage.Store, sched SchedulePort, notifier NotifierPort, log logx.Logger) *TenantService {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TenantService{
		store:    store,
		sched:    sched,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

func (s *TenantService) lockFor(tenantID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// load fetches the tenant, creating a fresh one when absent and create
// is set. Caller must hold the tenant lock.
func (s *TenantService) load(ctx context.Context, tenantID string, create bool) (*rotation.Tenant, error) {
	t, err := s.store.Load(ctx, tenantID)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	if t == nil {
		if !create {
			return nil, nil
		}
		t = rotation.NewTenant(tenantID)
	}
	return t, nil
}

func (s *TenantService) save(ctx context.Context, t *rotation.Tenant) error {
	if err := s.store.Save(ctx, t); err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

// rearm installs the tenant's trigger after a successful save.
func (s *TenantService) rearm(t *rotation.Tenant) (time.Time, error) {
	next, err := s.sched.Upsert(t.ID, t.Schedule)
	if err != nil {
		return time.Time{}, &SchedulerError{Err: err}
	}
	return next, nil
}

// SetSchedule replaces the whole schedule (days and time) and re-arms
// the trigger.
func (s *TenantService) SetSchedule(ctx context.Context, tenantID string, days []rotation.Weekday, hour, minute int) (time.Time, error) {
	cfg := &rotation.ScheduleConfig{Days: days, Hour: hour, Minute: minute}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}

	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return time.Time{}, err
	}
	t.Schedule = cfg
	if err := s.save(ctx, t); err != nil {
		return time.Time{}, err
	}
	return s.rearm(t)
}

// SetTime replaces only the fire time, keeping the active days (or the
// mon/thu default when no schedule exists yet).
func (s *TenantService) SetTime(ctx context.Context, tenantID string, hour, minute int) (time.Time, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return time.Time{}, err
	}
	cfg := t.Schedule.Clone()
	if cfg == nil {
		cfg = &rotation.ScheduleConfig{Days: append([]rotation.Weekday(nil), defaultDays...)}
	}
	cfg.Hour, cfg.Minute = hour, minute
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}
	t.Schedule = cfg
	if err := s.save(ctx, t); err != nil {
		return time.Time{}, err
	}
	return s.rearm(t)
}

// SetDays replaces only the active days, keeping the time (or the 17:10
// default when no schedule exists yet).
func (s *TenantService) SetDays(ctx context.Context, tenantID string, days []rotation.Weekday) (time.Time, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return time.Time{}, err
	}
	cfg := t.Schedule.Clone()
	if cfg == nil {
		cfg = &rotation.ScheduleConfig{Hour: defaultHour, Minute: defaultMinute}
	}
	cfg.Days = days
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}
	t.Schedule = cfg
	if err := s.save(ctx, t); err != nil {
		return time.Time{}, err
	}
	return s.rearm(t)
}

// SetWeekMembers replaces week n's member list. The first rotation
// write anchors BaseDate to today.
func (s *TenantService) SetWeekMembers(ctx context.Context, tenantID string, week int, members []string) (*rotation.Tenant, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if t.BaseDate.IsZero() {
		t.BaseDate = s.today()
	}
	t.Weeks[week] = append([]string(nil), members...)
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddMember appends one name to week n, creating the week if needed.
func (s *TenantService) AddMember(ctx context.Context, tenantID string, week int, name string) (*rotation.Tenant, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	for _, m := range t.Weeks[week] {
		if m == name {
			return nil, invalid(name + " is already in week " + strconv.Itoa(week))
		}
	}
	if t.BaseDate.IsZero() {
		t.BaseDate = s.today()
	}
	t.Weeks[week] = append(t.Weeks[week], name)
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveMember removes one name from week n. An empty week is dropped
// from the rotation.
func (s *TenantService) RemoveMember(ctx context.Context, tenantID string, week int, name string) (*rotation.Tenant, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFoundf("no rotation configured yet")
	}
	members, ok := t.Weeks[week]
	if !ok {
		return nil, notFoundf("week %d has no members", week)
	}
	idx := -1
	for i, m := range members {
		if m == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, notFoundf("%s is not in week %d", name, week)
	}
	members = append(members[:idx], members[idx+1:]...)
	if len(members) == 0 {
		delete(t.Weeks, week)
	} else {
		t.Weeks[week] = members
	}
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTemplate sets or clears (empty string) the per-tenant reminder
// template.
func (s *TenantService) SetTemplate(ctx context.Context, tenantID, template string) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, true)
	if err != nil {
		return err
	}
	t.MessageTemplate = template
	return s.save(ctx, t)
}

// ClearWeek removes week n from the rotation. No reschedule: the
// trigger only depends on the schedule.
func (s *TenantService) ClearWeek(ctx context.Context, tenantID string, week int) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, false)
	if err != nil {
		return err
	}
	if t == nil {
		return notFoundf("no rotation configured yet")
	}
	if _, ok := t.Weeks[week]; !ok {
		return notFoundf("week %d has no members", week)
	}
	delete(t.Weeks, week)
	return s.save(ctx, t)
}

// ClearMembers drops the whole rotation table and its anchor date,
// keeping the schedule.
func (s *TenantService) ClearMembers(ctx context.Context, tenantID string) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, false)
	if err != nil {
		return err
	}
	if t == nil {
		return notFoundf("no rotation configured yet")
	}
	t.Weeks = map[int][]string{}
	t.BaseDate = time.Time{}
	return s.save(ctx, t)
}

// ClearSchedule removes the schedule and its live trigger.
func (s *TenantService) ClearSchedule(ctx context.Context, tenantID string) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.load(ctx, tenantID, false)
	if err != nil {
		return err
	}
	if t == nil || t.Schedule == nil {
		return notFoundf("no schedule configured yet")
	}
	t.Schedule = nil
	if err := s.save(ctx, t); err != nil {
		return err
	}
	s.sched.Remove(tenantID)
	return nil
}

// ResetAll deletes the tenant record and its trigger.
func (s *TenantService) ResetAll(ctx context.Context, tenantID string) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.Delete(ctx, tenantID); err != nil {
		return &StoreError{Err: err}
	}
	s.sched.Remove(tenantID)
	return nil
}

// Migrate moves a tenant to a new ID, re-arming its trigger under the
// new ID. Telegram does this when a group upgrades to a supergroup.
func (s *TenantService) Migrate(ctx context.Context, oldID, newID string) error {
	if oldID == newID || oldID == "" || newID == "" {
		return nil
	}

	// Lock both tenants in a stable order so concurrent migrations
	// cannot deadlock.
	first, second := oldID, newID
	if second < first {
		first, second = second, first
	}
	muA, muB := s.lockFor(first), s.lockFor(second)
	muA.Lock()
	defer muA.Unlock()
	muB.Lock()
	defer muB.Unlock()

	t, err := s.store.Load(ctx, oldID)
	if err != nil {
		return &StoreError{Err: err}
	}
	if t == nil {
		return nil
	}

	moved := t.Clone()
	moved.ID = newID
	if err := s.store.Save(ctx, moved); err != nil {
		return &StoreError{Err: err}
	}
	if err := s.store.Delete(ctx, oldID); err != nil {
		return &StoreError{Err: err}
	}
	s.sched.Remove(oldID)
	if moved.Schedule != nil {
		if _, err := s.sched.Upsert(newID, moved.Schedule); err != nil {
			return &SchedulerError{Err: err}
		}
	}
	s.log.Info("tenant migrated",
		logx.String("from", oldID), logx.String("to", newID))
	return nil
}

// Tenant returns the stored record, or nil when the tenant is unknown.
func (s *TenantService) Tenant(ctx context.Context, tenantID string) (*rotation.Tenant, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()
	return s.load(ctx, tenantID, false)
}

// Status is the read-only view behind @status, @members and @schedule.
type Status struct {
	Tenant      *rotation.Tenant
	Now         time.Time
	CurrentWeek int
	Members     []string
	TodayName   string
	TodayOnDuty bool
	NextFire    time.Time
	HasTrigger  bool
}

func (s *TenantService) Status(ctx context.Context, tenantID string) (*Status, error) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	t, err := s.load(ctx, tenantID, false)
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	now := s.now().In(s.sched.Location())
	st := &Status{Tenant: t, Now: now}
	if t == nil {
		return st, nil
	}
	if t.TotalWeeks() > 0 {
		st.CurrentWeek = t.CurrentWeek(now)
		st.Members = t.CurrentWeekMembers(now)
	}
	st.TodayName, st.TodayOnDuty = t.CurrentDayMember(now)
	st.NextFire, st.HasTrigger = s.sched.NextFireTime(tenantID)
	return st, nil
}

// OnFire is the scheduler's fire callback: snapshot under the tenant
// lock, release, then compute and send. The notifier call never runs
// while the lock is held.
func (s *TenantService) OnFire(ctx context.Context, tenantID string) {
	mu := s.lockFor(tenantID)
	mu.Lock()
	t, err := s.store.Load(ctx, tenantID)
	mu.Unlock()
	if err != nil {
		s.log.Error("fire: loading tenant failed", logx.String("tenant", tenantID), logx.Err(err))
		return
	}
	if t == nil {
		s.log.Debug("fire for unknown tenant, ignoring", logx.String("tenant", tenantID))
		return
	}

	now := s.now().In(s.sched.Location())
	name, ok := t.CurrentDayMember(now)
	if !ok {
		s.log.Debug("fire: no duty member today", logx.String("tenant", tenantID))
		return
	}

	text := RenderTemplate(tenantTemplate(t), name, now)
	if err := s.notifier.Notify(ctx, notify.Notification{TenantID: tenantID, Text: text}); err != nil {
		s.log.Warn("fire: notify failed", logx.String("tenant", tenantID), logx.Err(err))
	}
}

func (s *TenantService) today() time.Time {
	return s.now().In(s.sched.Location())
}

func tenantTemplate(t *rotation.Tenant) string {
	if t.MessageTemplate != "" {
		return t.MessageTemplate
	}
	return DefaultTemplate
}

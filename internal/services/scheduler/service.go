package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dutybot/internal/rotation"
	"dutybot/pkg/logx"
)

// FireFunc runs one reminder fire for a tenant. It is called from a
// worker goroutine with a per-fire deadline.
type FireFunc func(ctx context.Context, tenantID string)

type Service struct {
	log  logx.Logger
	fire FireFunc

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	parser   cron.Parser
	c        *cron.Cron
	triggers map[string]*trigger
	nextGen  uint64

	queue    chan task
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	started  bool
}

func New(cfg Config, fire FireFunc, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := loadLocation(cfg.Timezone, log)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		log:      log,
		fire:     fire,
		cfg:      cfg,
		loc:      loc,
		parser:   parser,
		c:        cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		triggers: map[string]*trigger{},
		queue:    make(chan task, cfg.QueueSize),
	}
}

// Location is the timezone all triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to default",
			logx.String("tz", tz), logx.Err(err))
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.String("tz", s.loc.String()),
		logx.Int("triggers", len(s.triggers)))
}

// Stop halts cron and the workers. Pending queued fires are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	<-s.c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; workers finishing in background")
	}
}

// Upsert installs or atomically replaces the tenant's trigger and
// returns the next fire time. The old registration, if any, stops
// firing before the new one is armed; a failed replacement leaves no
// trigger behind.
func (s *Service) Upsert(tenantID string, sched *rotation.ScheduleConfig) (time.Time, error) {
	if err := sched.Validate(); err != nil {
		return time.Time{}, err
	}
	spec := BuildSpec(sched)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.triggers[tenantID]; ok {
		s.c.Remove(old.entryID)
		delete(s.triggers, tenantID)
	}

	s.nextGen++
	gen := s.nextGen
	id := tenantID
	entryID, err := s.c.AddFunc(spec, func() {
		s.enqueue(task{tenantID: id, gen: gen})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("install trigger for %s: %w", tenantID, err)
	}
	s.triggers[tenantID] = &trigger{spec: spec, entryID: entryID, gen: gen}

	next, err := s.nextFromSpecLocked(spec, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	s.log.Debug("trigger upserted",
		logx.String("tenant", tenantID),
		logx.String("spec", spec),
		logx.Time("next", next))
	return next, nil
}

// Remove uninstalls the tenant's trigger. It reports whether one
// existed. After Remove returns, no fire runs for the tenant, including
// fires already queued.
func (s *Service) Remove(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[tenantID]
	if !ok {
		return false
	}
	s.c.Remove(tr.entryID)
	delete(s.triggers, tenantID)
	s.log.Debug("trigger removed", logx.String("tenant", tenantID))
	return true
}

// NextFireTime reports the next scheduled fire for the tenant, or false
// when no trigger is installed.
func (s *Service) NextFireTime(tenantID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[tenantID]
	if !ok {
		return time.Time{}, false
	}
	next, err := s.nextFromSpecLocked(tr.spec, time.Now())
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}

// Reinstall builds triggers for every tenant that has a valid schedule.
// Used at startup to restore the live state from storage. Tenants with
// invalid or missing schedules are skipped and logged, never fatal.
func (s *Service) Reinstall(ctx context.Context, tenants []*rotation.Tenant) int {
	installed := 0
	for _, t := range tenants {
		if ctx.Err() != nil {
			return installed
		}
		if t.Schedule == nil {
			continue
		}
		if _, err := s.Upsert(t.ID, t.Schedule); err != nil {
			s.log.Warn("skipping tenant with bad schedule",
				logx.String("tenant", t.ID), logx.Err(err))
			continue
		}
		installed++
	}
	s.log.Info("triggers reinstalled", logx.Int("installed", installed), logx.Int("tenants", len(tenants)))
	return installed
}

// Triggers returns a snapshot of all installed triggers, sorted by
// tenant ID.
func (s *Service) Triggers() []TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]TriggerInfo, 0, len(s.triggers))
	for id, tr := range s.triggers {
		info := TriggerInfo{TenantID: id, Spec: tr.spec}
		if next, err := s.nextFromSpecLocked(tr.spec, now); err == nil {
			info.Next = next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (s *Service) nextFromSpecLocked(spec string, now time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(now.In(s.loc))
	if next.IsZero() {
		return time.Time{}, errors.New("schedule has no next activation")
	}
	return next, nil
}

// BuildSpec renders a schedule as a 5-field cron spec, e.g. mon+thu at
// 17:10 becomes "10 17 * * 1,4" (cron numbers Sunday as 0).
func BuildSpec(sched *rotation.ScheduleConfig) string {
	dows := make([]int, 0, len(sched.Days))
	for _, d := range sched.Days {
		dows = append(dows, d.CronDOW())
	}
	sort.Ints(dows)
	parts := make([]string, 0, len(dows))
	for _, d := range dows {
		parts = append(parts, fmt.Sprintf("%d", d))
	}
	return fmt.Sprintf("%d %d * * %s", sched.Minute, sched.Hour, strings.Join(parts, ","))
}

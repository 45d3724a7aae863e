package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"dutybot/internal/rotation"
	"dutybot/pkg/logx"
)

func testSched(days ...rotation.Weekday) *rotation.ScheduleConfig {
	return &rotation.ScheduleConfig{Days: days, Hour: 17, Minute: 10}
}

func TestBuildSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  *rotation.ScheduleConfig
		want string
	}{
		{"mon thu", testSched(rotation.Monday, rotation.Thursday), "10 17 * * 1,4"},
		{"sunday only", testSched(rotation.Sunday), "10 17 * * 0"},
		{"sat sun order", testSched(rotation.Saturday, rotation.Sunday), "10 17 * * 0,6"},
		{
			"midnight",
			&rotation.ScheduleConfig{Days: []rotation.Weekday{rotation.Wednesday}},
			"0 0 * * 3",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildSpec(tc.cfg); got != tc.want {
				t.Fatalf("BuildSpec = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUpsertComputesNextFire(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Asia/Taipei"}, func(context.Context, string) {}, logx.Nop())

	next, err := s.Upsert("g1", testSched(rotation.Monday, rotation.Thursday))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if next.IsZero() {
		t.Fatal("next fire time is zero")
	}
	if !next.After(time.Now()) {
		t.Fatalf("next fire %v is not in the future", next)
	}
	wd := rotation.WeekdayOf(next)
	if wd != rotation.Monday && wd != rotation.Thursday {
		t.Fatalf("next fire lands on %s", wd)
	}
	if next.In(s.Location()).Hour() != 17 || next.In(s.Location()).Minute() != 10 {
		t.Fatalf("next fire at %s, want 17:10", next.In(s.Location()).Format("15:04"))
	}

	got, ok := s.NextFireTime("g1")
	if !ok {
		t.Fatal("NextFireTime: trigger missing")
	}
	if !got.Equal(next) {
		t.Fatalf("NextFireTime = %v, Upsert returned %v", got, next)
	}
}

func TestUpsertRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())
	if _, err := s.Upsert("g1", &rotation.ScheduleConfig{Hour: 99, Days: []rotation.Weekday{rotation.Monday}}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := s.NextFireTime("g1"); ok {
		t.Fatal("failed upsert left a trigger behind")
	}
}

func TestUpsertReplacesTrigger(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())
	if _, err := s.Upsert("g1", testSched(rotation.Monday)); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if _, err := s.Upsert("g1", testSched(rotation.Friday)); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	infos := s.Triggers()
	if len(infos) != 1 {
		t.Fatalf("Triggers = %d entries, want 1", len(infos))
	}
	if infos[0].Spec != "10 17 * * 5" {
		t.Fatalf("spec = %q, want replacement", infos[0].Spec)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())
	first, err := s.Upsert("g1", testSched(rotation.Monday, rotation.Thursday))
	if err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	second, err := s.Upsert("g1", testSched(rotation.Monday, rotation.Thursday))
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if !second.Equal(first) {
		t.Fatalf("identical schedule changed next fire: %v -> %v", first, second)
	}
	if infos := s.Triggers(); len(infos) != 1 {
		t.Fatalf("Triggers = %d entries, want 1", len(infos))
	}
}

func TestRemoveThenUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())
	first, err := s.Upsert("g1", testSched(rotation.Friday))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !s.Remove("g1") {
		t.Fatal("Remove reported false")
	}
	again, err := s.Upsert("g1", testSched(rotation.Friday))
	if err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}
	if !again.Equal(first) {
		t.Fatalf("round trip changed next fire: %v -> %v", first, again)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())
	if s.Remove("g1") {
		t.Fatal("Remove on empty service reported true")
	}
	if _, err := s.Upsert("g1", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !s.Remove("g1") {
		t.Fatal("Remove reported false for installed trigger")
	}
	if _, ok := s.NextFireTime("g1"); ok {
		t.Fatal("trigger survived Remove")
	}
}

func TestStaleQueuedFireIsDropped(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	fired := map[string]int{}
	s := New(Config{Workers: 1}, func(_ context.Context, id string) {
		mu.Lock()
		fired[id]++
		mu.Unlock()
	}, logx.Nop())

	if _, err := s.Upsert("gone", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert gone: %v", err)
	}
	if _, err := s.Upsert("kept", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert kept: %v", err)
	}

	// Simulate cron having enqueued fires for both tenants, then the
	// first tenant's trigger being removed before workers drain the
	// queue.
	goneGen := s.triggers["gone"].gen
	keptGen := s.triggers["kept"].gen
	s.enqueue(task{tenantID: "gone", gen: goneGen})
	s.enqueue(task{tenantID: "kept", gen: keptGen})
	s.Remove("gone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		kept := fired["kept"]
		mu.Unlock()
		if kept == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("kept fire never executed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if fired["gone"] != 0 {
		t.Fatalf("removed trigger fired %d times", fired["gone"])
	}
}

func TestStaleGenerationAfterReplace(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	s := New(Config{Workers: 1}, func(_ context.Context, _ string) {
		mu.Lock()
		count++
		mu.Unlock()
	}, logx.Nop())

	if _, err := s.Upsert("g1", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	oldGen := s.triggers["g1"].gen
	if _, err := s.Upsert("g1", testSched(rotation.Tuesday)); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// A fire from the replaced generation must not execute.
	s.enqueue(task{tenantID: "g1", gen: oldGen})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("stale-generation fire executed %d times", count)
	}
}

func TestReinstall(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func(context.Context, string) {}, logx.Nop())

	withSched := rotation.NewTenant("a")
	withSched.Schedule = testSched(rotation.Monday)
	noSched := rotation.NewTenant("b")
	badSched := rotation.NewTenant("c")
	badSched.Schedule = &rotation.ScheduleConfig{Hour: 99, Days: []rotation.Weekday{rotation.Monday}}

	n := s.Reinstall(context.Background(), []*rotation.Tenant{withSched, noSched, badSched})
	if n != 1 {
		t.Fatalf("Reinstall = %d, want 1", n)
	}
	if _, ok := s.NextFireTime("a"); !ok {
		t.Fatal("tenant a has no trigger after Reinstall")
	}
	if _, ok := s.NextFireTime("b"); ok {
		t.Fatal("tenant b should have no trigger")
	}
}

func TestPanicInFireDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	ok := 0
	s := New(Config{Workers: 1}, func(_ context.Context, id string) {
		if id == "boom" {
			panic("handler exploded")
		}
		mu.Lock()
		ok++
		mu.Unlock()
	}, logx.Nop())

	if _, err := s.Upsert("boom", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert boom: %v", err)
	}
	if _, err := s.Upsert("fine", testSched(rotation.Monday)); err != nil {
		t.Fatalf("Upsert fine: %v", err)
	}
	s.enqueue(task{tenantID: "boom", gen: s.triggers["boom"].gen})
	s.enqueue(task{tenantID: "fine", gen: s.triggers["fine"].gen})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := ok
		mu.Unlock()
		if n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("worker did not survive the panicking fire")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

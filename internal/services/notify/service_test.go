package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dutybot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []Notification
	failures int // fail this many sends before succeeding
}

func (f *fakeSender) SendText(ctx context.Context, tenantID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("send failed")
	}
	f.sent = append(f.sent, Notification{TenantID: tenantID, Text: text})
	return nil
}

func (f *fakeSender) snapshot() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{RatePerSec: 100}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(fs.snapshot()) == 1 })
	got := fs.snapshot()[0]
	if got.TenantID != "g1" || got.Text != "hello" {
		t.Fatalf("sent = %+v", got)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{failures: 2}
	s := New(Config{
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(fs.snapshot()) == 1 })
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop = %v, want ErrStopped", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{QueueSize: 1}, fs, logx.Nop())
	// Not started: queue never drains, but intake should still apply
	// backpressure rather than block.
	s.mu.Lock()
	s.queue = make(chan Notification, 1)
	s.accepting = true
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "a"}); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Notify = %v, want ErrQueueFull", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{RatePerSec: 1000, Workers: 1}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := s.Notify(ctx, Notification{TenantID: "g1", Text: "msg"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	if got := len(fs.snapshot()); got != 5 {
		t.Fatalf("drained %d messages, want 5", got)
	}
}

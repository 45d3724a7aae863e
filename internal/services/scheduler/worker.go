package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"dutybot/pkg/logx"
)

func (s *Service) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		s.log.Warn("fire queue full, dropping fire",
			logx.String("tenant", t.tenantID),
			logx.Int("queue_cap", cap(s.queue)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t, idx)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task, idx int) {
	// Liveness: the trigger that enqueued this fire must still be the
	// installed one. Removed or replaced triggers never fire.
	s.mu.Lock()
	tr, ok := s.triggers[t.tenantID]
	live := ok && tr.gen == t.gen
	timeout := s.cfg.FireTimeout
	s.mu.Unlock()
	if !live {
		s.log.Debug("dropping stale fire", logx.String("tenant", t.tenantID))
		return
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in fire handler",
				logx.String("tenant", t.tenantID),
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	s.fire(runCtx, t.tenantID)
	s.log.Debug("fire completed",
		logx.String("tenant", t.tenantID),
		logx.Duration("took", time.Since(start)))
}

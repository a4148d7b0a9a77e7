// Package deferred runs "wait, then check whether anyone answered" tasks.
//
// A check is keyed by a correlation id. Resolving the key does not stop the
// timer: when it fires, the check is skipped if the key was resolved at or
// after the time it was scheduled, or if a later Schedule replaced it.
package deferred

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Check func(ctx context.Context)

type Scheduler struct {
	lg  *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	scheduled map[string]time.Time
	resolved  map[string]time.Time
	timers    map[*time.Timer]struct{}
	stopped   bool
	wg        sync.WaitGroup
}

func New(lg *zap.Logger) *Scheduler {
	return &Scheduler{
		lg:        lg,
		now:       time.Now,
		scheduled: make(map[string]time.Time),
		resolved:  make(map[string]time.Time),
		timers:    make(map[*time.Timer]struct{}),
	}
}

// Schedule arranges for check to run after delay unless key is resolved first.
func (s *Scheduler) Schedule(key string, delay time.Duration, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	at := s.now()
	s.scheduled[key] = at

	var timer *time.Timer
	s.wg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.fire(key, at, &timer, check)
	})
	s.timers[timer] = struct{}{}
}

// Resolve marks key as answered.
func (s *Scheduler) Resolve(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[key]; !ok {
		return
	}
	s.resolved[key] = s.now()
}

// timer is read under the lock, after Schedule has stored it.
func (s *Scheduler) fire(key string, scheduledAt time.Time, timer **time.Timer, check Check) {
	s.mu.Lock()
	delete(s.timers, *timer)
	if s.stopped {
		s.mu.Unlock()
		return
	}
	latest := s.scheduled[key]
	resolvedAt, resolved := s.resolved[key]
	superseded := !latest.Equal(scheduledAt)
	if !superseded {
		delete(s.scheduled, key)
		delete(s.resolved, key)
	}
	s.mu.Unlock()

	if superseded || (resolved && !resolvedAt.Before(scheduledAt)) {
		s.lg.Debug("Deferred check skipped", zap.String("key", key), zap.Bool("superseded", superseded))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.lg.Error("Deferred check panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	check(context.Background())
}

// Pending reports how many checks are still waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop drops every pending check and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

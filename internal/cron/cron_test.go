package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddValidation(t *testing.T) {
	s := NewScheduler(nil)
	run := func(context.Context) error { return nil }
	cases := map[string]*Job{
		"no name":     {Schedule: "@every 1s", Run: run},
		"no schedule": {Name: "a", Run: run},
		"no run":      {Name: "a", Schedule: "@every 1s"},
		"bad expr":    {Name: "a", Schedule: "every second", Run: run},
	}
	for name, j := range cases {
		if err := s.Add(j); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if err := s.Add(&Job{Name: "a", Schedule: "*/5 * * * *", Run: run}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(&Job{Name: "a", Schedule: "@every 1s", Run: run}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestRunsAndStops(t *testing.T) {
	s := NewScheduler(nil)
	var n atomic.Int32
	if err := s.Add(&Job{Name: "refresh", Schedule: "@every 1s", Run: func(context.Context) error {
		n.Add(1)
		return errors.New("ignored")
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.Next("refresh").IsZero() {
		t.Fatal("next run should be unknown before start")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("expected error on double start")
	}
	if s.Next("refresh").IsZero() {
		t.Fatal("expected a next run once started")
	}

	deadline := time.Now().Add(3 * time.Second)
	for n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n.Load() < 2 {
		t.Fatalf("expected at least two runs, got %d", n.Load())
	}

	if !s.Stop() {
		t.Fatal("stop should report a running scheduler")
	}
	if s.Stop() {
		t.Fatal("second stop should be a no-op")
	}
	after := n.Load()
	time.Sleep(1200 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("job ran after stop")
	}
	if err := s.Start(); err == nil {
		t.Fatal("stopped scheduler must not restart")
	}
}

func TestOverlappingTickSkipped(t *testing.T) {
	s := NewScheduler(nil)
	var n atomic.Int32
	release := make(chan struct{})
	j := &Job{Name: "slow", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		n.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	if err := s.Add(j); err != nil {
		t.Fatalf("add: %v", err)
	}

	go s.runJob(j)
	deadline := time.Now().Add(time.Second)
	for !j.running.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.runJob(j) // skipped while the first run blocks
	if n.Load() != 1 {
		t.Fatalf("expected one active run, got %d", n.Load())
	}
	close(release)
}

func TestStopCancelsRunInFlight(t *testing.T) {
	s := NewScheduler(nil)
	done := make(chan struct{})
	j := &Job{Name: "blocked", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return ctx.Err()
	}}
	if err := s.Add(j); err != nil {
		t.Fatalf("add: %v", err)
	}
	go s.runJob(j)
	deadline := time.Now().Add(time.Second)
	for !j.running.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled")
	}
}

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingStrategy counts lifecycle calls and can fail on demand.
type countingStrategy struct {
	mu        sync.Mutex
	initErr   error
	stepErr   error
	inits     int
	steps     int
	shutdowns int
}

func (s *countingStrategy) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	return s.initErr
}

func (s *countingStrategy) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	return s.stepErr
}

func (s *countingStrategy) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
}

func (s *countingStrategy) counts() (inits, steps, shutdowns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits, s.steps, s.shutdowns
}

func TestRunnerStepsUntilCanceled(t *testing.T) {
	s := &countingStrategy{}
	r := NewRunner("test", s, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	inits, steps, shutdowns := s.counts()
	if inits != 1 {
		t.Errorf("inits = %d, want 1", inits)
	}
	// One immediate step plus at least one ticker fire inside 100ms.
	if steps < 2 {
		t.Errorf("steps = %d, want >= 2", steps)
	}
	if shutdowns != 1 {
		t.Errorf("shutdowns = %d, want exactly 1", shutdowns)
	}
}

func TestRunnerSurvivesStepErrors(t *testing.T) {
	s := &countingStrategy{stepErr: dataErr("series too short")}
	r := NewRunner("test", s, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, steps, shutdowns := s.counts()
	// Every tick fails, yet the loop keeps going until canceled.
	if steps < 2 {
		t.Errorf("steps = %d, want the loop to continue past failures", steps)
	}
	if shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", shutdowns)
	}
}

func TestRunnerInitFailureSkipsShutdown(t *testing.T) {
	s := &countingStrategy{initErr: errors.New("venue unreachable")}
	r := NewRunner("test", s, 10*time.Millisecond)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should surface the initialize failure")
	}

	_, steps, shutdowns := s.counts()
	if steps != 0 {
		t.Errorf("steps = %d, want 0 after failed initialize", steps)
	}
	// Nothing started, so nothing to shut down.
	if shutdowns != 0 {
		t.Errorf("shutdowns = %d, want 0", shutdowns)
	}
}

func TestNewRunnerDefaultsInterval(t *testing.T) {
	r := NewRunner("test", &countingStrategy{}, 0)
	if r.interval != time.Minute {
		t.Errorf("interval = %s, want 1m fallback", r.interval)
	}
}

func TestRunAllDrivesRunnersIndependently(t *testing.T) {
	healthy := &countingStrategy{}
	broken := &countingStrategy{initErr: errors.New("bad creds")}
	runners := []*Runner{
		NewRunner("healthy", healthy, 10*time.Millisecond),
		NewRunner("broken", broken, 10*time.Millisecond),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	RunAll(ctx, runners)

	// The broken runner exits early without taking the healthy one down.
	if _, steps, _ := healthy.counts(); steps < 2 {
		t.Errorf("healthy steps = %d, want >= 2", steps)
	}
	if _, steps, shutdowns := broken.counts(); steps != 0 || shutdowns != 0 {
		t.Errorf("broken runner ran steps=%d shutdowns=%d, want none", steps, shutdowns)
	}
}

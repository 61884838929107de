// FILE: scheduler.go
// Package main – Generic cooperative driver for per-symbol strategies.
//
// What's here:
//   • Strategy: the lifecycle capability set {Initialize, Step, Shutdown}
//   • Runner: drives one Strategy on a fixed ticker until the context ends
//   • RunAll: one goroutine per runner, no shared mutable state between them
//
// A step error never breaks the loop: it is logged with its error kind and
// counted, and the next tick starts clean. Cancellation is cooperative:
// it is observed at the ticker select, never mid-step, so stopping completes
// after the in-flight step plus at most one interval. Shutdown then runs
// exactly once, on its own deadline since the loop context is already gone.
package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// Strategy is the lifecycle surface the scheduler drives. Implementations
// own all their state; the scheduler never inspects it.
type Strategy interface {
	Initialize(ctx context.Context) error
	Step(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// shutdownGrace bounds how long Shutdown may take once the loop stops.
const shutdownGrace = 5 * time.Second

// Runner drives one Strategy at a fixed interval.
type Runner struct {
	name     string
	strategy Strategy
	interval time.Duration
}

func NewRunner(name string, s Strategy, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{name: name, strategy: s, interval: interval}
}

// Run executes the lifecycle: Initialize once (a failure aborts before the
// loop and skips Shutdown, since nothing started), then Step immediately
// and again at every interval until ctx ends, then Shutdown exactly once.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.strategy.Initialize(ctx); err != nil {
		log.Printf("[ERROR] %s initialize failed: %v", r.name, err)
		return err
	}
	log.Printf("[BOOT] %s loop running: interval=%s", r.name, r.interval)

	r.stepOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[BOOT] %s loop stopping: %v", r.name, ctx.Err())
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			r.strategy.Shutdown(shCtx)
			cancel()
			return nil
		case <-ticker.C:
			r.stepOnce(ctx)
		}
	}
}

// stepOnce runs one tick and absorbs its failure: a single bad tick never
// terminates the process.
func (r *Runner) stepOnce(ctx context.Context) {
	start := time.Now()
	err := r.strategy.Step(ctx)
	kind := errKind(err)
	incTickMetric(r.name, kind)
	if err != nil {
		log.Printf("[ERROR] %s tick failed kind=%s after %s: %v", r.name, kind, time.Since(start).Round(time.Millisecond), err)
	}
}

// RunAll drives every runner concurrently and blocks until all have
// finished. Runners are independent; one failing to initialize does not
// stop the others.
func RunAll(ctx context.Context, runners []*Runner) {
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			_ = r.Run(ctx)
		}(r)
	}
	wg.Wait()
}

// Package scheduler runs named periodic tasks. Each task owns its own
// cancellation token and a generation number, so a tick that was already in
// flight when its task was stopped or restarted can be recognised as stale.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Tick is delivered to the owner's post function once per period.
type Tick struct {
	Name string
	Gen  uint64
	At   time.Time
}

type task struct {
	gen    uint64
	every  time.Duration
	cancel context.CancelFunc
}

type Scheduler struct {
	ctx  context.Context
	post func(Tick)

	mu    sync.Mutex
	gen   uint64
	tasks map[string]*task
	wg    sync.WaitGroup
}

// New returns a Scheduler whose tasks stop when ctx is done. post is called
// from the task goroutines and must hand the tick off without blocking
// indefinitely.
func New(ctx context.Context, post func(Tick)) *Scheduler {
	return &Scheduler{
		ctx:   ctx,
		post:  post,
		tasks: make(map[string]*task),
	}
}

// Start ensures a task named name is running with period every and returns
// its generation. Starting a running task with the same period is a no-op.
func (s *Scheduler) Start(name string, every time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		if t.every == every {
			return t.gen
		}
		t.cancel()
	}

	s.gen++
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{gen: s.gen, every: every, cancel: cancel}
	s.tasks[name] = t

	s.wg.Add(1)
	go s.run(ctx, name, t.gen, every)
	return t.gen
}

func (s *Scheduler) run(ctx context.Context, name string, gen uint64, every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.post(Tick{Name: name, Gen: gen, At: at})
		}
	}
}

// Stop cancels the named task. Stopping an unknown task does nothing.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		t.cancel()
		delete(s.tasks, name)
	}
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, t := range s.tasks {
		t.cancel()
		delete(s.tasks, name)
	}
}

func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Current reports whether gen is the live generation of the named task.
func (s *Scheduler) Current(name string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return ok && t.gen == gen
}

// Wait blocks until every task goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Package scheduler runs the periodic jobs of the social engines (season checks, cleanup).
// Every job is stoppable and must be stopped on teardown.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler wraps a cron runner. Jobs never overlap with themselves and a panicking job
// is logged rather than taking the process down.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	log     logrus.FieldLogger
	running bool
}

// New returns a stopped scheduler.
func New(log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cl := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  log,
	}
}

// Every registers fn to run every interval (rounded down to whole seconds, minimum one second).
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("scheduler: job %s has non-positive interval %s", name, interval)
	}
	log := s.log.WithField("job", name)
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		log.Trace("scheduler: running")
		fn()
	}))
	log.WithField("interval", interval).Debug("scheduler: registered")
	return id, nil
}

// Remove unregisters a single job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins running jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

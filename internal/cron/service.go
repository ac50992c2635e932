// Package cron runs the recurring background jobs: the cleanup sweep
// and the usage snapshot.
package cron

import (
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Job is one named recurring task. Schedule takes the cron spec
// syntax, including @every intervals.
type Job struct {
	Name     string
	Schedule string
	Run      func() error
}

type JobState struct {
	LastRunAt  time.Time
	LastStatus string
	LastError  string
}

type Service struct {
	mu     sync.Mutex
	jobs   []Job
	states map[string]*JobState
	cron   *rcron.Cron
}

func NewService() *Service {
	return &Service{
		states: make(map[string]*JobState),
	}
}

// Register adds a job. All jobs must be registered before Start.
func (s *Service) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.states[job.Name] = &JobState{}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron = rcron.New()
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.execute(job)
		}); err != nil {
			return fmt.Errorf("register job %s (%s): %w", job.Name, job.Schedule, err)
		}
	}

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", len(s.jobs))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var found *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	s.execute(*found)

	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.states[name]; st != nil && st.LastError != "" {
		return fmt.Errorf("job %s: %s", name, st.LastError)
	}
	return nil
}

func (s *Service) execute(job Job) {
	err := job.Run()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[job.Name]
	if st == nil {
		st = &JobState{}
		s.states[job.Name] = st
	}
	st.LastRunAt = time.Now()
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", job.Name, err)
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
	}
}

// States reports a copy of every job's last-run status.
func (s *Service) States() map[string]JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobState, len(s.states))
	for name, st := range s.states {
		out[name] = *st
	}
	return out
}

package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/robfig/cron/v3"
)

// TaskFunc does the work of a job.
type TaskFunc func(ctx context.Context, args map[string]any) error

const taskTimeout = 5 * time.Minute

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron  *cron.Cron
	store *Store
	tasks map[string]TaskFunc
	jobs  map[string]*Job
	mu    sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(store *Store) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		store: store,
		tasks: make(map[string]TaskFunc),
		jobs:  make(map[string]*Job),
	}
}

// RegisterTask makes a task available to jobs. Register tasks before Start.
func (s *Scheduler) RegisterTask(name string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = fn
}

// normalizeCron prepends "0 " to standard 5-field cron expressions
// so they work with the 6-field (with seconds) parser.
func normalizeCron(schedule string) string {
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

// ValidateSchedule reports whether schedule parses as a 5 or 6 field cron
// expression or a descriptor such as @daily.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(normalizeCron(schedule)); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Start loads jobs from storage and starts the scheduler
func (s *Scheduler) Start() error {
	jobs, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	s.mu.Lock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
		if job.Enabled {
			if err := s.scheduleJob(job); err != nil {
				logger.Warn("[CRON] Failed to schedule job %s (%s): %v", job.ID, job.Name, err)
			}
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	logger.Info("[CRON] Scheduler started with %d jobs", len(jobs))
	return nil
}

// Stop waits for running jobs and closes the store
func (s *Scheduler) Stop() error {
	<-s.cron.Stop().Done()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	logger.Info("[CRON] Scheduler stopped")
	return nil
}

// AddJob validates, schedules and stores a job running a registered task.
func (s *Scheduler) AddJob(name, schedule, task string, arguments map[string]any) (*Job, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task]; !ok {
		return nil, fmt.Errorf("unknown task: %s", task)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Schedule:  normalizeCron(schedule),
		Task:      task,
		Arguments: arguments,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.scheduleJob(job); err != nil {
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}
	s.jobs[job.ID] = job

	if err := s.store.SaveJob(job); err != nil {
		logger.Warn("[CRON] Failed to save job: %v", err)
	}
	logger.Info("[CRON] Job created: %s (%s) - schedule: %s, task: %s", job.ID, job.Name, job.Schedule, job.Task)
	return job.Clone(), nil
}

// FindJob returns the first job with the given name.
func (s *Scheduler) FindJob(name string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Name == name {
			return job.Clone(), true
		}
	}
	return nil, false
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.EntryID != 0 {
		s.cron.Remove(job.EntryID)
	}
	delete(s.jobs, id)

	if err := s.store.DeleteJob(id); err != nil {
		logger.Warn("[CRON] Failed to delete job: %v", err)
	}
	logger.Info("[CRON] Job removed: %s (%s)", job.ID, job.Name)
	return nil
}

// PauseJob pauses a job
func (s *Scheduler) PauseJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if !job.Enabled {
		return fmt.Errorf("job is already paused")
	}
	if job.EntryID != 0 {
		s.cron.Remove(job.EntryID)
		job.EntryID = 0
	}
	job.Enabled = false

	if err := s.store.SaveJob(job); err != nil {
		logger.Warn("[CRON] Failed to save job: %v", err)
	}
	return nil
}

// ResumeJob resumes a paused job
func (s *Scheduler) ResumeJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Enabled {
		return fmt.Errorf("job is already running")
	}
	if err := s.scheduleJob(job); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	job.Enabled = true

	if err := s.store.SaveJob(job); err != nil {
		logger.Warn("[CRON] Failed to save job: %v", err)
	}
	return nil
}

// ListJobs returns all jobs, oldest first
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// RunJob executes a job immediately, outside its schedule.
func (s *Scheduler) RunJob(id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	return s.executeJob(job)
}

// scheduleJob adds job to the cron scheduler. Callers hold s.mu.
func (s *Scheduler) scheduleJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		_ = s.executeJob(job)
	})
	if err != nil {
		return err
	}
	job.EntryID = entryID
	return nil
}

func (s *Scheduler) executeJob(job *Job) error {
	now := time.Now()

	s.mu.Lock()
	task, ok := s.tasks[job.Task]
	job.LastRun = &now
	args := job.Clone().Arguments
	s.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("unknown task: %s", job.Task)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		err = task(ctx, args)
		cancel()
	}

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
		logger.Warn("[CRON] Job failed: %s (%s) - error: %v", job.ID, job.Name, err)
	} else {
		job.LastError = ""
		logger.Debug("[CRON] Job completed: %s (%s)", job.ID, job.Name)
	}
	saveErr := s.store.SaveJob(job)
	s.mu.Unlock()
	if saveErr != nil {
		logger.Warn("[CRON] Failed to save job: %v", saveErr)
	}
	return err
}

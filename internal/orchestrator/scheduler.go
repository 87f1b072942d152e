// Package orchestrator runs the background tasks of the service on cron
// schedules: venue health probes and market snapshot capture.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bridgeroute/internal/logger"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeVenueHealth     TaskType = "venue_health"
	TaskTypeSnapshotCapture TaskType = "snapshot_capture"
)

// Task represents a scheduled task
type Task struct {
	ID          string        `json:"id"`
	Type        TaskType      `json:"type"`
	Schedule    string        `json:"schedule"`
	LastRunTime time.Time     `json:"last_run_time"`
	LastElapsed time.Duration `json:"last_elapsed"`
	NextRunTime time.Time     `json:"next_run_time"`
	Status      TaskStatus    `json:"status"`
	Runs        int           `json:"runs"`
	Error       string        `json:"error,omitempty"`

	entry cron.EntryID
}

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskHandler defines the interface for task handlers
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// TaskFunc adapts a function to TaskHandler
type TaskFunc func(ctx context.Context) error

// Handle calls f
func (f TaskFunc) Handle(ctx context.Context) error { return f(ctx) }

// Parser accepts five or six field specs and descriptors such as @every 1m
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler manages task scheduling. A run that is still going when its
// next tick fires is skipped.
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[TaskType]*Task
	handlers map[TaskType]TaskHandler
	timeout  time.Duration
	log      logger.Logger
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler; timeout bounds every run
func NewScheduler(timeout time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	log = log.WithField("component", "scheduler")
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		tasks:    make(map[TaskType]*Task),
		handlers: make(map[TaskType]TaskHandler),
		timeout:  timeout,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// AddTask schedules the task type's handler
func (s *Scheduler) AddTask(taskType TaskType, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, exists := s.handlers[taskType]
	if !exists {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}
	if _, exists := s.tasks[taskType]; exists {
		return fmt.Errorf("task %s is already scheduled", taskType)
	}

	task := &Task{
		ID:       fmt.Sprintf("%s_%d", taskType, time.Now().UnixNano()),
		Type:     taskType,
		Schedule: schedule,
		Status:   TaskStatusPending,
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.runTask(task, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	task.entry = id
	s.tasks[taskType] = task
	s.log.Info("Task scheduled", "task", string(taskType), "schedule", schedule)
	return nil
}

// RunNow runs a registered task once, outside its schedule
func (s *Scheduler) RunNow(taskType TaskType) error {
	s.mu.RLock()
	handler, ok := s.handlers[taskType]
	task := s.tasks[taskType]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}
	if task == nil {
		task = &Task{ID: string(taskType) + "_adhoc", Type: taskType}
	}
	return s.runTask(task, handler)
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running tasks and waits for them
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// runTask executes a task
func (s *Scheduler) runTask(task *Task, handler TaskHandler) error {
	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := handler.Handle(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	task.Runs++
	task.LastElapsed = elapsed
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		s.log.Warn("Task failed", "task", string(task.Type), "elapsed", elapsed.String(), "error", err)
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
		s.log.Debug("Task completed", "task", string(task.Type), "elapsed", elapsed.String())
	}
	return err
}

// GetTask returns a copy of the task state
func (s *Scheduler) GetTask(taskType TaskType) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskType]
	if !exists {
		return Task{}, fmt.Errorf("task not found: %s", taskType)
	}
	out := *task
	if task.entry != 0 {
		out.NextRunTime = s.cron.Entry(task.entry).Next
	}
	return out, nil
}

// ListTasks lists all tasks sorted by type
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	types := make([]TaskType, 0, len(s.tasks))
	for t := range s.tasks {
		types = append(types, t)
	}
	s.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	tasks := make([]Task, 0, len(types))
	for _, t := range types {
		if task, err := s.GetTask(t); err == nil {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// cronLogger routes cron's own messages into the structured logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Package monitor contains the account and market watchers plus the
// supervisor that runs them. Each monitor owns a set of background tasks and
// publishes alerts through a delivery channel.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Monitor is one supervised watcher with an idempotent lifecycle.
type Monitor interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Running() bool
}

// Task is one background loop of a monitor. Run should return promptly when
// its context is cancelled; a non-nil error tears the whole monitor down.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// runner provides the shared start/stop machinery monitors embed. Start and
// Stop are idempotent; tasks run under one errgroup whose context is
// cancelled on Stop.
type runner struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func newRunner(name string, logger *slog.Logger) runner {
	return runner{
		name:   name,
		logger: logger.With(slog.String("monitor", name)),
	}
}

// Name returns the monitor's name.
func (r *runner) Name() string { return r.name }

// Running reports whether the monitor's tasks are live.
func (r *runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// startTasks launches the given tasks. A second call while running is a no-op.
func (r *runner) startTasks(ctx context.Context, tasks []Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	group, taskCtx := errgroup.WithContext(taskCtx)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			r.logger.Info("task started", slog.String("task", task.Name))
			err := task.Run(taskCtx)
			if err != nil && taskCtx.Err() == nil {
				r.logger.Error("task failed",
					slog.String("task", task.Name),
					slog.String("error", err.Error()))
				return fmt.Errorf("%s/%s: %w", r.name, task.Name, err)
			}
			r.logger.Info("task stopped", slog.String("task", task.Name))
			return nil
		})
	}

	r.cancel = cancel
	r.group = group
	r.running = true
	r.logger.Info("monitor started", slog.Int("tasks", len(tasks)))
}

// stopTasks cancels the task context and waits for the tasks to drain. A
// second call while stopped is a no-op.
func (r *runner) stopTasks() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, group := r.cancel, r.group
	r.running = false
	r.cancel, r.group = nil, nil
	r.mu.Unlock()

	cancel()
	err := group.Wait()
	r.logger.Info("monitor stopped")
	if err != nil && !isContextErr(err) {
		return err
	}
	return nil
}

func isContextErr(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// TaskMonitor runs a fixed set of tasks as one supervised monitor. It is
// used for maintenance loops that need the same lifecycle guarantees as the
// full monitors.
type TaskMonitor struct {
	runner
	tasks []Task
}

// NewTaskMonitor creates a monitor running the given tasks.
func NewTaskMonitor(name string, logger *slog.Logger, tasks ...Task) *TaskMonitor {
	return &TaskMonitor{runner: newRunner(name, logger), tasks: tasks}
}

// Start launches the tasks.
func (m *TaskMonitor) Start(ctx context.Context) error {
	m.startTasks(ctx, m.tasks)
	return nil
}

// Stop halts the tasks.
func (m *TaskMonitor) Stop() error {
	return m.stopTasks()
}

var _ Monitor = (*TaskMonitor)(nil)

// Supervisor starts registered monitors in registration order and stops them
// in reverse. Start and Stop are idempotent with respect to each monitor's
// own lifecycle.
type Supervisor struct {
	logger *slog.Logger

	mu       sync.Mutex
	monitors []Monitor
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger.With(slog.String("component", "supervisor"))}
}

// Register appends a monitor. Registration order fixes the start order.
func (s *Supervisor) Register(m Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors = append(s.monitors, m)
}

// Start starts every registered monitor in order. It is a no-op while any
// owned monitor is still running. The first start failure stops the monitors
// already started, in reverse, and is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.Running() {
		s.logger.Warn("start skipped, monitors already running")
		return nil
	}

	s.mu.Lock()
	monitors := make([]Monitor, len(s.monitors))
	copy(monitors, s.monitors)
	s.mu.Unlock()

	for i, m := range monitors {
		if err := m.Start(ctx); err != nil {
			s.logger.Error("monitor start failed",
				slog.String("monitor", m.Name()),
				slog.String("error", err.Error()))
			for j := i - 1; j >= 0; j-- {
				_ = monitors[j].Stop()
			}
			return fmt.Errorf("supervisor: start %s: %w", m.Name(), err)
		}
	}
	s.logger.Info("all monitors started", slog.Int("count", len(monitors)))
	return nil
}

// Stop stops every registered monitor in reverse registration order. It is a
// no-op while no monitor is running. All monitors are stopped even when some
// fail; the first error is returned.
func (s *Supervisor) Stop() error {
	if !s.Running() {
		s.logger.Warn("stop skipped, no monitor running")
		return nil
	}

	s.mu.Lock()
	monitors := make([]Monitor, len(s.monitors))
	copy(monitors, s.monitors)
	s.mu.Unlock()

	var firstErr error
	for i := len(monitors) - 1; i >= 0; i-- {
		if err := monitors[i].Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("supervisor: stop %s: %w", monitors[i].Name(), err)
		}
	}
	s.logger.Info("all monitors stopped")
	return firstErr
}

// Running reports whether any registered monitor is running.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.monitors {
		if m.Running() {
			return true
		}
	}
	return false
}

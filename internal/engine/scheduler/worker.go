package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Config configures a WorkerScheduler.
type Config struct {
	Workers int
	Logger  *slog.Logger
}

// WorkerScheduler runs tasks from a FIFO queue on a fixed set of workers.
type WorkerScheduler struct {
	logger *slog.Logger
	events Events

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	queue   []Task
	running int
	drained chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerScheduler starts the workers.
func NewWorkerScheduler(cfg Config) *WorkerScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &WorkerScheduler{
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *WorkerScheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for !s.closed && (s.state != StateRunning || len(s.queue) == 0) {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		s.run(task)

		s.mu.Lock()
		s.running--
		if s.running == 0 && s.drained != nil {
			close(s.drained)
			s.drained = nil
		}
		s.mu.Unlock()
	}
}

func (s *WorkerScheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked", "panic", r)
		}
	}()
	task(s.ctx)
}

// Submit enqueues a task. Tasks submitted while paused run after Continue.
func (s *WorkerScheduler) Submit(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, task)
	s.cond.Signal()
	return nil
}

// State returns the current protocol state.
func (s *WorkerScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the protocol callback lists.
func (s *WorkerScheduler) Events() *Events {
	return &s.events
}

// Pending returns the number of queued tasks.
func (s *WorkerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Pause stops dispatch and waits for executing tasks. If ctx ends first
// the scheduler returns to running and ctx.Err() is returned.
func (s *WorkerScheduler) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.state = StatePausing
	drained := make(chan struct{})
	if s.running == 0 {
		close(drained)
	} else {
		s.drained = drained
	}
	s.mu.Unlock()

	s.events.emit(StateRunning, StatePausing)

	select {
	case <-drained:
	case <-ctx.Done():
		s.mu.Lock()
		s.drained = nil
		s.state = StateRunning
		s.cond.Broadcast()
		s.mu.Unlock()
		return ctx.Err()
	}

	s.setState(StatePaused)
	s.events.emit(StatePausing, StatePaused)
	return nil
}

// Continue resumes dispatch.
func (s *WorkerScheduler) Continue(_ context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.state = StateContinuing
	s.mu.Unlock()
	s.events.emit(StatePaused, StateContinuing)

	s.setState(StateContinued)
	s.events.emit(StateContinuing, StateContinued)

	s.mu.Lock()
	s.state = StateRunning
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *WorkerScheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close stops the workers after their current task. Queued tasks are
// dropped.
func (s *WorkerScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if dropped > 0 {
		s.logger.Warn("scheduler closed with queued tasks", "dropped", dropped)
	}
	return nil
}

// Manual is a Scheduler without workers. It tracks the protocol state and
// emits events, for engines whose entities are driven elsewhere.
type Manual struct {
	mu     sync.Mutex
	state  State
	events Events
}

// NewManual returns a Manual scheduler in the running state.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return ErrInvalidTransition
	}
	m.state = to
	return nil
}

// Pause implements Scheduler.
func (m *Manual) Pause(_ context.Context) error {
	if err := m.transition(StateRunning, StatePausing); err != nil {
		return err
	}
	m.events.emit(StateRunning, StatePausing)
	_ = m.transition(StatePausing, StatePaused)
	m.events.emit(StatePausing, StatePaused)
	return nil
}

// Continue implements Scheduler.
func (m *Manual) Continue(_ context.Context) error {
	if err := m.transition(StatePaused, StateContinuing); err != nil {
		return err
	}
	m.events.emit(StatePaused, StateContinuing)
	_ = m.transition(StateContinuing, StateContinued)
	m.events.emit(StateContinuing, StateContinued)
	_ = m.transition(StateContinued, StateRunning)
	return nil
}

// State implements Scheduler.
func (m *Manual) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events implements Scheduler.
func (m *Manual) Events() *Events {
	return &m.events
}

package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
)

// Checkpointer defaults.
const (
	DefaultCheckpointInterval = time.Minute
	DefaultCheckpointTimeout  = 5 * time.Minute
)

// CheckpointerConfig configures periodic checkpoints.
type CheckpointerConfig struct {
	// Interval between checkpoints.
	Interval time.Duration

	// FullEvery makes every Nth checkpoint full and the others
	// differential. Values <= 1 make every checkpoint full.
	FullEvery int

	// Timeout bounds a single checkpoint.
	Timeout time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Checkpointer runs checkpoints of one engine in the background.
type Checkpointer struct {
	engine *Engine
	cfg    CheckpointerConfig
	logger *slog.Logger

	interval atomic.Int64
	reset    chan time.Duration

	mu    sync.Mutex
	count int

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCheckpointer creates a stopped checkpointer.
func NewCheckpointer(e *Engine, cfg CheckpointerConfig) *Checkpointer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckpointInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckpointTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Checkpointer{
		engine: e,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "checkpointer", "engine_id", e.ID()),
		reset:  make(chan time.Duration, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	c.interval.Store(int64(cfg.Interval))
	return c
}

// Start launches the background loop. Later calls do nothing.
func (c *Checkpointer) Start() {
	c.startOnce.Do(func() {
		go c.backgroundLoop()
	})
}

// Interval returns the current interval.
func (c *Checkpointer) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the interval; the next tick is rescheduled.
func (c *Checkpointer) SetInterval(d time.Duration) {
	if d <= 0 || time.Duration(c.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case c.reset <- d:
	default:
		// A pending reset will pick up the stored value.
	}
}

// next returns the mode of the next checkpoint and advances the counter.
func (c *Checkpointer) next() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := ModeDifferential
	if c.cfg.FullEvery <= 1 || c.count%c.cfg.FullEvery == 0 {
		mode = ModeFull
	}
	c.count++
	return mode
}

// RunOnce takes the next checkpoint in the full/differential rotation.
func (c *Checkpointer) RunOnce(ctx context.Context) (*CheckpointResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.engine.Checkpoint(ctx, c.next())
}

func (c *Checkpointer) backgroundLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := c.RunOnce(context.Background())
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrCheckpointInProgress):
				c.logger.Debug("periodic checkpoint skipped, another one is running")
			case errors.Is(err, domain.ErrEngineUnloaded):
				return
			default:
				c.logger.Error("periodic checkpoint failed", "error", err)
			}

		case <-c.reset:
			ticker.Reset(c.Interval())

		case <-c.stopCh:
			return
		}
	}
}

// Stop ends the background loop and waits for a running checkpoint.
func (c *Checkpointer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	// Never started: nothing to wait for.
	c.startOnce.Do(func() { close(c.doneCh) })
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

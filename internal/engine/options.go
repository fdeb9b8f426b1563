package engine

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/google/uuid"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/engine/scheduler"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
)

// InstanceFactory starts the running artifact of an instance entity. It is
// called on creation and on recovery, with the entity's expression and
// state already set.
type InstanceFactory interface {
	Create(ctx context.Context, e *domain.Entity) (domain.Instance, error)
}

// InstanceFactoryFunc adapts a function to InstanceFactory.
type InstanceFactoryFunc func(ctx context.Context, e *domain.Entity) (domain.Instance, error)

// Create implements InstanceFactory.
func (f InstanceFactoryFunc) Create(ctx context.Context, e *domain.Entity) (domain.Instance, error) {
	return f(ctx, e)
}

// DefaultCheckpointID names the checkpoint an engine writes when
// Options.CheckpointID is empty.
const DefaultCheckpointID = "default"

// Options configures an Engine.
type Options struct {
	// ID identifies the engine in errors and logs. A random UUID is used
	// when empty.
	ID string

	// Store persists checkpoints. Required.
	Store storage.Store

	// CheckpointID is the store-scoped checkpoint name.
	CheckpointID string

	// Scheduler is paused around checkpoints and recoveries. Defaults to a
	// scheduler.Manual.
	Scheduler scheduler.Scheduler

	// Factory binds instances. With a nil factory instance entities stay
	// unbound and only their stored state is checkpointed.
	Factory InstanceFactory

	// CheckpointParallelism bounds concurrent entity encoding (>= 1).
	CheckpointParallelism int

	// RecoveryParallelism bounds concurrent entity decoding (>= 1).
	RecoveryParallelism int

	// TemplatizeExpressions writes expressions as template invocations.
	TemplatizeExpressions bool

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metric.Registry

	// Tracer is optional.
	Tracer *tracer.Provider
}

// DefaultOptions returns the defaults for store.
func DefaultOptions(store storage.Store) Options {
	return Options{
		Store:                 store,
		CheckpointID:          DefaultCheckpointID,
		CheckpointParallelism: 1,
		RecoveryParallelism:   DefaultRecoveryParallelism(),
	}
}

// DefaultRecoveryParallelism is half the CPUs, at least one.
func DefaultRecoveryParallelism() int {
	return max(1, runtime.NumCPU()/2)
}

func (o *Options) normalize() error {
	if o.Store == nil {
		return domain.ErrMissingArgument.WithDetails("store")
	}
	if o.CheckpointParallelism < 0 {
		return domain.ErrInvalidArgument.WithDetails("checkpoint_parallelism must be >= 1")
	}
	if o.RecoveryParallelism < 0 {
		return domain.ErrInvalidArgument.WithDetails("recovery_parallelism must be >= 1")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CheckpointID == "" {
		o.CheckpointID = DefaultCheckpointID
	}
	if err := storage.ValidateName(o.CheckpointID); err != nil {
		return domain.ErrInvalidArgument.WithDetails("checkpoint_id").WithCause(err)
	}
	if o.Scheduler == nil {
		o.Scheduler = scheduler.NewManual()
	}
	if o.CheckpointParallelism == 0 {
		o.CheckpointParallelism = 1
	}
	if o.RecoveryParallelism == 0 {
		o.RecoveryParallelism = DefaultRecoveryParallelism()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

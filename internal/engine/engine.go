package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/core/registry"
	"github.com/yndnr/rxcheckpoint/internal/core/template"
	"github.com/yndnr/rxcheckpoint/internal/engine/scheduler"
	"github.com/yndnr/rxcheckpoint/internal/infra/quiesce"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// Engine hosts entities and checkpoints them to a store.
type Engine struct {
	id           string
	checkpointID string
	logger       *slog.Logger

	store   storage.Store
	sched   scheduler.Scheduler
	factory InstanceFactory
	metrics *metric.Registry
	tracer  *tracer.Provider

	reg         atomic.Pointer[registry.Registry]
	templatizer atomic.Pointer[template.Templatizer]
	gate        *quiesce.Gate
	events      Events

	checkpointParallelism atomic.Int32
	recoveryParallelism   atomic.Int32
	templatize            atomic.Bool

	busy     atomic.Bool
	unloaded atomic.Bool
	last     atomic.Pointer[storage.Info]
}

// New creates an engine. It does not recover; call Recover after New to
// load the current checkpoint.
func New(opts Options) (*Engine, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	e := &Engine{
		id:           opts.ID,
		checkpointID: opts.CheckpointID,
		logger:       opts.Logger.With("engine_id", opts.ID),
		store:        opts.Store,
		sched:        opts.Scheduler,
		factory:      opts.Factory,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		gate:         quiesce.NewGate(),
	}
	e.reg.Store(registry.New(opts.ID))
	e.templatizer.Store(template.NewTemplatizer(template.NewRegistry()))
	e.checkpointParallelism.Store(int32(opts.CheckpointParallelism))
	e.recoveryParallelism.Store(int32(opts.RecoveryParallelism))
	e.templatize.Store(opts.TemplatizeExpressions)
	return e, nil
}

// ID returns the engine identifier.
func (e *Engine) ID() string { return e.id }

// CheckpointID returns the store-scoped checkpoint name.
func (e *Engine) CheckpointID() string { return e.checkpointID }

// Events returns the lifecycle callback lists.
func (e *Engine) Events() *Events { return &e.events }

// Scheduler returns the scheduler paused around checkpoints.
func (e *Engine) Scheduler() scheduler.Scheduler { return e.sched }

// Templates returns the current template registry.
func (e *Engine) Templates() *template.Registry {
	return e.templatizer.Load().Registry()
}

// SetParallelism changes the worker pool bounds for later checkpoints and
// recoveries. Zero keeps the current value.
func (e *Engine) SetParallelism(checkpoint, recovery int) error {
	if checkpoint < 0 || recovery < 0 {
		return domain.ErrInvalidArgument.WithDetails("parallelism must be >= 1")
	}
	if checkpoint > 0 {
		e.checkpointParallelism.Store(int32(checkpoint))
	}
	if recovery > 0 {
		e.recoveryParallelism.Store(int32(recovery))
	}
	return nil
}

// Parallelism returns the current checkpoint and recovery pool bounds.
func (e *Engine) Parallelism() (checkpoint, recovery int) {
	return int(e.checkpointParallelism.Load()), int(e.recoveryParallelism.Load())
}

// SetTemplatize toggles templatized expressions for later checkpoints.
func (e *Engine) SetTemplatize(on bool) { e.templatize.Store(on) }

// LastCheckpoint returns the info of the last checkpoint committed or
// recovered by this engine.
func (e *Engine) LastCheckpoint() (storage.Info, bool) {
	if info := e.last.Load(); info != nil {
		return *info, true
	}
	return storage.Info{}, false
}

// enter admits a mutation and returns the registry it applies to.
func (e *Engine) enter() (*quiesce.Scope, *registry.Registry, error) {
	if e.unloaded.Load() {
		return nil, nil, domain.ErrEngineUnloaded
	}
	scope, err := e.gate.Enter()
	if err != nil {
		return nil, nil, domain.ErrEngineUnloaded
	}
	return scope, e.reg.Load(), nil
}

func (e *Engine) entityErr(class *domain.DomainError, id string, kind domain.Kind, param string, cause error) error {
	err := domain.NewEntityError(class, id, kind, cause).WithEngine(e.id)
	err.Param = param
	return err
}

// ============================================================================
// Definitions
// ============================================================================

// DefineObservable registers an observable definition.
func (e *Engine) DefineObservable(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Define(ctx, domain.KindObservable, id, ex, state)
}

// DefineObserver registers an observer definition.
func (e *Engine) DefineObserver(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Define(ctx, domain.KindObserver, id, ex, state)
}

// DefineStreamFactory registers a stream factory definition.
func (e *Engine) DefineStreamFactory(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Define(ctx, domain.KindStreamFactory, id, ex, state)
}

// DefineOther registers any other definition.
func (e *Engine) DefineOther(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Define(ctx, domain.KindOther, id, ex, state)
}

// Define registers a definition of kind.
func (e *Engine) Define(_ context.Context, kind domain.Kind, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	// 1. Validate input
	if domain.IsTemplateID(id) {
		return nil, e.entityErr(domain.ErrInvalidArgument, id, kind, "id",
			errors.New("identifier is in the reserved template namespace"))
	}
	ent, err := domain.NewDefinition(id, kind, ex, state)
	if err != nil {
		return nil, err
	}

	// 2. Register
	scope, reg, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer scope.Release()
	if err := reg.Add(ent); err != nil {
		return nil, err
	}

	e.events.added(ent)
	e.logger.Debug("entity defined", "id", id, "kind", kind.String())
	return ent, nil
}

// Undefine removes a definition.
func (e *Engine) Undefine(ctx context.Context, kind domain.Kind, id string) error {
	if !kind.IsDefinition() {
		return e.entityErr(domain.ErrInvalidArgument, id, kind, "kind", errors.New("not a definition kind"))
	}
	return e.remove(ctx, kind, id)
}

// ============================================================================
// Instances
// ============================================================================

// CreateSubscription starts a subscription.
func (e *Engine) CreateSubscription(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Create(ctx, domain.KindSubscription, id, ex, state)
}

// CreateReliableSubscription starts a reliable subscription.
func (e *Engine) CreateReliableSubscription(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Create(ctx, domain.KindReliableSubscription, id, ex, state)
}

// CreateStream starts a stream.
func (e *Engine) CreateStream(ctx context.Context, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	return e.Create(ctx, domain.KindStream, id, ex, state)
}

// Create starts an instance through the factory and registers it. The
// entity becomes visible together with its bound instance; a factory
// failure leaves no trace in the registry.
func (e *Engine) Create(ctx context.Context, kind domain.Kind, id string, ex expr.Node, state []byte) (*domain.Entity, error) {
	// 1. Validate input
	ent, err := domain.NewInstance(id, kind, ex, state)
	if err != nil {
		return nil, err
	}

	scope, reg, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer scope.Release()
	if _, taken := reg.Lookup(id); taken {
		return nil, e.entityErr(domain.ErrEntityAlreadyExists, id, kind, "id", nil)
	}

	// 2. Start the running instance
	inst, err := e.instantiate(ctx, ent)
	if err != nil {
		return nil, err
	}

	// 3. Register entity and instance together
	if err := reg.AddBound(ent, inst); err != nil {
		if inst != nil {
			_ = inst.Dispose()
		}
		return nil, err
	}

	e.events.added(ent)
	e.logger.Debug("entity created", "id", id, "kind", kind.String())
	return ent, nil
}

// instantiate asks the factory for the instance of ent. It returns nil
// without a factory.
func (e *Engine) instantiate(ctx context.Context, ent *domain.Entity) (domain.Instance, error) {
	if e.factory == nil {
		return nil, nil
	}
	inst, err := e.factory.Create(ctx, ent)
	if err == nil && inst == nil {
		err = errors.New("factory returned no instance")
	}
	if err != nil {
		return nil, e.entityErr(domain.ErrInternal, ent.ID, ent.Kind, "instance", err)
	}
	return inst, nil
}

// Delete disposes and removes an instance.
func (e *Engine) Delete(ctx context.Context, kind domain.Kind, id string) error {
	if !kind.IsInstance() {
		return e.entityErr(domain.ErrInvalidArgument, id, kind, "kind", errors.New("not an instance kind"))
	}
	return e.remove(ctx, kind, id)
}

func (e *Engine) remove(_ context.Context, kind domain.Kind, id string) error {
	scope, reg, err := e.enter()
	if err != nil {
		return err
	}
	defer scope.Release()

	ent, err := reg.Remove(kind, id)
	if err != nil {
		return err
	}
	var disposeErr error
	if inst := ent.Unbind(); inst != nil {
		if err := inst.Dispose(); err != nil {
			disposeErr = e.entityErr(domain.ErrInternal, id, kind, "instance", err)
			e.logger.Warn("instance dispose failed", "id", id, "kind", kind.String(), "error", err)
		}
	}

	e.events.removed(ent)
	return disposeErr
}

// ============================================================================
// Queries and state
// ============================================================================

// Get returns the entity of kind with identifier id. Invalid placeholders
// are returned as is; check IsInvalid.
func (e *Engine) Get(kind domain.Kind, id string) (*domain.Entity, error) {
	if e.unloaded.Load() {
		return nil, domain.ErrEngineUnloaded
	}
	return e.reg.Load().Get(kind, id)
}

// List returns the live entities of kind.
func (e *Engine) List(kind domain.Kind) ([]*domain.Entity, error) {
	if e.unloaded.Load() {
		return nil, domain.ErrEngineUnloaded
	}
	if !kind.Valid() {
		return nil, e.entityErr(domain.ErrInvalidArgument, "", kind, "kind", nil)
	}
	var out []*domain.Entity
	e.reg.Load().Range(kind, func(ent *domain.Entity) bool {
		out = append(out, ent)
		return true
	})
	return out, nil
}

// UpdateState replaces the stored state of an entity and marks it dirty.
func (e *Engine) UpdateState(_ context.Context, kind domain.Kind, id string, state []byte) error {
	if len(state) > domain.MaxStateLength {
		return e.entityErr(domain.ErrInvalidArgument, id, kind, "state",
			fmt.Errorf("state exceeds %d bytes", domain.MaxStateLength))
	}
	scope, reg, err := e.enter()
	if err != nil {
		return err
	}
	defer scope.Release()

	ent, err := reg.Get(kind, id)
	if err != nil {
		return err
	}
	if ent.IsInvalid() {
		return e.entityErr(domain.ErrEntityInvalid, id, kind, "id", ent.LoadError())
	}
	ent.SetState(state)
	return nil
}

// ============================================================================
// Statistics
// ============================================================================

// EntityCounts returns live entities per kind name.
func (e *Engine) EntityCounts() map[string]int {
	reg := e.reg.Load()
	out := make(map[string]int, len(domain.RecoveryOrder))
	for _, k := range domain.RecoveryOrder {
		out[k.String()] = reg.Count(k)
	}
	return out
}

// TemplateCount returns the number of interned templates.
func (e *Engine) TemplateCount() int {
	return e.Templates().Len()
}

// LastCheckpointSequence returns the sequence of the last checkpoint, or 0.
func (e *Engine) LastCheckpointSequence() uint64 {
	if info := e.last.Load(); info != nil {
		return info.Sequence
	}
	return 0
}

// ============================================================================
// Unload
// ============================================================================

// Unload stops the engine: new operations fail with ErrEngineUnloaded,
// in-flight mutations and any running checkpoint are waited for, then every
// bound instance is disposed. Unload is idempotent.
func (e *Engine) Unload(ctx context.Context) error {
	if !e.unloaded.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	e.logger.Info("engine unloading")

	// 1. Drain mutations
	select {
	case <-e.gate.Close():
	case <-ctx.Done():
		return ctx.Err()
	}

	// 2. Wait for a running checkpoint or recovery
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !e.busy.CompareAndSwap(false, true) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// 3. Drain mutations admitted into a generation installed by that run
	select {
	case <-e.gate.Close():
	case <-ctx.Done():
		return ctx.Err()
	}

	// 4. Dispose instances
	err := disposeAll(e.reg.Load())
	if err != nil {
		e.logger.Warn("engine unloaded with dispose failures", "error", err)
	}
	e.logger.Info("engine unloaded", "elapsed", time.Since(start))
	return err
}

// disposeAll unbinds and disposes every bound instance of reg.
func disposeAll(reg *registry.Registry) error {
	var errs *multierror.Error
	for _, k := range domain.RecoveryOrder {
		if !k.IsInstance() {
			continue
		}
		reg.Range(k, func(ent *domain.Entity) bool {
			if inst := ent.Unbind(); inst != nil {
				if err := inst.Dispose(); err != nil {
					errs = multierror.Append(errs, domain.NewEntityError(domain.ErrInternal, ent.ID, ent.Kind, err))
				}
			}
			return true
		})
	}
	return errs.ErrorOrNil()
}

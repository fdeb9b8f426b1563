package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/rxcheckpoint/internal/core/codec"
	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/core/registry"
	"github.com/yndnr/rxcheckpoint/internal/core/template"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// RecoveryResult describes a recovery.
type RecoveryResult struct {
	// Found is false when the store held no checkpoint; the engine state is
	// then left untouched.
	Found     bool          `json:"found"`
	Info      storage.Info  `json:"info"`
	Loaded    int           `json:"loaded"`
	Templates int           `json:"templates"`
	Invalid   int           `json:"invalid"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Recover replaces the engine state with the current checkpoint.
//
// Entities that fail to load are registered as invalid placeholders and
// reported on LoadFailed; unhandled ones are returned as a
// *domain.AggregateError together with a non-nil result, since the rest of
// the state was restored. A corrupt stream aborts recovery and leaves the
// engine state untouched.
func (e *Engine) Recover(ctx context.Context) (*RecoveryResult, error) {
	if e.unloaded.Load() {
		return nil, domain.ErrEngineUnloaded
	}
	if !e.busy.CompareAndSwap(false, true) {
		if e.unloaded.Load() {
			return nil, domain.ErrEngineUnloaded
		}
		return nil, domain.ErrCheckpointInProgress
	}
	defer e.busy.Store(false)
	if e.unloaded.Load() {
		return nil, domain.ErrEngineUnloaded
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.recover",
		attribute.String("engine.id", e.id),
		attribute.String("checkpoint.id", e.checkpointID),
	)
	e.logger.Info("recovery started", "checkpoint_id", e.checkpointID)

	res, err := e.recover(ctx)

	elapsed := time.Since(start)
	tracer.End(span, err)
	e.metrics.ObserveRecovery(elapsed, err)
	if res == nil {
		e.logger.Error("recovery failed", "elapsed", elapsed, "error", err)
		return nil, err
	}
	res.Elapsed = elapsed
	if err != nil {
		e.logger.Warn("recovery completed with failures",
			"sequence", res.Info.Sequence, "loaded", res.Loaded, "invalid", res.Invalid,
			"elapsed", elapsed, "error", err)
		return res, err
	}
	if res.Found {
		e.logger.Info("recovery completed",
			"sequence", res.Info.Sequence,
			"loaded", res.Loaded,
			"templates", res.Templates,
			"elapsed", elapsed)
	} else {
		e.logger.Info("no checkpoint found, starting empty")
	}
	return res, nil
}

func (e *Engine) recover(ctx context.Context) (*RecoveryResult, error) {
	// 1. Pause the scheduler
	resume, err := e.pause(ctx)
	if err != nil {
		return nil, err
	}
	defer resume()

	// 2. Open the current state
	rd, ok, err := e.store.TryReadCurrent(ctx, e.checkpointID)
	if err != nil {
		return nil, domain.ErrStorage.WithDetails("open current checkpoint").WithCause(err)
	}
	if !ok {
		return &RecoveryResult{}, nil
	}
	defer rd.Close()

	run := &recoveryRun{
		e:   e,
		rd:  rd,
		reg: registry.New(e.id),
		tz:  template.NewTemplatizer(template.NewRegistry()),
	}
	run.opts = codec.Options{Templatizer: run.tz}

	// 3. Templates, then categories in dependency order
	if err := run.templates(); err != nil {
		run.discard()
		return nil, err
	}
	for _, category := range domain.Categories() {
		if category == domain.CategoryTemplates {
			continue
		}
		if err := run.category(ctx, category); err != nil {
			run.discard()
			return nil, err
		}
	}

	// 4. Swap in the restored state and retire the old one once mutations
	// that still target it have drained
	old := e.reg.Swap(run.reg)
	e.templatizer.Store(run.tz)
	if err := e.gate.Rotate().Wait(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("waiting for mutations on the replaced registry failed", "error", err)
	}
	if err := disposeAll(old); err != nil {
		e.logger.Warn("dispose replaced instances failed", "error", err)
	}

	info := rd.Info()
	e.last.Store(&info)
	res := &RecoveryResult{
		Found:     true,
		Info:      info,
		Loaded:    int(run.loaded.Load()),
		Templates: run.tz.Registry().Len(),
		Invalid:   int(run.invalid.Load()),
	}
	return res, domain.NewAggregateError("recovery", run.failures)
}

// recoveryRun is the state of one recovery.
type recoveryRun struct {
	e    *Engine
	rd   storage.StateReader
	reg  *registry.Registry
	tz   *template.Templatizer
	opts codec.Options

	mu       sync.Mutex
	failures *multierror.Error

	loaded  atomic.Int64
	invalid atomic.Int64
}

func (r *recoveryRun) templates() error {
	for _, id := range r.rd.Keys(domain.CategoryTemplates) {
		rec, err := r.decode(domain.CategoryTemplates, id, domain.KindOther)
		if err != nil {
			if errors.Is(err, domain.ErrCorruptFormat) || errors.Is(err, domain.ErrStorage) {
				return err
			}
			r.fail(id, domain.KindOther, err)
			continue
		}
		shape, ok := rec.Expr.(*expr.Lambda)
		if !ok {
			r.fail(id, domain.KindOther,
				domain.ErrTemplateShapeMismatch.WithDetails(fmt.Sprintf("%s is not a lambda", id)))
			continue
		}
		if _, err := r.tz.Registry().Restore(rec.ID, shape); err != nil {
			r.fail(id, domain.KindOther, err)
			continue
		}
		r.e.metrics.EntityLoaded()
	}
	return nil
}

func (r *recoveryRun) category(ctx context.Context, category string) error {
	kind, ok := domain.CategoryKind(category)
	if !ok {
		return domain.ErrCorruptFormat.WithDetails("unknown category " + category)
	}
	keys := r.rd.Keys(category)
	if len(keys) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(r.e.recoveryParallelism.Load()))
	for _, id := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.load(gctx, category, kind, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *recoveryRun) decode(category, id string, kind domain.Kind) (*codec.Record, error) {
	rc, err := r.rd.OpenItem(category, id)
	if err != nil {
		return nil, domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	defer rc.Close()
	rec, err := codec.DecodeFrom(rc, kind, r.opts)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptFormat) {
			return nil, domain.NewEntityError(domain.ErrCorruptFormat, id, kind, err).WithEngine(r.e.id)
		}
		return nil, err
	}
	if rec.ID != id {
		return nil, domain.NewEntityError(domain.ErrCorruptFormat, id, kind,
			fmt.Errorf("record holds %q", rec.ID)).WithEngine(r.e.id)
	}
	return rec, nil
}

// load restores one entity. Only corrupt streams and store faults are
// returned; everything else becomes an invalid placeholder.
func (r *recoveryRun) load(ctx context.Context, category string, kind domain.Kind, id string) error {
	rec, err := r.decode(category, id, kind)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptFormat) || errors.Is(err, domain.ErrStorage) {
			return err
		}
		r.fail(id, kind, err)
		return nil
	}

	ent, err := rec.Entity()
	if err != nil {
		r.fail(id, kind, err)
		return nil
	}
	ent.MarkClean()
	var inst domain.Instance
	if kind.IsInstance() {
		if inst, err = r.e.instantiate(ctx, ent); err != nil {
			r.fail(id, kind, err)
			return nil
		}
	}
	if err := r.reg.AddBound(ent, inst); err != nil {
		if inst != nil {
			_ = inst.Dispose()
		}
		r.fail(id, kind, err)
		return nil
	}

	r.loaded.Add(1)
	r.e.metrics.EntityLoaded()
	return nil
}

// fail registers an invalid placeholder and reports the failure.
func (r *recoveryRun) fail(id string, kind domain.Kind, cause error) {
	err := domain.NewEntityError(domain.ErrEntityLoadFailed, id, kind, cause).WithEngine(r.e.id)
	placeholder := domain.NewInvalid(id, kind, err)
	if r.reg.Add(placeholder) == nil {
		r.invalid.Add(1)
	}

	ev := &FailureEvent{ID: id, Kind: kind, Err: err, Entity: placeholder}
	r.e.events.LoadFailed.Emit(ev)
	r.e.metrics.EntityFailed("load")
	if ev.Handled {
		r.e.logger.Info("entity load failure handled", "id", id, "kind", kind.String(), "error", cause)
		return
	}

	r.e.logger.Warn("entity load failed", "id", id, "kind", kind.String(), "error", cause)
	r.mu.Lock()
	r.failures = multierror.Append(r.failures, err)
	r.mu.Unlock()
}

// discard disposes instances bound during an aborted recovery.
func (r *recoveryRun) discard() {
	if err := disposeAll(r.reg); err != nil {
		r.e.logger.Warn("dispose partially recovered instances failed", "error", err)
	}
}

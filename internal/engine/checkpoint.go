package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
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
)

// Mode selects the checkpoint lineage.
type Mode int

const (
	// ModeFull writes every entity into a new state.
	ModeFull Mode = iota
	// ModeDifferential writes changed entities and deletions on top of the
	// current state.
	ModeDifferential
)

func (m Mode) String() string {
	if m == ModeDifferential {
		return "differential"
	}
	return "full"
}

// ParseMode parses "full" or "differential".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return ModeFull, nil
	case "differential", "diff":
		return ModeDifferential, nil
	}
	return ModeFull, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown checkpoint mode %q", s))
}

// CheckpointResult describes a committed checkpoint.
type CheckpointResult struct {
	Info      storage.Info  `json:"info"`
	Written   int           `json:"written"`
	Deleted   int           `json:"deleted"`
	Templates int           `json:"templates"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Checkpoint writes the engine state to the store.
//
// ModeDifferential falls back to a full checkpoint when nothing was
// committed yet. Per-entity failures that no SaveFailed handler absorbs roll
// the checkpoint back and are returned as one *domain.AggregateError.
func (e *Engine) Checkpoint(ctx context.Context, mode Mode) (*CheckpointResult, error) {
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
	ctx, span := e.tracer.Start(ctx, "engine.checkpoint",
		attribute.String("engine.id", e.id),
		attribute.String("checkpoint.mode", mode.String()),
	)
	e.logger.Info("checkpoint started", "mode", mode.String(), "checkpoint_id", e.checkpointID)

	res, err := e.checkpoint(ctx, mode)

	elapsed := time.Since(start)
	tracer.End(span, err)
	e.metrics.ObserveCheckpoint(mode.String(), elapsed, err)
	if err != nil {
		e.logger.Error("checkpoint failed", "mode", mode.String(), "elapsed", elapsed, "error", err)
		return nil, err
	}
	res.Elapsed = elapsed
	e.logger.Info("checkpoint committed",
		"sequence", res.Info.Sequence,
		"lineage", string(res.Info.Lineage),
		"written", res.Written,
		"deleted", res.Deleted,
		"templates", res.Templates,
		"skipped", res.Skipped,
		"elapsed", elapsed)
	return res, nil
}

func (e *Engine) checkpoint(ctx context.Context, mode Mode) (*CheckpointResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Pause the scheduler; it resumes once every entity is captured
	resume, err := e.pause(ctx)
	if err != nil {
		return nil, err
	}
	defer resume()

	// 2. Wait for mutations of the current generation
	if err := e.gate.Rotate().Wait(ctx); err != nil {
		return nil, err
	}
	tracer.Event(ctx, "quiesced")

	// 3. Snapshot the registry
	reg := e.reg.Load()
	snap := reg.Clone()

	// 4. Open the writer
	var w storage.StateWriter
	if mode == ModeFull {
		w, err = e.store.StartNew(ctx, e.checkpointID)
	} else {
		w, err = e.store.Update(ctx, e.checkpointID)
	}
	if err != nil {
		return nil, domain.ErrStorage.WithDetails("open writer").WithCause(err)
	}

	run := &checkpointRun{
		e:    e,
		ctx:  ctx,
		w:    w,
		full: w.Lineage() == storage.LineageFull,
		opts: e.writeOptions(),
	}
	defer run.closePrevious()

	// 5. Encode entities on a bounded pool
	if err := run.entities(ctx, snap); err != nil {
		run.abort()
		return nil, err
	}

	// 6. Templates, after entities so that shapes interned above are included
	if err := run.templates(); err != nil {
		run.abort()
		return nil, err
	}
	resume()

	// 7. Deletions
	if !run.full {
		if err := run.deletions(snap); err != nil {
			run.abort()
			return nil, err
		}
	}

	// 8. Commit only without unhandled failures
	if agg := domain.NewAggregateError("checkpoint", run.failures); agg != nil {
		run.abort()
		return nil, agg
	}
	if err := run.commit(ctx); err != nil {
		return nil, err
	}

	// 9. Bookkeeping for the next differential
	for _, t := range run.persisted {
		t.MarkPersisted()
	}
	reg.ClearRemoved(snap)

	info := e.currentInfo(ctx)
	e.last.Store(&info)
	return &CheckpointResult{
		Info:      info,
		Written:   int(run.written.Load()),
		Deleted:   run.deleted,
		Templates: len(run.persisted),
		Skipped:   int(run.skipped.Load()),
	}, nil
}

// pause pauses the scheduler and returns an idempotent resume.
func (e *Engine) pause(ctx context.Context) (func(), error) {
	if err := e.sched.Pause(ctx); err != nil {
		return nil, fmt.Errorf("engine: pause scheduler: %w", err)
	}
	tracer.Event(ctx, "paused")
	pausedAt := time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := e.sched.Continue(context.WithoutCancel(ctx)); err != nil {
				e.logger.Error("scheduler continue failed", "error", err)
			}
			e.metrics.ObservePause(time.Since(pausedAt))
		})
	}, nil
}

func (e *Engine) writeOptions() codec.Options {
	opts := codec.Options{Version: codec.Current}
	if e.templatize.Load() {
		opts.Templatizer = e.templatizer.Load()
	}
	return opts
}

// currentInfo reads back the committed info.
func (e *Engine) currentInfo(ctx context.Context) storage.Info {
	r, ok, err := e.store.TryReadCurrent(ctx, e.checkpointID)
	if err != nil || !ok {
		e.logger.Warn("read committed checkpoint info failed", "error", err)
		return storage.Info{ID: e.checkpointID}
	}
	defer r.Close()
	return r.Info()
}

// checkpointRun is the state of one checkpoint.
type checkpointRun struct {
	e    *Engine
	ctx  context.Context
	w    storage.StateWriter
	full bool
	opts codec.Options

	mu       sync.Mutex
	failures *multierror.Error
	captured []*domain.Entity

	written atomic.Int64
	skipped atomic.Int64
	deleted int

	persisted []*template.Template

	prevOnce sync.Once
	prev     storage.StateReader
}

func (r *checkpointRun) entities(ctx context.Context, snap *registry.Snapshot) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(r.e.checkpointParallelism.Load()))
	for _, ent := range snap.Entities() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.save(ent)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// save writes one entity. Per-entity failures are recorded; only store
// faults are returned.
func (r *checkpointRun) save(ent *domain.Entity) error {
	if ent.IsInvalid() {
		if r.full {
			return r.carryForward(domain.Category(ent.Kind, ent.ID), ent.ID)
		}
		return nil
	}

	state, dirty, err := ent.Capture()
	if err != nil {
		return r.fail(ent, err)
	}
	if !r.full && !dirty {
		return nil
	}

	data, err := codec.Encode(ent, state, r.opts)
	if err != nil {
		return r.fail(ent, err)
	}
	if err := r.put(domain.Category(ent.Kind, ent.ID), ent.ID, data); err != nil {
		ent.MarkDirty()
		return err
	}

	r.mu.Lock()
	if dirty {
		r.captured = append(r.captured, ent)
	}
	r.mu.Unlock()
	r.written.Add(1)
	r.e.metrics.EntitySaved(len(data))
	return nil
}

// fail reports a save failure. The entity stays dirty so the next
// checkpoint retries it.
func (r *checkpointRun) fail(ent *domain.Entity, cause error) error {
	ent.MarkDirty()
	err := domain.NewEntityError(domain.ErrEntitySaveFailed, ent.ID, ent.Kind, cause).WithEngine(r.e.id)
	ev := &FailureEvent{ID: ent.ID, Kind: ent.Kind, Err: err, Entity: ent}
	r.e.events.SaveFailed.Emit(ev)
	r.e.metrics.EntityFailed("save")

	if ev.Handled {
		r.skipped.Add(1)
		r.e.logger.Info("entity save failure handled", "id", ent.ID, "kind", ent.Kind.String(), "error", cause)
		if r.full {
			return r.carryForward(domain.Category(ent.Kind, ent.ID), ent.ID)
		}
		return nil
	}

	r.e.logger.Warn("entity save failed", "id", ent.ID, "kind", ent.Kind.String(), "error", cause)
	r.mu.Lock()
	r.failures = multierror.Append(r.failures, err)
	r.mu.Unlock()
	return nil
}

func (r *checkpointRun) put(category, id string, data []byte) error {
	iw, err := r.w.ItemWriter(category, id)
	if err != nil {
		return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	if _, err := iw.Write(data); err != nil {
		_ = iw.Close()
		return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	if err := iw.Close(); err != nil {
		return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	return nil
}

// carryForward copies the record of the current state into a full
// checkpoint, for entities whose live form cannot be encoded.
func (r *checkpointRun) carryForward(category, id string) error {
	prev := r.previous()
	if prev == nil {
		return nil
	}
	rc, err := prev.OpenItem(category, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
	}
	return r.put(category, id, data)
}

func (r *checkpointRun) previous() storage.StateReader {
	r.prevOnce.Do(func() {
		rd, ok, err := r.e.store.TryReadCurrent(r.ctx, r.e.checkpointID)
		if err != nil {
			r.e.logger.Warn("open previous checkpoint failed", "error", err)
			return
		}
		if ok {
			r.prev = rd
		}
	})
	return r.prev
}

func (r *checkpointRun) closePrevious() {
	if r.prev != nil {
		_ = r.prev.Close()
	}
}

func (r *checkpointRun) templates() error {
	for _, t := range r.e.Templates().All() {
		if !r.full && t.Persisted() {
			continue
		}
		data, err := encodeTemplate(t, r.opts)
		if err != nil {
			if ferr := r.fail(domain.NewInvalid(t.ID, domain.KindOther, err), err); ferr != nil {
				return ferr
			}
			continue
		}
		if err := r.put(domain.CategoryTemplates, t.ID, data); err != nil {
			return err
		}
		r.persisted = append(r.persisted, t)
		r.e.metrics.EntitySaved(len(data))
	}
	return nil
}

// encodeTemplate writes a template as an OtherDefinition entity whose
// expression is the template lambda.
func encodeTemplate(t *template.Template, opts codec.Options) ([]byte, error) {
	ent, err := domain.New(t.ID, domain.KindOther, t.Shape, nil)
	if err != nil {
		return nil, err
	}
	return codec.Encode(ent, nil, opts)
}

func (r *checkpointRun) deletions(snap *registry.Snapshot) error {
	for kind, ps := range snap.Partitions {
		for _, id := range ps.Removed {
			category := domain.Category(kind, id)
			if err := r.w.DeleteItem(category, id); err != nil {
				return domain.ErrStorage.WithDetails(category + "/" + id).WithCause(err)
			}
			r.deleted++
		}
	}
	return nil
}

func (r *checkpointRun) commit(ctx context.Context) error {
	ctx, span := r.e.tracer.Start(ctx, "store.commit",
		attribute.String("checkpoint.id", r.e.checkpointID),
		attribute.Bool("checkpoint.full", r.full),
	)
	err := r.w.Commit(ctx, func(done, total int) {
		if done == total {
			r.e.logger.Debug("checkpoint items applied", "total", total)
		}
	})
	tracer.End(span, err)
	if err != nil {
		r.redirty()
		return domain.ErrStorage.WithDetails("commit").WithCause(err)
	}
	return nil
}

// abort rolls back and restores the dirty flags cleared by Capture.
func (r *checkpointRun) abort() {
	if err := r.w.Rollback(); err != nil && !errors.Is(err, storage.ErrWriterDone) {
		r.e.logger.Warn("checkpoint rollback failed", "error", err)
	}
	r.redirty()
}

func (r *checkpointRun) redirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ent := range r.captured {
		ent.MarkDirty()
	}
	r.captured = nil
}

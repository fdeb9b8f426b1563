package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/storage/memory"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// valueInstance is a valid instance that cannot be used as a map key.
type valueInstance struct{ buf []byte }

func (v valueInstance) SaveState() ([]byte, error) { return v.buf, nil }
func (valueInstance) Dispose() error               { return nil }

func TestCreateIsInvisibleWhileStarting(t *testing.T) {
	ctx := context.Background()
	var e *Engine
	var seen error
	e = newEngine(t, memory.New(), InstanceFactoryFunc(func(_ context.Context, ent *domain.Entity) (domain.Instance, error) {
		_, seen = e.Get(ent.Kind, ent.ID)
		for _, c := range e.reg.Load().Clone().Entities() {
			if c.ID == ent.ID {
				seen = fmt.Errorf("%s in checkpoint snapshot before start", c.ID)
			}
		}
		return &fakeInstance{}, nil
	}))

	_, err := e.CreateSubscription(ctx, subID(1), query(1), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, seen, domain.ErrEntityNotFound)
}

func TestCreateFailureNeverCheckpointed(t *testing.T) {
	ctx := context.Background()
	var started atomic.Int32
	factory := InstanceFactoryFunc(func(_ context.Context, ent *domain.Entity) (domain.Instance, error) {
		if started.Add(1)%2 == 0 {
			return nil, errors.New("operator unavailable")
		}
		return &fakeInstance{}, nil
	})
	store := memory.New()
	e := newEngine(t, store, factory)

	var (
		mu sync.Mutex
		ok = make(map[string]bool)
		wg sync.WaitGroup
	)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				id := subID(w*1000 + i)
				if _, err := e.CreateSubscription(ctx, id, query(int64(i)), nil); err == nil {
					mu.Lock()
					ok[id] = true
					mu.Unlock()
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		_, err := e.Checkpoint(ctx, ModeFull)
		require.NoError(t, err)
		for _, id := range committedKeys(t, store, domain.CategorySubscriptions) {
			mu.Lock()
			created := ok[id]
			mu.Unlock()
			if !created {
				// A successful create may commit before it is recorded above.
				_, err := e.Get(domain.KindSubscription, id)
				require.NoError(t, err, "failed create %s was checkpointed", id)
			}
		}
	}
	assert.Len(t, committedKeys(t, store, domain.CategorySubscriptions), len(ok))
}

func TestCreateRejectsUnhashableInstance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New(), InstanceFactoryFunc(func(context.Context, *domain.Entity) (domain.Instance, error) {
		return valueInstance{buf: []byte("x")}, nil
	}))

	var err error
	require.NotPanics(t, func() {
		_, err = e.CreateSubscription(ctx, subID(1), query(1), nil)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	var ee *domain.EntityError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "instance", ee.Param)

	_, err = e.Get(domain.KindSubscription, subID(1))
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = e.Checkpoint(ctx, ModeFull)
	require.NoError(t, err)
}

func TestRecoverRejectsUnhashableInstance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newEngine(t, store, nil)
	_, err := src.CreateSubscription(ctx, subID(1), query(1), []byte("s"))
	require.NoError(t, err)
	_, err = src.Checkpoint(ctx, ModeFull)
	require.NoError(t, err)

	e := newEngine(t, store, InstanceFactoryFunc(func(context.Context, *domain.Entity) (domain.Instance, error) {
		return valueInstance{}, nil
	}))
	require.NotPanics(t, func() { _, err = e.Recover(ctx) })
	agg := requireAggregate(t, err)
	assert.Equal(t, 1, agg.Len())
	assert.ErrorIs(t, err, domain.ErrEntityLoadFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	ent, err := e.Get(domain.KindSubscription, subID(1))
	require.NoError(t, err)
	assert.True(t, ent.IsInvalid(), "left as a placeholder")
}

func TestIdentifiersUniqueAcrossKinds(t *testing.T) {
	ctx := context.Background()
	e, _, factory := newMemoryEngine(t)
	const id = "rx://shared/name"

	_, err := e.DefineObservable(ctx, id, expr.Const(1), nil)
	require.NoError(t, err)

	_, err = e.DefineObserver(ctx, id, expr.Const(1), nil)
	assert.ErrorIs(t, err, domain.ErrEntityAlreadyExists)
	_, err = e.CreateSubscription(ctx, id, query(1), nil)
	assert.ErrorIs(t, err, domain.ErrEntityAlreadyExists)
	assert.Nil(t, factory.get(id), "factory is not consulted for a taken identifier")

	list, err := e.List(domain.KindObserver)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, e.Undefine(ctx, domain.KindObservable, id))
	_, err = e.CreateStream(ctx, id, expr.Const("subject"), nil)
	require.NoError(t, err)
}

func TestUnloadDuringCheckpoint(t *testing.T) {
	for round := range 20 {
		ctx := context.Background()
		e, _, factory := newMemoryEngine(t)
		for i := range 8 {
			_, err := e.CreateSubscription(ctx, subID(i), query(int64(i)), nil)
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = e.Checkpoint(ctx, ModeFull)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 100; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = e.CreateSubscription(ctx, subID(i), query(1), nil)
			}
		}()

		require.NoError(t, e.Unload(ctx))
		factory.mu.Lock()
		for id, inst := range factory.instances {
			assert.True(t, inst.disposed.Load(), "round %d: %s left running", round, id)
		}
		factory.mu.Unlock()

		_, err := e.CreateSubscription(ctx, subID(99999), query(1), nil)
		assert.ErrorIs(t, err, domain.ErrEngineUnloaded)
		close(stop)
		wg.Wait()
	}
}

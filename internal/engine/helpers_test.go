package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/memory"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// fakeInstance is a running subscription whose state tests can drive.
type fakeInstance struct {
	mu       sync.Mutex
	state    []byte
	saveErr  error
	saves    atomic.Int32
	disposed atomic.Bool
}

func (f *fakeInstance) SaveState() ([]byte, error) {
	f.saves.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return append([]byte(nil), f.state...), nil
}

func (f *fakeInstance) Dispose() error {
	f.disposed.Store(true)
	return nil
}

func (f *fakeInstance) set(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = []byte(state)
}

func (f *fakeInstance) failSaves(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

// fakeFactory starts fakeInstances seeded with the entity state.
type fakeFactory struct {
	mu        sync.Mutex
	instances map[string]*fakeInstance
	fail      map[string]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{instances: make(map[string]*fakeInstance), fail: make(map[string]bool)}
}

func (f *fakeFactory) Create(_ context.Context, e *domain.Entity) (domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[e.ID] {
		return nil, fmt.Errorf("operator for %s unavailable", e.ID)
	}
	inst := &fakeInstance{state: e.State()}
	f.instances[e.ID] = inst
	return inst, nil
}

func (f *fakeFactory) get(id string) *fakeInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

func (f *fakeFactory) failOn(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[id] = true
}

func newEngine(t testing.TB, store storage.Store, factory InstanceFactory, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions(store)
	opts.ID = "engine-1"
	opts.Logger = discard
	if factory != nil {
		opts.Factory = factory
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func newMemoryEngine(t testing.TB, mutate ...func(*Options)) (*Engine, *memory.Store, *fakeFactory) {
	t.Helper()
	store := memory.New()
	factory := newFakeFactory()
	return newEngine(t, store, factory, mutate...), store, factory
}

func subID(i int) string {
	return fmt.Sprintf("rx://subscriptions/s%04d", i)
}

// query builds a subscription expression; differing limits share a shape.
func query(limit int64) expr.Node {
	x := expr.Param("x", expr.TypeInt)
	return expr.Call(expr.Param("rx://operators/subscribe", expr.TypeFunc),
		expr.Call(expr.Param("rx://operators/where", expr.TypeFunc),
			expr.Param("rx://observables/ticks", expr.TypeAny),
			expr.Fn(expr.Call(expr.Param("rx://operators/gt", expr.TypeFunc), x, expr.Const(limit)), x),
		),
		expr.Param("rx://observers/log", expr.TypeAny),
	)
}

func committedKeys(t *testing.T, store storage.Store, category string) []string {
	t.Helper()
	r, ok, err := store.TryReadCurrent(context.Background(), DefaultCheckpointID)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	defer r.Close()
	return r.Keys(category)
}

func requireAggregate(t *testing.T, err error) *domain.AggregateError {
	t.Helper()
	var agg *domain.AggregateError
	require.True(t, errors.As(err, &agg), "want *domain.AggregateError, got %v", err)
	return agg
}

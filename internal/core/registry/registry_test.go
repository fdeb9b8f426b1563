package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

type testInstance struct{ name string }

func (*testInstance) SaveState() ([]byte, error) { return nil, nil }
func (*testInstance) Dispose() error             { return nil }

// valueInstance is a valid Instance that cannot be a map key.
type valueInstance struct{ buf []byte }

func (valueInstance) SaveState() ([]byte, error) { return nil, nil }
func (valueInstance) Dispose() error             { return nil }

func mustEntity(t *testing.T, id string, kind domain.Kind) *domain.Entity {
	t.Helper()
	e, err := domain.New(id, kind, expr.Const(id), nil)
	require.NoError(t, err)
	return e
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := New("engine-1")

	obs := mustEntity(t, "rx://observables/a", domain.KindObservable)
	require.NoError(t, r.Add(obs))

	err := r.Add(mustEntity(t, "rx://observables/a", domain.KindObservable))
	assert.ErrorIs(t, err, domain.ErrEntityAlreadyExists)
	var ee *domain.EntityError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "engine-1", ee.EngineID)

	got, err := r.Get(domain.KindObservable, "rx://observables/a")
	require.NoError(t, err)
	assert.Same(t, obs, got)
	kind, ok := r.Lookup("rx://observables/a")
	require.True(t, ok)
	assert.Equal(t, domain.KindObservable, kind)

	_, err = r.Remove(domain.KindObservable, "rx://observables/a")
	require.NoError(t, err)
	_, err = r.Get(domain.KindObservable, "rx://observables/a")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = r.Remove(domain.KindObservable, "rx://observables/a")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, ok = r.Lookup("rx://observables/a")
	assert.False(t, ok)

	_, err = r.Get(domain.KindUnknown, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRegistryIdentifiersUniqueAcrossKinds(t *testing.T) {
	r := New("engine-1")
	require.NoError(t, r.Add(mustEntity(t, "rx://same", domain.KindObservable)))

	for _, k := range []domain.Kind{domain.KindObserver, domain.KindStreamFactory, domain.KindStream, domain.KindSubscription} {
		err := r.Add(mustEntity(t, "rx://same", k))
		assert.ErrorIs(t, err, domain.ErrEntityAlreadyExists, "kind %s", k)
		assert.Zero(t, r.Count(k), "kind %s", k)
	}
	assert.Equal(t, 1, r.Len())

	_, err := r.Remove(domain.KindObservable, "rx://same")
	require.NoError(t, err)
	require.NoError(t, r.Add(mustEntity(t, "rx://same", domain.KindStream)), "identifier is free once removed")
}

func TestRegistryConcurrentAddAcrossKinds(t *testing.T) {
	r := New("engine-1")
	kinds := []domain.Kind{domain.KindObservable, domain.KindObserver, domain.KindStream, domain.KindSubscription}
	for i := range 50 {
		id := fmt.Sprintf("rx://race/%d", i)
		var wg sync.WaitGroup
		for _, k := range kinds {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = r.Add(mustEntity(t, id, k))
			}()
		}
		wg.Wait()
	}
	assert.Equal(t, 50, r.Len())
	assert.Equal(t, 50, r.Clone().Len())
}

func TestRegistryAddBound(t *testing.T) {
	r := New("engine-1")
	sub := mustEntity(t, "rx://subs/1", domain.KindSubscription)
	other := mustEntity(t, "rx://subs/2", domain.KindSubscription)

	inst := &testInstance{name: "one"}
	require.NoError(t, r.AddBound(sub, inst))
	assert.Same(t, inst, sub.Instance())

	err := r.AddBound(other, inst)
	assert.ErrorIs(t, err, domain.ErrEntityAlreadyExists, "instance bound twice")
	assert.Nil(t, other.Instance(), "failed add must unbind")
	_, err = r.Get(domain.KindSubscription, other.ID)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	got, err := r.GetByInstance(inst)
	require.NoError(t, err)
	assert.Same(t, sub, got)

	_, err = r.Remove(domain.KindSubscription, sub.ID)
	require.NoError(t, err)
	_, err = r.GetByInstance(inst)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	require.NoError(t, r.AddBound(other, inst), "instance is free again after removal")

	def := mustEntity(t, "rx://observables/x", domain.KindObservable)
	assert.ErrorIs(t, r.AddBound(def, &testInstance{}), domain.ErrInvalidArgument)
	_, ok := r.Lookup(def.ID)
	assert.False(t, ok)
}

func TestRegistryAddBoundRejectsUnhashableInstance(t *testing.T) {
	r := New("engine-1")
	sub := mustEntity(t, "rx://subs/1", domain.KindSubscription)

	var err error
	require.NotPanics(t, func() { err = r.AddBound(sub, valueInstance{buf: []byte("x")}) })
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Nil(t, sub.Instance())
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Clone().Len())

	require.NotPanics(t, func() {
		_, err = r.GetByInstance(valueInstance{})
	})
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestRegistryCloneSeesBoundOrNothing(t *testing.T) {
	r := New("engine-1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			e := mustEntity(t, fmt.Sprintf("rx://subs/%d", i), domain.KindSubscription)
			_ = r.AddBound(e, &testInstance{})
		}
	}()
	for {
		for _, e := range r.Clone().Entities() {
			require.NotNil(t, e.Instance(), "%s visible before its instance", e.ID)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRegistryClone(t *testing.T) {
	r := New("engine-1")
	require.NoError(t, r.Add(mustEntity(t, "rx://observables/a", domain.KindObservable)))
	require.NoError(t, r.Add(mustEntity(t, "rx://subs/1", domain.KindSubscription)))
	require.NoError(t, r.Add(mustEntity(t, "rx://subs/2", domain.KindSubscription)))
	_, err := r.Remove(domain.KindSubscription, "rx://subs/2")
	require.NoError(t, err)

	snap := r.Clone()
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 1, snap.RemovedLen())
	assert.Equal(t, []string{"rx://subs/2"}, snap.Partitions[domain.KindSubscription].Removed)

	ents := snap.Entities()
	require.Len(t, ents, 2)
	assert.Equal(t, domain.KindObservable, ents[0].Kind, "definitions come first")

	r.ClearRemoved(snap)
	assert.Equal(t, 0, r.Clone().RemovedLen())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, r.Count(domain.KindSubscription))
}

package registry

import (
	"errors"
	"sync"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
)

type partition = InvertedCollection[*domain.Entity, domain.Instance]

// Registry partitions the entities of one engine by kind.
type Registry struct {
	engineID   string
	partitions map[domain.Kind]*partition

	// mu orders Add and Remove against Clone; ids holds every live
	// identifier with its kind.
	mu  sync.RWMutex
	ids map[string]domain.Kind
}

// Snapshot is the cloned content of every partition, taken at one instant.
type Snapshot struct {
	Partitions map[domain.Kind]CollectionSnapshot[*domain.Entity]
}

// New creates an empty registry for the engine.
func New(engineID string) *Registry {
	r := &Registry{
		engineID:   engineID,
		partitions: make(map[domain.Kind]*partition, len(domain.RecoveryOrder)),
		ids:        make(map[string]domain.Kind),
	}
	for _, k := range domain.RecoveryOrder {
		r.partitions[k] = NewInvertedCollection[*domain.Entity, domain.Instance]()
	}
	return r
}

func (r *Registry) partition(kind domain.Kind) (*partition, error) {
	p, ok := r.partitions[kind]
	if !ok {
		return nil, r.entityErr(domain.ErrInvalidArgument, "", kind, "kind")
	}
	return p, nil
}

func (r *Registry) entityErr(class *domain.DomainError, id string, kind domain.Kind, param string) *domain.EntityError {
	return &domain.EntityError{Err: class, ID: id, Kind: kind, EngineID: r.engineID, Param: param}
}

// Add registers e. It fails if any live entity has the same identifier.
func (r *Registry) Add(e *domain.Entity) error {
	return r.AddBound(e, nil)
}

// AddBound registers the instance entity e bound to inst in one step: no
// reader sees e without inst or inst without e. A nil inst registers e
// unbound. On failure e is left unbound and inst is not disposed.
func (r *Registry) AddBound(e *domain.Entity, inst domain.Instance) error {
	p, err := r.partition(e.Kind)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.ids[e.ID]; taken {
		return r.entityErr(domain.ErrEntityAlreadyExists, e.ID, e.Kind, "id")
	}
	if inst != nil {
		if err := e.Bind(inst); err != nil {
			return err
		}
	}
	if err := p.TryAdd(e.ID, e, inst); err != nil {
		if inst != nil {
			e.Unbind()
		}
		switch {
		case errors.Is(err, ErrUnhashableHandle):
			ee := r.entityErr(domain.ErrInvalidArgument, e.ID, e.Kind, "instance")
			ee.Cause = err
			return ee
		case errors.Is(err, ErrDuplicateHandle):
			return r.entityErr(domain.ErrEntityAlreadyExists, e.ID, e.Kind, "instance")
		default:
			return r.entityErr(domain.ErrEntityAlreadyExists, e.ID, e.Kind, "id")
		}
	}
	r.ids[e.ID] = e.Kind
	return nil
}

// Lookup returns the kind of the live entity with identifier id.
func (r *Registry) Lookup(id string) (domain.Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.ids[id]
	return k, ok
}

// Remove unregisters the entity and releases its instance mapping.
func (r *Registry) Remove(kind domain.Kind, id string) (*domain.Entity, error) {
	p, err := r.partition(kind)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := p.TryRemove(id)
	if !ok {
		return nil, r.entityErr(domain.ErrEntityNotFound, id, kind, "id")
	}
	delete(r.ids, id)
	return e, nil
}

// Get returns the live entity.
func (r *Registry) Get(kind domain.Kind, id string) (*domain.Entity, error) {
	p, err := r.partition(kind)
	if err != nil {
		return nil, err
	}
	e, ok := p.TryGet(id)
	if !ok {
		return nil, r.entityErr(domain.ErrEntityNotFound, id, kind, "id")
	}
	return e, nil
}

// GetByInstance returns the entity an instance is bound to.
func (r *Registry) GetByInstance(inst domain.Instance) (*domain.Entity, error) {
	for _, k := range domain.RecoveryOrder {
		if !k.IsInstance() {
			continue
		}
		p := r.partitions[k]
		if id, ok := p.TryGetKey(inst); ok {
			if e, ok := p.TryGet(id); ok {
				return e, nil
			}
		}
	}
	return nil, r.entityErr(domain.ErrEntityNotFound, "", domain.KindUnknown, "instance")
}

// Range calls fn for each live entity of kind.
func (r *Registry) Range(kind domain.Kind, fn func(e *domain.Entity) bool) {
	if p, ok := r.partitions[kind]; ok {
		p.Range(func(_ string, e *domain.Entity) bool { return fn(e) })
	}
}

// Count returns the number of live entities of kind.
func (r *Registry) Count(kind domain.Kind) int {
	if p, ok := r.partitions[kind]; ok {
		return p.Len()
	}
	return 0
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Clone snapshots every partition at the same instant.
func (r *Registry) Clone() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{Partitions: make(map[domain.Kind]CollectionSnapshot[*domain.Entity], len(r.partitions))}
	for k, p := range r.partitions {
		s.Partitions[k] = p.Clone()
	}
	return s
}

// ClearRemoved forgets the tombstones reported by s.
func (r *Registry) ClearRemoved(s *Snapshot) {
	for k, ps := range s.Partitions {
		r.partitions[k].ClearRemovedKeys(ps.Removed)
	}
}

// Entities returns all live entities in s in recovery order.
func (s *Snapshot) Entities() []*domain.Entity {
	var out []*domain.Entity
	for _, k := range domain.RecoveryOrder {
		for _, e := range s.Partitions[k].Entries {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of live entities in s.
func (s *Snapshot) Len() int {
	n := 0
	for _, ps := range s.Partitions {
		n += len(ps.Entries)
	}
	return n
}

// RemovedLen returns the number of removed keys in s.
func (s *Snapshot) RemovedLen() int {
	n := 0
	for _, ps := range s.Partitions {
		n += len(ps.Removed)
	}
	return n
}

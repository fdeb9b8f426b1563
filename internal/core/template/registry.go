package template

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/infra/event"
	"github.com/yndnr/rxcheckpoint/pkg/cmap"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// fingerprintDomain separates shape hashes from any other murmur3 use.
const fingerprintDomain = "rx/template-shape/v1"

// Template is an interned expression shape.
type Template struct {
	ID          string
	Shape       *expr.Lambda
	Fingerprint string

	persisted atomic.Bool
}

// Persisted reports whether the template has been committed to a checkpoint.
func (t *Template) Persisted() bool { return t.persisted.Load() }

// MarkPersisted records that the template is part of a committed checkpoint.
func (t *Template) MarkPersisted() { t.persisted.Store(true) }

// Registry interns templates by shape.
type Registry struct {
	byID          *cmap.Map[string, *Template]
	byFingerprint *cmap.Map[string, []*Template]
	group         singleflight.Group

	// Created fires once per template added by Intern.
	Created event.List[*Template]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:          cmap.New[string, *Template](),
		byFingerprint: cmap.New[string, []*Template](),
	}
}

// Fingerprint hashes the canonical encoding of shape.
func Fingerprint(shape *expr.Lambda) (string, error) {
	data, err := expr.Marshal(shape)
	if err != nil {
		return "", err
	}
	h := murmur3.New128()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo), nil
}

// NewID returns a fresh template identifier.
func NewID() string {
	return domain.TemplateNamespace + strings.ToLower(ulid.Make().String())
}

// Get returns the template with the given identifier.
func (r *Registry) Get(id string) (*Template, bool) {
	return r.byID.Get(id)
}

// Len returns the number of templates.
func (r *Registry) Len() int {
	return r.byID.Count()
}

// All returns every template.
func (r *Registry) All() []*Template {
	return r.byID.Values()
}

// Intern returns the template for shape, creating it if no structurally
// equal shape is registered. Concurrent callers with equal shapes converge
// on the same template.
func (r *Registry) Intern(shape *expr.Lambda) (*Template, error) {
	fp, err := Fingerprint(shape)
	if err != nil {
		return nil, err
	}
	if t := r.lookup(fp, shape); t != nil {
		return t, nil
	}

	v, err, _ := r.group.Do(fp, func() (any, error) {
		return r.insert(fp, shape, NewID()), nil
	})
	if err != nil {
		return nil, err
	}
	t := v.(*Template)
	if !expr.Equal(t.Shape, shape) {
		// Fingerprint collision with a different shape in flight.
		t = r.insert(fp, shape, NewID())
	}
	return t, nil
}

// Restore registers a template read back from a checkpoint under its
// persisted identifier.
func (r *Registry) Restore(id string, shape *expr.Lambda) (*Template, error) {
	if !domain.IsTemplateID(id) {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%q is not a template id", id))
	}
	fp, err := Fingerprint(shape)
	if err != nil {
		return nil, err
	}
	t := &Template{ID: id, Shape: shape, Fingerprint: fp}
	t.MarkPersisted()
	if existing, loaded := r.byID.GetOrSet(id, t); loaded {
		if !expr.Equal(existing.Shape, shape) {
			return nil, domain.ErrEntityAlreadyExists.WithDetails(id)
		}
		return existing, nil
	}
	r.byFingerprint.Compute(fp, func(old []*Template, _ bool) ([]*Template, cmap.ComputeOp) {
		for _, o := range old {
			if expr.Equal(o.Shape, shape) {
				return old, cmap.Keep
			}
		}
		return append(old[:len(old):len(old)], t), cmap.Store
	})
	return t, nil
}

func (r *Registry) lookup(fp string, shape *expr.Lambda) *Template {
	list, ok := r.byFingerprint.Get(fp)
	if !ok {
		return nil
	}
	for _, t := range list {
		if expr.Equal(t.Shape, shape) {
			return t
		}
	}
	return nil
}

// insert adds a template for shape unless an equal one exists, under the
// fingerprint slot lock, and returns the winner.
func (r *Registry) insert(fp string, shape *expr.Lambda, id string) *Template {
	var (
		winner  *Template
		created bool
	)
	r.byFingerprint.Compute(fp, func(old []*Template, _ bool) ([]*Template, cmap.ComputeOp) {
		for _, t := range old {
			if expr.Equal(t.Shape, shape) {
				winner = t
				return old, cmap.Keep
			}
		}
		winner = &Template{ID: id, Shape: shape, Fingerprint: fp}
		created = true
		r.byID.Set(id, winner)
		return append(old[:len(old):len(old)], winner), cmap.Store
	})
	if created {
		r.Created.Emit(winner)
	}
	return winner
}

package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// Entity constraints.
const (
	MaxIDLength    = 2048
	MaxStateLength = 64 << 20
)

// Instance is a running artifact bound to an instance entity. The operator
// runtime that produces it lives outside this module.
type Instance interface {
	// SaveState returns the payload to persist for the instance.
	SaveState() ([]byte, error)

	// Dispose stops the instance.
	Dispose() error
}

// Entity is a definition or an instance registered with an engine.
//
// The variant is selected by Kind. Definitions are initialized on creation;
// instances become initialized once an Instance is bound. An invalid
// placeholder carries only ID, Kind and the error that prevented loading.
type Entity struct {
	ID        string
	Kind      Kind
	Expr      expr.Node
	CreatedAt time.Time

	mu       sync.Mutex
	state    []byte
	instance Instance
	dirty    bool
	loadErr  error
}

// NewDefinition creates an initialized definition entity.
func NewDefinition(id string, kind Kind, e expr.Node, state []byte) (*Entity, error) {
	if !kind.IsDefinition() {
		return nil, argError("kind", fmt.Sprintf("%s is not a definition kind", kind))
	}
	return newEntity(id, kind, e, state)
}

// NewInstance creates an instance entity that is not yet bound.
func NewInstance(id string, kind Kind, e expr.Node, state []byte) (*Entity, error) {
	if !kind.IsInstance() {
		return nil, argError("kind", fmt.Sprintf("%s is not an instance kind", kind))
	}
	return newEntity(id, kind, e, state)
}

// New creates an entity of any valid kind.
func New(id string, kind Kind, e expr.Node, state []byte) (*Entity, error) {
	if !kind.Valid() {
		return nil, argError("kind", fmt.Sprintf("invalid kind %s", kind))
	}
	return newEntity(id, kind, e, state)
}

// NewInvalid creates a placeholder for an entity that failed to load.
func NewInvalid(id string, kind Kind, cause error) *Entity {
	return &Entity{ID: id, Kind: kind, loadErr: cause, CreatedAt: time.Now()}
}

func newEntity(id string, kind Kind, e expr.Node, state []byte) (*Entity, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrMissingArgument.WithDetails("expression")
	}
	if len(state) > MaxStateLength {
		return nil, argError("state", fmt.Sprintf("state exceeds %d bytes", MaxStateLength))
	}
	return &Entity{
		ID:        id,
		Kind:      kind,
		Expr:      e,
		state:     bytes.Clone(state),
		dirty:     true,
		CreatedAt: time.Now(),
	}, nil
}

// ValidateID checks an entity identifier.
func ValidateID(id string) error {
	switch {
	case id == "":
		return ErrMissingArgument.WithDetails("id")
	case len(id) > MaxIDLength:
		return argError("id", fmt.Sprintf("longer than %d bytes", MaxIDLength))
	case !utf8.ValidString(id):
		return argError("id", "not valid UTF-8")
	case strings.IndexByte(id, 0) >= 0:
		return argError("id", "contains NUL")
	}
	return nil
}

func argError(param, details string) error {
	return &EntityError{Err: ErrInvalidArgument, Param: param, Cause: errors.New(details)}
}

// Initialized reports whether the entity is a definition or a bound instance.
func (e *Entity) Initialized() bool {
	if e.Kind.IsDefinition() {
		return !e.IsInvalid()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance != nil
}

// IsInvalid reports whether the entity is a failed-load placeholder.
func (e *Entity) IsInvalid() bool {
	return e.loadErr != nil
}

// LoadError returns the error recorded on an invalid placeholder.
func (e *Entity) LoadError() error {
	return e.loadErr
}

// Bind attaches a running instance. It fails if one is already bound or the
// entity is not an instance kind.
func (e *Entity) Bind(inst Instance) error {
	if !e.Kind.IsInstance() {
		return argError("kind", fmt.Sprintf("cannot bind an instance to a %s", e.Kind))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		return &EntityError{Err: ErrEntityAlreadyExists, ID: e.ID, Kind: e.Kind, Param: "instance"}
	}
	e.instance = inst
	return nil
}

// Unbind detaches and returns the bound instance, if any.
func (e *Entity) Unbind() Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst := e.instance
	e.instance = nil
	return inst
}

// Instance returns the bound instance or nil.
func (e *Entity) Instance() Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance
}

// State returns a copy of the last stored state payload.
func (e *Entity) State() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.Clone(e.state)
}

// SetState replaces the state payload and marks the entity dirty.
func (e *Entity) SetState(state []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = bytes.Clone(state)
	e.dirty = true
}

// CaptureState refreshes the state from the bound instance, if any, and
// returns it. The entity stays dirty when the capture changed the payload.
func (e *Entity) CaptureState() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		s, err := e.instance.SaveState()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(s, e.state) {
			e.state = bytes.Clone(s)
			e.dirty = true
		}
	}
	return bytes.Clone(e.state), nil
}

// Capture is CaptureState for a checkpoint: it also reports whether the
// entity was dirty and clears the flag in the same critical section. A
// failed save must call MarkDirty.
func (e *Entity) Capture() (state []byte, dirty bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		s, err := e.instance.SaveState()
		if err != nil {
			return nil, e.dirty, err
		}
		if !bytes.Equal(s, e.state) {
			e.state = bytes.Clone(s)
			e.dirty = true
		}
	}
	dirty = e.dirty
	e.dirty = false
	return bytes.Clone(e.state), dirty, nil
}

// Dirty reports whether the entity changed since MarkClean.
func (e *Entity) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// MarkClean clears the dirty flag.
func (e *Entity) MarkClean() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = false
}

// MarkDirty sets the dirty flag.
func (e *Entity) MarkDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
}

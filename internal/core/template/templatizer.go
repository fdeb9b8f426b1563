package template

import (
	"fmt"
	"strconv"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// Templatizer converts expressions to and from their templatized form.
type Templatizer struct {
	reg *Registry
}

// NewTemplatizer creates a templatizer backed by reg.
func NewTemplatizer(reg *Registry) *Templatizer {
	return &Templatizer{reg: reg}
}

// Registry returns the backing registry.
func (t *Templatizer) Registry() *Registry {
	return t.reg
}

// IsTemplatized reports whether e is already an invocation of a template.
func IsTemplatized(e expr.Node) bool {
	_, ok := templateRef(e)
	return ok
}

func templateRef(e expr.Node) (*expr.Invoke, bool) {
	inv, ok := e.(*expr.Invoke)
	if !ok {
		return nil, false
	}
	p, ok := inv.Func.(*expr.Parameter)
	if !ok || !domain.IsTemplateID(p.Name) {
		return nil, false
	}
	return inv, true
}

// Templatize hoists the constants of e into a shared template and returns
// the invocation of that template. Templatized input is returned unchanged.
func (t *Templatizer) Templatize(e expr.Node) (expr.Node, error) {
	if IsTemplatized(e) {
		return e, nil
	}
	shape, consts := Hoist(e)
	tmpl, err := t.reg.Intern(shape)
	if err != nil {
		return nil, fmt.Errorf("template: intern shape: %w", err)
	}
	args := make([]expr.Node, len(consts))
	for i, c := range consts {
		args[i] = c
	}
	return expr.Call(expr.Param(tmpl.ID, expr.TypeFunc), args...), nil
}

// Detemplatize reverses Templatize. Expressions that are not templatized
// are returned unchanged.
func (t *Templatizer) Detemplatize(e expr.Node) (expr.Node, error) {
	inv, ok := templateRef(e)
	if !ok {
		return e, nil
	}
	id := inv.Func.(*expr.Parameter).Name
	tmpl, ok := t.reg.Get(id)
	if !ok {
		return nil, domain.ErrTemplateMissing.WithDetails(id)
	}
	out, err := expr.Apply(tmpl.Shape, inv.Args)
	if err != nil {
		return nil, domain.ErrTemplateShapeMismatch.WithDetails(id).WithCause(err)
	}
	return out, nil
}

// Hoist replaces each constant in e, in pre-order, by a fresh parameter
// and returns the resulting shape with the hoisted constants.
func Hoist(e expr.Node) (*expr.Lambda, []*expr.Constant) {
	taken := make(map[string]bool)
	expr.Walk(e, func(n expr.Node) bool {
		if p, ok := n.(*expr.Parameter); ok {
			taken[p.Name] = true
		}
		return true
	})

	h := &hoister{taken: taken}
	body := h.rewrite(e)
	return &expr.Lambda{Params: h.params, Body: body}, h.consts
}

type hoister struct {
	taken  map[string]bool
	next   int
	params []*expr.Parameter
	consts []*expr.Constant
}

func (h *hoister) fresh() string {
	for {
		name := "$" + strconv.Itoa(h.next)
		h.next++
		if !h.taken[name] {
			return name
		}
	}
}

func (h *hoister) rewrite(n expr.Node) expr.Node {
	switch x := n.(type) {
	case *expr.Constant:
		p := expr.Param(h.fresh(), x.Type)
		h.params = append(h.params, p)
		h.consts = append(h.consts, x)
		return p
	case *expr.Lambda:
		return &expr.Lambda{Params: x.Params, Body: h.rewrite(x.Body)}
	case *expr.Invoke:
		fn := h.rewrite(x.Func)
		args := make([]expr.Node, len(x.Args))
		for i, a := range x.Args {
			args[i] = h.rewrite(a)
		}
		return &expr.Invoke{Func: fn, Args: args}
	default:
		return n
	}
}

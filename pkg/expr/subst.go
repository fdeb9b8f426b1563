package expr

import (
	"errors"
	"fmt"
)

// ErrArity is returned by Apply when the argument count does not match.
var ErrArity = errors.New("expr: argument count mismatch")

// ErrArgType is returned by Apply when an argument is not assignable to
// the parameter it binds.
var ErrArgType = errors.New("expr: argument type mismatch")

// Substitute replaces free occurrences of the named parameters. Parameters
// rebound by an inner Lambda shadow the outer binding. Nodes that are not
// rewritten are shared with the input. Replacement nodes are inserted as is,
// so they should not contain free parameters that an inner Lambda binds.
func Substitute(n Node, bindings map[string]Node) Node {
	if len(bindings) == 0 {
		return n
	}
	switch x := n.(type) {
	case *Parameter:
		if r, ok := bindings[x.Name]; ok {
			return r
		}
		return x
	case *Lambda:
		inner, copied := bindings, false
		for _, p := range x.Params {
			if _, ok := inner[p.Name]; ok {
				if !copied {
					inner, copied = copyMap(bindings), true
				}
				delete(inner, p.Name)
			}
		}
		body := Substitute(x.Body, inner)
		if body == x.Body {
			return x
		}
		return &Lambda{Params: x.Params, Body: body}
	case *Invoke:
		fn := Substitute(x.Func, bindings)
		changed := fn != x.Func
		args := make([]Node, len(x.Args))
		for i, a := range x.Args {
			args[i] = Substitute(a, bindings)
			changed = changed || args[i] != a
		}
		if !changed {
			return x
		}
		return &Invoke{Func: fn, Args: args}
	default:
		return n
	}
}

func copyMap(m map[string]Node) map[string]Node {
	c := make(map[string]Node, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// TypeOf returns the static type of n where it is known: the tag of a
// constant or parameter, TypeFunc for a lambda and TypeAny otherwise.
func TypeOf(n Node) Type {
	switch x := n.(type) {
	case *Constant:
		return x.Type
	case *Parameter:
		return x.Type
	case *Lambda:
		return TypeFunc
	default:
		return TypeAny
	}
}

// Apply beta-reduces fn applied to args.
func Apply(fn *Lambda, args []Node) (Node, error) {
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArity, len(fn.Params), len(args))
	}
	bindings := make(map[string]Node, len(args))
	for i, p := range fn.Params {
		if !p.Type.Assignable(TypeOf(args[i])) {
			return nil, fmt.Errorf("%w: parameter %s is %s, argument is %s",
				ErrArgType, p.Name, p.Type, TypeOf(args[i]))
		}
		bindings[p.Name] = args[i]
	}
	return Substitute(fn.Body, bindings), nil
}

// FreeParameters returns the parameters of n not bound by an enclosing
// Lambda, in first-occurrence order and without duplicates.
func FreeParameters(n Node) []*Parameter {
	var out []*Parameter
	seen := make(map[string]bool)
	var visit func(n Node, bound map[string]int)
	visit = func(n Node, bound map[string]int) {
		switch x := n.(type) {
		case *Parameter:
			if bound[x.Name] == 0 && !seen[x.Name] {
				seen[x.Name] = true
				out = append(out, x)
			}
		case *Lambda:
			for _, p := range x.Params {
				bound[p.Name]++
			}
			visit(x.Body, bound)
			for _, p := range x.Params {
				bound[p.Name]--
			}
		case *Invoke:
			visit(x.Func, bound)
			for _, a := range x.Args {
				visit(a, bound)
			}
		}
	}
	visit(n, make(map[string]int))
	return out
}

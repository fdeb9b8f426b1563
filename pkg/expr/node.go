package expr

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NodeKind identifies the node variant.
type NodeKind uint8

const (
	KindConstant  NodeKind = 1
	KindParameter NodeKind = 2
	KindLambda    NodeKind = 3
	KindInvoke    NodeKind = 4
)

// Type is the static type tag carried by constants and parameters.
type Type uint8

const (
	TypeAny Type = iota
	TypeNull
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeBytes
	TypeFunc
)

var typeNames = map[Type]string{
	TypeAny:    "any",
	TypeNull:   "null",
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeString: "string",
	TypeBytes:  "bytes",
	TypeFunc:   "func",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("expr: unknown type %q", s)
}

// Assignable reports whether a value of type from can bind to t.
func (t Type) Assignable(from Type) bool {
	return t == TypeAny || t == from
}

// Node is an expression tree node.
type Node interface {
	Kind() NodeKind
	String() string
	node()
}

// Constant is a literal value.
type Constant struct {
	Type  Type
	Value any // nil, bool, int64, float64, string or []byte
}

// Parameter is a named hole, either bound by an enclosing Lambda or free.
type Parameter struct {
	Name string
	Type Type
}

// Lambda is a function abstraction.
type Lambda struct {
	Params []*Parameter
	Body   Node
}

// Invoke applies Func to Args.
type Invoke struct {
	Func Node
	Args []Node
}

func (*Constant) Kind() NodeKind  { return KindConstant }
func (*Parameter) Kind() NodeKind { return KindParameter }
func (*Lambda) Kind() NodeKind    { return KindLambda }
func (*Invoke) Kind() NodeKind    { return KindInvoke }

func (*Constant) node()  {}
func (*Parameter) node() {}
func (*Lambda) node()    {}
func (*Invoke) node()    {}

// NewConstant wraps a Go value in a Constant, inferring its type.
func NewConstant(v any) (*Constant, error) {
	switch x := v.(type) {
	case nil:
		return &Constant{Type: TypeNull}, nil
	case bool:
		return &Constant{Type: TypeBool, Value: x}, nil
	case int:
		return &Constant{Type: TypeInt, Value: int64(x)}, nil
	case int32:
		return &Constant{Type: TypeInt, Value: int64(x)}, nil
	case int64:
		return &Constant{Type: TypeInt, Value: x}, nil
	case float64:
		return &Constant{Type: TypeFloat, Value: x}, nil
	case string:
		return &Constant{Type: TypeString, Value: x}, nil
	case []byte:
		return &Constant{Type: TypeBytes, Value: bytes.Clone(x)}, nil
	default:
		return nil, fmt.Errorf("expr: unsupported constant type %T", v)
	}
}

// Const is NewConstant for values known to be supported. It panics otherwise.
func Const(v any) *Constant {
	c, err := NewConstant(v)
	if err != nil {
		panic(err)
	}
	return c
}

// Param returns a parameter node.
func Param(name string, t Type) *Parameter {
	return &Parameter{Name: name, Type: t}
}

// Fn returns a lambda node.
func Fn(body Node, params ...*Parameter) *Lambda {
	return &Lambda{Params: params, Body: body}
}

// Call returns an invocation node.
func Call(fn Node, args ...Node) *Invoke {
	return &Invoke{Func: fn, Args: args}
}

func (c *Constant) String() string {
	switch c.Type {
	case TypeNull:
		return "null"
	case TypeBool:
		return strconv.FormatBool(c.Value.(bool))
	case TypeInt:
		return strconv.FormatInt(c.Value.(int64), 10)
	case TypeFloat:
		return strconv.FormatFloat(c.Value.(float64), 'g', -1, 64)
	case TypeString:
		return strconv.Quote(c.Value.(string))
	case TypeBytes:
		return fmt.Sprintf("0x%x", c.Value.([]byte))
	default:
		return fmt.Sprintf("%v", c.Value)
	}
}

func (p *Parameter) String() string { return p.Name }

func (l *Lambda) String() string {
	names := make([]string, len(l.Params))
	for i, p := range l.Params {
		names[i] = p.Name
	}
	return "(" + strings.Join(names, ", ") + ") => " + l.Body.String()
}

func (i *Invoke) String() string {
	args := make([]string, len(i.Args))
	for j, a := range i.Args {
		args[j] = a.String()
	}
	return i.Func.String() + "(" + strings.Join(args, ", ") + ")"
}

// Equal reports whether a and b are structurally identical. Float constants
// compare by bit pattern so that NaN equals itself.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Constant:
		y, ok := b.(*Constant)
		return ok && constEqual(x, y)
	case *Parameter:
		y, ok := b.(*Parameter)
		return ok && x.Name == y.Name && x.Type == y.Type
	case *Lambda:
		y, ok := b.(*Lambda)
		if !ok || len(x.Params) != len(y.Params) {
			return false
		}
		for i := range x.Params {
			if !Equal(x.Params[i], y.Params[i]) {
				return false
			}
		}
		return Equal(x.Body, y.Body)
	case *Invoke:
		y, ok := b.(*Invoke)
		if !ok || len(x.Args) != len(y.Args) || !Equal(x.Func, y.Func) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func constEqual(x, y *Constant) bool {
	if x.Type != y.Type {
		return false
	}
	switch x.Type {
	case TypeNull:
		return true
	case TypeFloat:
		return math.Float64bits(x.Value.(float64)) == math.Float64bits(y.Value.(float64))
	case TypeBytes:
		return bytes.Equal(x.Value.([]byte), y.Value.([]byte))
	default:
		return x.Value == y.Value
	}
}

// Walk visits n in pre-order. Children of a node are skipped when fn
// returns false for it, as with ast.Inspect.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch x := n.(type) {
	case *Lambda:
		for _, p := range x.Params {
			Walk(p, fn)
		}
		Walk(x.Body, fn)
	case *Invoke:
		Walk(x.Func, fn)
		for _, a := range x.Args {
			Walk(a, fn)
		}
	}
}

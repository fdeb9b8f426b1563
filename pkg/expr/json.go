package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

type jsonNode struct {
	Op     string          `json:"op"`
	Type   string          `json:"type,omitempty"`
	Name   string          `json:"name,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Params []jsonParam     `json:"params,omitempty"`
	Body   *jsonNode       `json:"body,omitempty"`
	Func   *jsonNode       `json:"func,omitempty"`
	Args   []*jsonNode     `json:"args,omitempty"`
}

type jsonParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ToJSON encodes n in the JSON form used by the admin API.
// Integers are written as strings to survive float64 decoders.
func ToJSON(n Node) ([]byte, error) {
	j, err := toJSONNode(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// FromJSON decodes the form produced by ToJSON.
func FromJSON(data []byte) (Node, error) {
	var j jsonNode
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("expr: decode json: %w", err)
	}
	return fromJSONNode(&j, 0)
}

func toJSONNode(n Node) (*jsonNode, error) {
	switch x := n.(type) {
	case *Constant:
		j := &jsonNode{Op: "const", Type: x.Type.String()}
		var v any
		switch x.Type {
		case TypeNull:
			return j, nil
		case TypeInt:
			v = strconv.FormatInt(x.Value.(int64), 10)
		default:
			v = x.Value
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("expr: encode constant: %w", err)
		}
		j.Value = raw
		return j, nil
	case *Parameter:
		return &jsonNode{Op: "param", Name: x.Name, Type: x.Type.String()}, nil
	case *Lambda:
		body, err := toJSONNode(x.Body)
		if err != nil {
			return nil, err
		}
		params := make([]jsonParam, len(x.Params))
		for i, p := range x.Params {
			params[i] = jsonParam{Name: p.Name, Type: p.Type.String()}
		}
		return &jsonNode{Op: "lambda", Params: params, Body: body}, nil
	case *Invoke:
		fn, err := toJSONNode(x.Func)
		if err != nil {
			return nil, err
		}
		args := make([]*jsonNode, len(x.Args))
		for i, a := range x.Args {
			if args[i], err = toJSONNode(a); err != nil {
				return nil, err
			}
		}
		return &jsonNode{Op: "invoke", Func: fn, Args: args}, nil
	default:
		return nil, fmt.Errorf("expr: unknown node %T", n)
	}
}

func fromJSONNode(j *jsonNode, depth int) (Node, error) {
	if j == nil {
		return nil, errors.New("expr: missing node")
	}
	if depth > MaxDepth {
		return nil, fmt.Errorf("expr: nesting deeper than %d", MaxDepth)
	}
	switch j.Op {
	case "const":
		return constFromJSON(j)
	case "param":
		t, err := ParseType(j.Type)
		if err != nil {
			return nil, err
		}
		return &Parameter{Name: j.Name, Type: t}, nil
	case "lambda":
		params := make([]*Parameter, len(j.Params))
		for i, p := range j.Params {
			t, err := ParseType(p.Type)
			if err != nil {
				return nil, err
			}
			params[i] = &Parameter{Name: p.Name, Type: t}
		}
		body, err := fromJSONNode(j.Body, depth+1)
		if err != nil {
			return nil, err
		}
		return &Lambda{Params: params, Body: body}, nil
	case "invoke":
		fn, err := fromJSONNode(j.Func, depth+1)
		if err != nil {
			return nil, err
		}
		args := make([]Node, len(j.Args))
		for i, a := range j.Args {
			if args[i], err = fromJSONNode(a, depth+1); err != nil {
				return nil, err
			}
		}
		return &Invoke{Func: fn, Args: args}, nil
	default:
		return nil, fmt.Errorf("expr: unknown op %q", j.Op)
	}
}

func constFromJSON(j *jsonNode) (*Constant, error) {
	t, err := ParseType(j.Type)
	if err != nil {
		return nil, err
	}
	c := &Constant{Type: t}
	switch t {
	case TypeNull:
		return c, nil
	case TypeBool:
		c.Value, err = decodeValue[bool](j.Value)
	case TypeInt:
		var s string
		if s, err = decodeValue[string](j.Value); err == nil {
			c.Value, err = strconv.ParseInt(s, 10, 64)
		}
	case TypeFloat:
		c.Value, err = decodeValue[float64](j.Value)
	case TypeString:
		c.Value, err = decodeValue[string](j.Value)
	case TypeBytes:
		var b []byte
		if b, err = decodeValue[[]byte](j.Value); err == nil {
			if b == nil {
				b = []byte{}
			}
			c.Value = b
		}
	default:
		return nil, fmt.Errorf("expr: constant of type %s", t)
	}
	if err != nil {
		return nil, fmt.Errorf("expr: %s constant: %w", t, err)
	}
	return c, nil
}

func decodeValue[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("missing value")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

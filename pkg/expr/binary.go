package expr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxDepth bounds the nesting accepted by Unmarshal.
const MaxDepth = 256

var (
	// ErrMalformed is returned by Unmarshal for input that is not a valid
	// binary expression.
	ErrMalformed = errors.New("expr: malformed binary expression")
)

// Marshal returns the canonical binary form of n. Structurally equal trees
// always produce identical bytes.
func Marshal(n Node) ([]byte, error) {
	return Append(nil, n)
}

// Append appends the binary form of n to dst.
func Append(dst []byte, n Node) ([]byte, error) {
	switch x := n.(type) {
	case *Constant:
		dst = append(dst, byte(KindConstant))
		return appendConstant(dst, x)
	case *Parameter:
		dst = append(dst, byte(KindParameter))
		return appendParam(dst, x), nil
	case *Lambda:
		dst = append(dst, byte(KindLambda))
		dst = binary.AppendUvarint(dst, uint64(len(x.Params)))
		for _, p := range x.Params {
			dst = appendParam(dst, p)
		}
		return Append(dst, x.Body)
	case *Invoke:
		dst = append(dst, byte(KindInvoke))
		var err error
		if dst, err = Append(dst, x.Func); err != nil {
			return nil, err
		}
		dst = binary.AppendUvarint(dst, uint64(len(x.Args)))
		for _, a := range x.Args {
			if dst, err = Append(dst, a); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case nil:
		return nil, errors.New("expr: cannot marshal nil node")
	default:
		return nil, fmt.Errorf("expr: unknown node %T", n)
	}
}

func appendParam(dst []byte, p *Parameter) []byte {
	dst = append(dst, byte(p.Type))
	return appendString(dst, p.Name)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func appendConstant(dst []byte, c *Constant) ([]byte, error) {
	dst = append(dst, byte(c.Type))
	switch c.Type {
	case TypeNull:
		return dst, nil
	case TypeBool:
		if c.Value.(bool) {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case TypeInt:
		return binary.AppendVarint(dst, c.Value.(int64)), nil
	case TypeFloat:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(c.Value.(float64))), nil
	case TypeString:
		return appendString(dst, c.Value.(string)), nil
	case TypeBytes:
		b := c.Value.([]byte)
		dst = binary.AppendUvarint(dst, uint64(len(b)))
		return append(dst, b...), nil
	default:
		return nil, fmt.Errorf("expr: constant of type %s is not serializable", c.Type)
	}
}

// Unmarshal decodes a single expression. Trailing bytes are an error.
func Unmarshal(data []byte) (Node, error) {
	r := bytes.NewReader(data)
	n, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return n, nil
}

// Decode reads one expression from r.
func Decode(r *bytes.Reader) (Node, error) {
	d := decoder{r: r}
	return d.node(0)
}

type decoder struct {
	r *bytes.Reader
}

func (d *decoder) node(depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, MaxDepth)
	}
	tag, err := d.r.ReadByte()
	if err != nil {
		return nil, d.eof(err)
	}
	switch NodeKind(tag) {
	case KindConstant:
		return d.constant()
	case KindParameter:
		return d.param()
	case KindLambda:
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		params := make([]*Parameter, 0, n)
		for i := 0; i < n; i++ {
			p, err := d.param()
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
		body, err := d.node(depth + 1)
		if err != nil {
			return nil, err
		}
		return &Lambda{Params: params, Body: body}, nil
	case KindInvoke:
		fn, err := d.node(depth + 1)
		if err != nil {
			return nil, err
		}
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		args := make([]Node, 0, n)
		for i := 0; i < n; i++ {
			a, err := d.node(depth + 1)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		return &Invoke{Func: fn, Args: args}, nil
	default:
		return nil, fmt.Errorf("%w: unknown node tag %d", ErrMalformed, tag)
	}
}

func (d *decoder) eof(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// count reads a uvarint that sizes a following sequence. Every element
// takes at least one byte, which bounds the value by what is left.
func (d *decoder) count() (int, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, d.eof(err)
	}
	if n > uint64(d.r.Len()) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformed, n, d.r.Len())
	}
	return int(n), nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := d.r.Read(b); err != nil && n > 0 {
		return nil, d.eof(err)
	}
	return b, nil
}

func (d *decoder) param() (*Parameter, error) {
	t, err := d.r.ReadByte()
	if err != nil {
		return nil, d.eof(err)
	}
	if Type(t) > TypeFunc {
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrMalformed, t)
	}
	name, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &Parameter{Name: string(name), Type: Type(t)}, nil
}

func (d *decoder) constant() (*Constant, error) {
	t, err := d.r.ReadByte()
	if err != nil {
		return nil, d.eof(err)
	}
	c := &Constant{Type: Type(t)}
	switch c.Type {
	case TypeNull:
	case TypeBool:
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, d.eof(err)
		}
		if b > 1 {
			return nil, fmt.Errorf("%w: invalid bool %d", ErrMalformed, b)
		}
		c.Value = b == 1
	case TypeInt:
		v, err := binary.ReadVarint(d.r)
		if err != nil {
			return nil, d.eof(err)
		}
		c.Value = v
	case TypeFloat:
		var buf [8]byte
		if n, _ := d.r.Read(buf[:]); n != 8 {
			return nil, fmt.Errorf("%w: short float", ErrMalformed)
		}
		c.Value = math.Float64frombits(binary.BigEndian.Uint64(buf[:]))
	case TypeString:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		c.Value = string(b)
	case TypeBytes:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		c.Value = b
	default:
		return nil, fmt.Errorf("%w: constant type tag %d", ErrMalformed, t)
	}
	return c, nil
}

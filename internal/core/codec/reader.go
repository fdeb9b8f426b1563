package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// Record is one decoded entity record.
type Record struct {
	ID    string
	Kind  domain.Kind
	Expr  expr.Node
	State []byte
}

// Entity builds a domain entity from the record.
func (r *Record) Entity() (*domain.Entity, error) {
	return domain.New(r.ID, r.Kind, r.Expr, r.State)
}

// Reader decodes entity records.
type Reader struct {
	r       *bufio.Reader
	opts    Options
	version Version
	started bool
	done    bool
}

// NewReader returns a Reader. The header is validated on the first read.
func NewReader(r io.Reader, opts Options) *Reader {
	return &Reader{r: bufio.NewReader(r), opts: opts}
}

func corrupt(format string, args ...any) error {
	return domain.ErrCorruptFormat.WithDetails(fmt.Sprintf(format, args...))
}

func corruptIO(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return domain.ErrCorruptFormat.WithDetails("truncated stream").WithCause(err)
}

// Version returns the stream version, reading the header if needed.
func (r *Reader) Version() (Version, error) {
	if err := r.header(); err != nil {
		return Version{}, err
	}
	return r.version, nil
}

func (r *Reader) header() error {
	if r.started {
		return nil
	}
	var h [headerLen]byte
	if _, err := io.ReadFull(r.r, h[:]); err != nil {
		return corruptIO(err)
	}
	if h[0] != signature[0] || h[1] != signature[1] {
		return corrupt("bad signature %#x", h[:2])
	}
	var v Version
	for i := range v {
		v[i] = binary.BigEndian.Uint16(h[2+2*i:])
	}
	if !v.Supported() {
		return corrupt("unsupported version %s", v)
	}
	r.version = v
	r.started = true
	return nil
}

// ReadEntity reads the next record, which must be of the expected kind.
// At the footer it returns io.EOF.
func (r *Reader) ReadEntity(expected domain.Kind) (*Record, error) {
	if !expected.Valid() {
		return nil, domain.ErrInvalidArgument.WithDetails("expected kind " + expected.String())
	}
	if r.done {
		return nil, io.EOF
	}
	if err := r.header(); err != nil {
		return nil, err
	}

	tag, err := r.r.ReadByte()
	if err != nil {
		return nil, corruptIO(err)
	}
	if tag == footer[0] {
		if err := r.footer(); err != nil {
			return nil, err
		}
		r.done = true
		return nil, io.EOF
	}
	kind := domain.Kind(tag)
	if kind != expected {
		return nil, corrupt("record kind %s, expected %s", kind, expected)
	}

	id, err := r.blob(maxIDLen)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(id) {
		return nil, corrupt("identifier is not valid UTF-8")
	}
	exprBytes, err := r.blob(maxExprLen)
	if err != nil {
		return nil, err
	}
	state, err := r.blob(maxStateLen)
	if err != nil {
		return nil, err
	}

	node, err := r.decodeExpr(exprBytes)
	if err != nil {
		return nil, err
	}
	return &Record{ID: string(id), Kind: kind, Expr: node, State: state}, nil
}

// footer consumes the rest of the footer after its first byte.
func (r *Reader) footer() error {
	var rest [3]byte
	if _, err := io.ReadFull(r.r, rest[:]); err != nil {
		return corruptIO(err)
	}
	if !bytes.Equal(rest[:], footer[1:]) {
		return corrupt("bad footer")
	}
	if _, err := r.r.ReadByte(); err != io.EOF {
		return corrupt("data after footer")
	}
	return nil
}

func (r *Reader) blob(limit int) ([]byte, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, corruptIO(err)
	}
	if n > uint64(limit) {
		return nil, corrupt("length %d exceeds limit %d", n, limit)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, corruptIO(err)
	}
	return b, nil
}

func (r *Reader) decodeExpr(data []byte) (expr.Node, error) {
	if r.version == V1Raw {
		n, err := expr.Unmarshal(data)
		if err != nil {
			return nil, domain.ErrCorruptFormat.WithCause(err)
		}
		return n, nil
	}

	if len(data) == 0 {
		return nil, corrupt("empty expression")
	}
	switch data[0] {
	case modeRaw:
		n, err := expr.Unmarshal(data[1:])
		if err != nil {
			return nil, domain.ErrCorruptFormat.WithCause(err)
		}
		return n, nil
	case modeTemplated:
		return r.decodeTemplated(data[1:])
	default:
		return nil, corrupt("unknown expression mode %d", data[0])
	}
}

func (r *Reader) decodeTemplated(data []byte) (expr.Node, error) {
	br := bytes.NewReader(data)
	idLen, err := binary.ReadUvarint(br)
	if err != nil || idLen > uint64(br.Len()) {
		return nil, corrupt("bad template id")
	}
	id := make([]byte, idLen)
	_, _ = io.ReadFull(br, id)
	if !domain.IsTemplateID(string(id)) {
		return nil, corrupt("template id %q outside namespace", id)
	}

	argc, err := binary.ReadUvarint(br)
	if err != nil || argc > uint64(br.Len()) {
		return nil, corrupt("bad template argument count")
	}
	args := make([]expr.Node, 0, argc)
	for i := uint64(0); i < argc; i++ {
		a, err := expr.Decode(br)
		if err != nil {
			return nil, domain.ErrCorruptFormat.WithCause(err)
		}
		if _, ok := a.(*expr.Constant); !ok {
			return nil, corrupt("template argument %d is not a constant", i)
		}
		args = append(args, a)
	}
	if br.Len() != 0 {
		return nil, corrupt("%d trailing bytes in templated expression", br.Len())
	}

	inv := expr.Call(expr.Param(string(id), expr.TypeFunc), args...)
	if r.opts.Templatizer == nil {
		return nil, domain.ErrTemplateMissing.WithDetails(string(id) + ": no template registry")
	}
	return r.opts.Templatizer.Detemplatize(inv)
}

// Encode writes a single entity as a complete stream.
func Encode(e *domain.Entity, state []byte, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts)
	if err != nil {
		return nil, err
	}
	if err := w.WriteEntity(e, state); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a stream holding exactly one record of the expected kind.
func Decode(data []byte, expected domain.Kind, opts Options) (*Record, error) {
	return DecodeFrom(bytes.NewReader(data), expected, opts)
}

// DecodeFrom is Decode over a reader.
func DecodeFrom(src io.Reader, expected domain.Kind, opts Options) (*Record, error) {
	r := NewReader(src, opts)
	rec, err := r.ReadEntity(expected)
	if err == io.EOF {
		return nil, corrupt("stream holds no record")
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadEntity(expected); err != io.EOF {
		if err == nil {
			return nil, corrupt("stream holds more than one record")
		}
		return nil, err
	}
	return rec, nil
}

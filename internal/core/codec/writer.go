package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/core/template"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("codec: writer closed")

// Options configures a Writer or Reader.
type Options struct {
	// Version to write. Zero means Current.
	Version Version

	// Templatizer enables templatized expressions when writing, and is
	// required to read them back. Nil writes raw expressions.
	Templatizer *template.Templatizer
}

// Writer encodes entity records to an underlying stream.
type Writer struct {
	w       *bufio.Writer
	opts    Options
	started bool
	closed  bool
	buf     []byte
}

// NewWriter returns a Writer. The header is written with the first record
// or on Close.
func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	if opts.Version == (Version{}) {
		opts.Version = Current
	}
	if !opts.Version.Supported() {
		return nil, domain.ErrInvalidArgument.WithDetails("unsupported version " + opts.Version.String())
	}
	if opts.Version == V1Raw {
		opts.Templatizer = nil
	}
	return &Writer{w: bufio.NewWriter(w), opts: opts}, nil
}

func (w *Writer) header() error {
	if w.started {
		return nil
	}
	w.started = true
	var h [headerLen]byte
	copy(h[:2], signature[:])
	for i, part := range w.opts.Version {
		binary.BigEndian.PutUint16(h[2+2*i:], part)
	}
	_, err := w.w.Write(h[:])
	return err
}

// WriteEntity writes one record for e with the given state payload.
func (w *Writer) WriteEntity(e *domain.Entity, state []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if !e.Kind.Valid() {
		return domain.ErrInvalidArgument.WithDetails("entity kind " + e.Kind.String())
	}
	if e.Expr == nil {
		return domain.ErrMissingArgument.WithDetails("expression of " + e.ID)
	}
	if err := w.header(); err != nil {
		return err
	}

	exprBytes, err := w.encodeExpr(e)
	if err != nil {
		return err
	}

	b := w.buf[:0]
	b = append(b, byte(e.Kind))
	b = appendBlob(b, []byte(e.ID))
	b = appendBlob(b, exprBytes)
	b = appendBlob(b, state)
	w.buf = b
	_, err = w.w.Write(b)
	return err
}

func (w *Writer) encodeExpr(e *domain.Entity) ([]byte, error) {
	if w.opts.Version == V1Raw {
		return expr.Marshal(e.Expr)
	}

	node := e.Expr
	if w.opts.Templatizer != nil && !domain.IsTemplateID(e.ID) {
		t, err := w.opts.Templatizer.Templatize(node)
		if err != nil {
			return nil, fmt.Errorf("codec: templatize %s: %w", e.ID, err)
		}
		node = t
	}

	inv, ok := node.(*expr.Invoke)
	if !ok || !template.IsTemplatized(inv) {
		raw, err := expr.Marshal(node)
		if err != nil {
			return nil, err
		}
		return append([]byte{modeRaw}, raw...), nil
	}

	out := []byte{modeTemplated}
	out = appendBlob(out, []byte(inv.Func.(*expr.Parameter).Name))
	out = binary.AppendUvarint(out, uint64(len(inv.Args)))
	for _, a := range inv.Args {
		var err error
		if out, err = expr.Append(out, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close writes the footer and flushes. It does not close the underlying
// stream.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.header(); err != nil {
		return err
	}
	w.closed = true
	if _, err := w.w.Write(footer[:]); err != nil {
		return err
	}
	return w.w.Flush()
}

func appendBlob(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

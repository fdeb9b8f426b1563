package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/core/template"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

func sampleExpr(n int64) expr.Node {
	x := expr.Param("x", expr.TypeInt)
	return expr.Call(expr.Param("rx://operators/where", expr.TypeFunc),
		expr.Param("rx://observables/ticks", expr.TypeAny),
		expr.Fn(expr.Call(expr.Param("rx://operators/gt", expr.TypeFunc), x, expr.Const(n)), x),
	)
}

func entityOf(t *testing.T, id string, kind domain.Kind, state []byte) *domain.Entity {
	t.Helper()
	e, err := domain.New(id, kind, sampleExpr(int64(len(id))), state)
	require.NoError(t, err)
	return e
}

var allKinds = []domain.Kind{
	domain.KindObservable,
	domain.KindObserver,
	domain.KindStreamFactory,
	domain.KindOther,
	domain.KindSubscription,
	domain.KindReliableSubscription,
	domain.KindStream,
}

func TestRoundTripAllKinds(t *testing.T) {
	modes := map[string]func() Options{
		"raw v1.0":  func() Options { return Options{Version: V1Raw} },
		"raw v1.1":  func() Options { return Options{} },
		"templated": func() Options { return Options{Templatizer: template.NewTemplatizer(template.NewRegistry())} },
	}

	for name, mk := range modes {
		for _, kind := range allKinds {
			t.Run(name+"/"+kind.String(), func(t *testing.T) {
				opts := mk()
				e := entityOf(t, "rx://entities/"+kind.String(), kind, []byte{1, 2, 3, 0})

				data, err := Encode(e, e.State(), opts)
				require.NoError(t, err)

				rec, err := Decode(data, kind, opts)
				require.NoError(t, err)
				assert.Equal(t, e.ID, rec.ID)
				assert.Equal(t, kind, rec.Kind)
				assert.Equal(t, e.State(), rec.State)
				assert.True(t, expr.Equal(e.Expr, rec.Expr), "expr %s != %s", rec.Expr, e.Expr)
			})
		}
	}
}

func TestRoundTripEmptyState(t *testing.T) {
	e := entityOf(t, "rx://subs/empty", domain.KindSubscription, nil)
	data, err := Encode(e, nil, Options{})
	require.NoError(t, err)
	rec, err := Decode(data, domain.KindSubscription, Options{})
	require.NoError(t, err)
	assert.Empty(t, rec.State)
}

func TestMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{})
	require.NoError(t, err)
	for _, id := range []string{"rx://a", "rx://b", "rx://c"} {
		require.NoError(t, w.WriteEntity(entityOf(t, id, domain.KindStream, []byte(id)), []byte(id)))
	}
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteEntity(entityOf(t, "rx://d", domain.KindStream, nil), nil), ErrWriterClosed)

	r := NewReader(&buf, Options{})
	var ids []string
	for {
		rec, err := r.ReadEntity(domain.KindStream)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"rx://a", "rx://b", "rx://c"}, ids)
	_, err = r.ReadEntity(domain.KindStream)
	assert.Equal(t, io.EOF, err)

	v, err := r.Version()
	require.NoError(t, err)
	assert.Equal(t, Current, v)
}

func TestTemplatizedSmaller(t *testing.T) {
	tz := template.NewTemplatizer(template.NewRegistry())
	e := entityOf(t, "rx://subs/1", domain.KindSubscription, nil)

	raw, err := Encode(e, nil, Options{})
	require.NoError(t, err)
	tpl, err := Encode(e, nil, Options{Templatizer: tz})
	require.NoError(t, err)
	assert.Less(t, len(tpl), len(raw))
}

func TestTemplateMissingIsOperational(t *testing.T) {
	tz := template.NewTemplatizer(template.NewRegistry())
	e := entityOf(t, "rx://subs/1", domain.KindSubscription, nil)
	data, err := Encode(e, nil, Options{Templatizer: tz})
	require.NoError(t, err)

	_, err = Decode(data, domain.KindSubscription, Options{Templatizer: template.NewTemplatizer(template.NewRegistry())})
	assert.ErrorIs(t, err, domain.ErrTemplateMissing)
	assert.False(t, errors.Is(err, domain.ErrCorruptFormat))

	_, err = Decode(data, domain.KindSubscription, Options{})
	assert.ErrorIs(t, err, domain.ErrTemplateMissing)
}

func TestDecodeCorrupt(t *testing.T) {
	e := entityOf(t, "rx://subs/1", domain.KindSubscription, []byte("state"))
	good, err := Encode(e, e.State(), Options{})
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	tests := map[string][]byte{
		"empty":           {},
		"bad signature":   mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"unknown version": mutate(func(b []byte) []byte { b[3] = 9; return b }),
		"partial version": mutate(func(b []byte) []byte { b[9] = 1; return b }),
		"truncated":       good[:len(good)-6],
		"no footer":       good[:len(good)-4],
		"bad footer":      mutate(func(b []byte) []byte { b[len(b)-1] = 0; return b }),
		"trailing data":   append(append([]byte(nil), good...), 0),
		"wrong kind":      mutate(func(b []byte) []byte { b[headerLen] = byte(domain.KindStream); return b }),
		"bad expr mode":   corruptExprMode(t),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data, domain.KindSubscription, Options{})
			assert.ErrorIs(t, err, domain.ErrCorruptFormat)
		})
	}
}

func corruptExprMode(t *testing.T) []byte {
	e := entityOf(t, "rx://s", domain.KindSubscription, nil)
	data, err := Encode(e, nil, Options{})
	require.NoError(t, err)
	// header, kind, id len, id, expr len, then the mode byte
	off := headerLen + 1 + 1 + len("rx://s") + 1
	data[off] = 7
	return data
}

func TestDecodeRequiresKind(t *testing.T) {
	_, err := Decode(nil, domain.KindUnknown, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestNewWriterRejectsUnknownVersion(t *testing.T) {
	_, err := NewWriter(io.Discard, Options{Version: Version{2, 0, 0, 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

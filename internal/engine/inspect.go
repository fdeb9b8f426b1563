package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/yndnr/rxcheckpoint/internal/core/codec"
	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/core/template"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// ItemReport describes one stored record.
type ItemReport struct {
	Category string `json:"category" yaml:"category"`
	ID       string `json:"id" yaml:"id"`
	Kind     string `json:"kind" yaml:"kind"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Bytes    int    `json:"bytes" yaml:"bytes"`
	State    int    `json:"state_bytes" yaml:"state_bytes"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the result of Inspect.
type Report struct {
	Info      storage.Info `json:"info" yaml:"info"`
	Items     []ItemReport `json:"items" yaml:"items"`
	Templates int          `json:"templates" yaml:"templates"`
	Failed    int          `json:"failed" yaml:"failed"`
}

// OK reports whether every record decoded.
func (r *Report) OK() bool { return r.Failed == 0 }

// InspectProgress is called after each record with the running count and
// the total.
type InspectProgress func(done, total int)

// Inspect decodes every record of the committed checkpoint id without
// starting instances or touching an engine. Unlike recovery it does not
// stop at the first corrupt record; each failure is recorded on its item.
// ok is false when nothing was committed for id.
func Inspect(ctx context.Context, store storage.Store, id string, progress InspectProgress) (rep *Report, ok bool, err error) {
	rd, ok, err := store.TryReadCurrent(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer rd.Close()

	total := 0
	for _, c := range rd.Categories() {
		total += len(rd.Keys(c))
	}

	tz := template.NewTemplatizer(template.NewRegistry())
	opts := codec.Options{Templatizer: tz}
	rep = &Report{Info: rd.Info(), Items: make([]ItemReport, 0, total)}

	// Templates first so templated expressions resolve.
	order := domain.Categories()
	for _, c := range rd.Categories() {
		if _, known := domain.CategoryKind(c); !known {
			order = append(order, c)
		}
	}
	for _, category := range order {
		for _, key := range rd.Keys(category) {
			if err := ctx.Err(); err != nil {
				return nil, true, err
			}
			item := inspectItem(rd, category, key, opts)
			if item.Error == "" && category == domain.CategoryTemplates {
				item.Error = restoreTemplate(rd, key, tz, opts)
				if item.Error == "" {
					rep.Templates++
				}
			}
			if item.Error != "" {
				rep.Failed++
			}
			rep.Items = append(rep.Items, item)
			if progress != nil {
				progress(len(rep.Items), total)
			}
		}
	}
	return rep, true, nil
}

func inspectItem(rd storage.StateReader, category, key string, opts codec.Options) ItemReport {
	item := ItemReport{Category: category, ID: key}
	kind, known := domain.CategoryKind(category)
	if !known {
		item.Error = "unknown category"
		return item
	}
	item.Kind = kind.String()

	data, err := readItem(rd, category, key)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.Bytes = len(data)

	if v, err := codec.NewReader(bytes.NewReader(data), opts).Version(); err == nil {
		item.Version = v.String()
	}
	rec, err := codec.Decode(data, kind, opts)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	if rec.ID != key {
		item.Error = fmt.Sprintf("record holds %q", rec.ID)
		return item
	}
	item.State = len(rec.State)
	return item
}

func restoreTemplate(rd storage.StateReader, key string, tz *template.Templatizer, opts codec.Options) string {
	data, err := readItem(rd, domain.CategoryTemplates, key)
	if err != nil {
		return err.Error()
	}
	rec, err := codec.Decode(data, domain.KindOther, opts)
	if err != nil {
		return err.Error()
	}
	shape, isLambda := rec.Expr.(*expr.Lambda)
	if !isLambda {
		return "template is not a lambda"
	}
	if _, err := tz.Registry().Restore(rec.ID, shape); err != nil {
		return err.Error()
	}
	return ""
}

func readItem(rd storage.StateReader, category, key string) ([]byte, error) {
	rc, err := rd.OpenItem(category, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

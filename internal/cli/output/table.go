package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Table is a pre-built table. Commands build one when the reflective
// layout does not fit.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table with its headers.
func (t *Table) Render(w io.Writer) error {
	return t.render(w, true)
}

func (t *Table) render(w io.Writer, headers bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if headers && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// TableFormatter lays out data as aligned columns:
//
//   - a slice of structs prints one row per element, one column per field;
//   - a single struct prints FIELD/VALUE rows;
//   - a map prints KEY/VALUE rows sorted by key.
//
// Column names come from the json tag. Fields tagged `table:"wide"` only
// appear when Wide is set and `table:"-"` hides a field. Anything else
// falls back to JSON.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

func (f TableFormatter) Format(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		return nil
	case *Table:
		return t.render(w, !f.NoHeaders)
	case Table:
		return t.render(w, !f.NoHeaders)
	}
	t, ok := f.build(reflect.ValueOf(data))
	if !ok {
		return JSONFormatter{}.Format(w, data)
	}
	return t.render(w, !f.NoHeaders)
}

func (f TableFormatter) build(v reflect.Value) (*Table, bool) {
	v = deref(v)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return f.rows(v)
	case reflect.Struct:
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		for _, c := range columns(v.Type(), true) {
			t.AddRow(c.name, cell(v.Field(c.index)))
		}
		return t, true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return cell(keys[i]) < cell(keys[j]) })
		for _, k := range keys {
			t.AddRow(cell(k), cell(v.MapIndex(k)))
		}
		return t, true
	}
	return nil, false
}

func (f TableFormatter) rows(v reflect.Value) (*Table, bool) {
	if v.Len() == 0 {
		return &Table{}, true
	}
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		t := &Table{Headers: []string{"VALUE"}}
		for i := range v.Len() {
			t.AddRow(cell(v.Index(i)))
		}
		return t, true
	}

	cols := columns(elem, f.Wide)
	t := &Table{}
	for _, c := range cols {
		t.Headers = append(t.Headers, strings.ToUpper(c.name))
	}
	for i := range v.Len() {
		row := deref(v.Index(i))
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = "-"
			if row.IsValid() {
				cells[j] = cell(row.Field(c.index))
			}
		}
		t.AddRow(cells...)
	}
	return t, true
}

type column struct {
	name  string
	index int
}

func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("table")
		if tag == "-" || (tag == "wide" && !wide) {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = snake(sf.Name)
		}
		cols = append(cols, column{name: name, index: i})
	}
	return cols
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// cell renders one value. Empty values print as "-".
func cell(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return "-"
	}
	switch v.Type() {
	case durationType:
		return time.Duration(v.Int()).String()
	case timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	}
	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.2f", v.Float())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("%d bytes", v.Len())
		}
		fallthrough
	case reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if b, err := json.Marshal(v.Interface()); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v.Interface())
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// snake turns StateBytes into state_bytes and ID into id.
func snake(s string) string {
	var b strings.Builder
	lower := false
	for _, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if lower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		lower = !upper
		b.WriteRune(r)
	}
	return b.String()
}

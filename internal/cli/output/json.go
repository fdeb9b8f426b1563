package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter prints indented JSON, one document per call.
type JSONFormatter struct{}

func (JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter renders values as JSON terminated by a newline. Tool results
// often carry markup or comparison operators, so HTML escaping is disabled
// and "<", ">" and "&" are written verbatim.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) encode(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if f.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	return f.encode(data)
}

// FormatError writes the error under an "error" key so scripts can tell a
// failed invocation from a result document.
func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.encode(struct {
		Error StructuredError `json:"error"`
	}{err})
}

func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.encode(tableToMaps(headers, rows))
}

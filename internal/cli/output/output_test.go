package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  string
		want    interface{}
		wantErr bool
	}{
		{"json", &JSONFormatter{}, false},
		{"JSON", &JSONFormatter{}, false},
		{"yaml", &YAMLFormatter{}, false},
		{"table", &TableFormatter{}, false},
		{"", &TableFormatter{}, false},
		{"csv", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}
}

func TestResolveFormat(t *testing.T) {
	t.Setenv(EnvOutput, "")
	assert.Equal(t, FormatTable, ResolveFormat(""))
	assert.Equal(t, FormatYAML, ResolveFormat("yaml"))

	t.Setenv(EnvOutput, "json")
	assert.Equal(t, FormatJSON, ResolveFormat(""))
	assert.Equal(t, FormatTable, ResolveFormat("table"))
}

type callView struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}
	out, err := f.Format(callView{Status: "success", Result: json.RawMessage(`{"qty":3}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","result":{"qty":3}}`, out)

	out, err = f.FormatTable([]string{"id", "status"}, [][]string{{"a", "healthy"}, {"b"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","status":"healthy"},{"id":"b","status":""}]`, out)
}

func TestJSONFormatter_KeepsMarkupAndIndents(t *testing.T) {
	out, err := (&JSONFormatter{}).Format(map[string]string{"expr": "temp < 80 && rpm > 0"})
	require.NoError(t, err)
	assert.Equal(t, "{\"expr\":\"temp < 80 && rpm > 0\"}\n", out)

	out, err = (&JSONFormatter{Indent: true}).Format(map[string]int{"qty": 3})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"qty\": 3\n}\n", out)
}

func TestJSONFormatter_FormatErrorIsEnveloped(t *testing.T) {
	se := NewStructuredError(ErrCodeServerNotFound, "no such server").WithRequestID("req-1")
	out, err := (&JSONFormatter{}).FormatError(se)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"SERVER_NOT_FOUND","message":"no such server","request_id":"req-1"}}`, out)
}

func TestYAMLFormatter_UsesJSONNames(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.Format(callView{Status: "success", Result: json.RawMessage(`{"qty":3}`)})
	require.NoError(t, err)
	assert.Contains(t, out, "status: success")
	assert.Contains(t, out, "qty: 3")

	out, err = f.FormatError(NewStructuredError(ErrCodeServerNotFound, "no such server"))
	require.NoError(t, err)
	assert.Contains(t, out, "code: SERVER_NOT_FOUND")
}

func TestTableFormatter_FormatTable(t *testing.T) {
	f := &TableFormatter{Width: 200}
	out, err := f.FormatTable(
		[]string{"SERVER", "STATUS", "LATENCY"},
		[][]string{{"inventory", "healthy", "12ms"}, {"quality", "unhealthy", "5001ms"}},
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "SERVER"))
	assert.True(t, strings.HasPrefix(lines[1], "------"))
	assert.Equal(t, strings.Index(lines[0], "STATUS"), strings.Index(lines[2], "healthy"))

	out, err = f.FormatTable([]string{"A"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", out)
}

func TestTableFormatter_ClipsToWidth(t *testing.T) {
	f := &TableFormatter{Width: 20, Condensed: true}
	out, err := f.FormatTable([]string{"A", "B"}, [][]string{{"x", strings.Repeat("y", 40)}})
	require.NoError(t, err)
	assert.Contains(t, out, "yyyyy...")
	assert.NotContains(t, out, strings.Repeat("y", 9))
}

func TestStructuredError(t *testing.T) {
	se := NewStructuredError(ErrCodeToolCallFailed, "tool failed").
		WithGuidance("check the tool server logs").
		WithContext("server", "inventory").
		WithRequestID("req-1")
	assert.Equal(t, "tool failed", se.Error())
	assert.Equal(t, "inventory", se.Context["server"])

	out, err := (&TableFormatter{}).FormatError(se)
	require.NoError(t, err)
	assert.Contains(t, out, "Error [TOOL_CALL_FAILED]: tool failed")
	assert.Contains(t, out, "Request ID: req-1")

	assert.Equal(t, se, FromError(se, ErrCodeOperationFailed))
	assert.Equal(t, ErrCodeOperationFailed, FromError(errors.New("x"), ErrCodeOperationFailed).Code)
}

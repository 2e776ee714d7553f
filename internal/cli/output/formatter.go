// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvOutput selects the default format when -o is not given
const EnvOutput = "TOOLPROXY_OUTPUT"

// Supported formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// OutputFormatter formats structured data for CLI output.
// Implementations are stateless and thread-safe.
type OutputFormatter interface {
	// Format converts data to formatted string output.
	Format(data interface{}) (string, error)

	// FormatError converts a structured error to formatted output.
	FormatError(err StructuredError) (string, error)

	// FormatTable formats tabular data with headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter creates a formatter for the specified format (case-insensitive)
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatTable, "":
		return &TableFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the output format.
// Priority: explicit flag > TOOLPROXY_OUTPUT > table.
func ResolveFormat(outputFlag string) string {
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv(EnvOutput); envFormat != "" {
		return envFormat
	}
	return FormatTable
}

func tableToMaps(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}

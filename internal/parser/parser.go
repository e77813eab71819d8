package parser

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tablegen/internal/column"
	"tablegen/internal/utils"

	"github.com/goccy/go-json"
)

var (
	ErrInvalidJSON   = errors.New("invalid JSON")
	ErrNotAnObject   = errors.New("JSON value is not an object")
	ErrNoFieldsFound = errors.New("no fields found")
)

const parseErrorDetailBytes = 200

// ParseFields decodes jsonText and maps it to output fields.
//
// Predefined copies each expected field, filling absent ones with
// column.FieldMissing. AutoParse keeps every key whose value is not null and
// not blank. Values are trimmed; nested values are kept as compact JSON.
func ParseFields(jsonText string, expected []string, mode column.FieldMode) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, utils.Truncate(err.Error(), parseErrorDetailBytes))
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotAnObject, kindOf(decoded))
	}

	out := make(map[string]string)
	switch mode {
	case column.AutoParse:
		for k, v := range obj {
			if v == nil {
				continue
			}
			s := strings.TrimSpace(stringify(v))
			if s == "" {
				continue
			}
			out[k] = s
		}
	default:
		for _, name := range expected {
			v, present := obj[name]
			if !present {
				out[name] = column.FieldMissing
				continue
			}
			out[name] = strings.TrimSpace(stringify(v))
		}
	}

	if len(out) == 0 {
		return nil, ErrNoFieldsFound
	}
	return out, nil
}

// Parse runs ExtractJSON then ParseFields.
func Parse(raw string, expected []string, mode column.FieldMode) (map[string]string, error) {
	return ParseFields(ExtractJSON(raw), expected, mode)
}

// SortedKeys returns the field names of a parse result in a stable order.
func SortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}


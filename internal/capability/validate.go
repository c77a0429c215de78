package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// parseArguments decodes raw request arguments into a JSON object. Empty
// input is treated as an empty object.
func parseArguments(raw string) (map[string]any, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", jsonKind(v))
	}
	return obj, nil
}

// resolveSchema compiles an argument schema for validation. The $schema
// keyword is dropped so remote schemas declaring older drafts still resolve.
func resolveSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	clean := make(map[string]any, len(schema))
	for k, v := range schema {
		if k != "$schema" {
			clean[k] = v
		}
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return s.Resolve(nil)
}

// validateArguments checks params against a resolved schema and rewrites
// the first violation into a message the reasoning engine can act on.
func validateArguments(params map[string]any, schema *jsonschema.Resolved) error {
	if schema == nil {
		return nil
	}
	if err := schema.Validate(params); err != nil {
		return describeViolation(err)
	}
	return nil
}

var (
	quotedRE   = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	typeRE     = regexp.MustCompile(`has type "(\w+)", want (?:one of )?"([^"]+)"`)
	propPrefix = "/properties/"

	bounds = map[string]string{
		"minimum":          "must be at least %g",
		"maximum":          "must be at most %g",
		"exclusiveMinimum": "must be greater than %g",
		"exclusiveMaximum": "must be less than %g",
	}
)

// describeViolation turns a validator error of the form
// "validating root: validating /properties/a: type: ..." into
// `field "a": expected integer but got string`.
func describeViolation(err error) error {
	msg := err.Error()
	field := ""
	for {
		rest, ok := strings.CutPrefix(msg, "validating ")
		if !ok {
			break
		}
		path, tail, ok := strings.Cut(rest, ": ")
		if !ok {
			break
		}
		if i := strings.LastIndex(path, propPrefix); i >= 0 {
			field = path[i+len(propPrefix):]
		}
		msg = tail
	}

	keyword, detail, _ := strings.Cut(msg, ": ")
	switch {
	case keyword == "required":
		names := quotedNames(detail)
		if len(names) == 1 {
			return fmt.Errorf("missing required field %q", names[0])
		}
		return fmt.Errorf("missing required fields %s", strings.Join(quoteAll(names), ", "))
	case strings.HasPrefix(msg, "unexpected additional properties"):
		names := quotedNames(msg)
		if len(names) == 1 {
			return fmt.Errorf("unknown field %q", names[0])
		}
		return fmt.Errorf("unknown fields %s", strings.Join(quoteAll(names), ", "))
	case keyword == "type":
		if m := typeRE.FindStringSubmatch(detail); m != nil {
			return inField(field, fmt.Sprintf("expected %s but got %s", m[2], m[1]))
		}
	case bounds[keyword] != "":
		i := strings.LastIndexByte(detail, ' ')
		if limit, perr := strconv.ParseFloat(detail[i+1:], 64); perr == nil {
			return inField(field, fmt.Sprintf(bounds[keyword], limit))
		}
	case keyword == "enum":
		return inField(field, strings.Replace(detail, " does not equal any of: ", " is not one of ", 1))
	}
	return inField(field, msg)
}

func inField(field, msg string) error {
	if field == "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("field %q: %s", field, msg)
}

func quotedNames(s string) []string {
	var out []string
	for _, m := range quotedRE.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}

// jsonKind names the JSON type of a decoded value for error messages.
func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

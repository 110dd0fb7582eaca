package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// tokenPattern matches {{key}} placeholders. Keys are any text without braces,
// so output keys such as "Due Date" or "event:type" resolve as written.
// Whitespace around the key is trimmed.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// VariablePool holds the outputs of steps already executed in one run,
// keyed by step id. It is owned by a single chain execution and is not safe
// for concurrent use.
type VariablePool struct {
	outputs   map[string]map[string]any
	variables map[string]map[string]string
}

// NewVariablePool creates an empty pool.
func NewVariablePool() *VariablePool {
	return &VariablePool{
		outputs:   make(map[string]map[string]any),
		variables: make(map[string]map[string]string),
	}
}

// Put records a step's output and the variables it advertises. A nil schema
// advertises every flattened key of data.
func (p *VariablePool) Put(stepID string, data map[string]any, schema map[string]string) {
	if data == nil {
		data = map[string]any{}
	}
	p.outputs[stepID] = data
	p.variables[stepID] = Advertise(data, schema)
}

// Output returns a step's raw output.
func (p *VariablePool) Output(stepID string) (map[string]any, bool) {
	data, ok := p.outputs[stepID]
	return data, ok
}

// Variables returns the stringified variables a step advertised.
func (p *VariablePool) Variables(stepID string) (map[string]string, bool) {
	vars, ok := p.variables[stepID]
	return vars, ok
}

// Advertise computes the variable set a step output exposes downstream.
//
// With a schema, exactly the schema's names are advertised, each resolved
// through its dotted path; names whose path is absent are omitted. Without
// a schema, data is flattened: nested maps and lists contribute dotted keys
// (issue.url, labels.0) alongside their parent key, which holds the JSON
// encoding of the whole value.
func Advertise(data map[string]any, schema map[string]string) map[string]string {
	vars := make(map[string]string)
	if len(schema) > 0 {
		for name, path := range schema {
			if v, ok := lookupPath(data, path); ok {
				vars[name] = Stringify(v)
			}
		}
		return vars
	}
	for k, v := range data {
		flatten(vars, k, v)
	}
	return vars
}

func flatten(vars map[string]string, prefix string, value any) {
	vars[prefix] = Stringify(value)
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(vars, prefix+"."+k, child)
		}
	case []any:
		for i, child := range v {
			flatten(vars, prefix+"."+strconv.Itoa(i), child)
		}
	}
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a value the way it appears after substitution.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// Substitute returns a deep copy of payload with every {{key}} token in its
// string values replaced by the matching variable. Tokens with no matching
// variable are left as written and returned, sorted and deduplicated, in
// unresolved.
func Substitute(payload map[string]any, vars map[string]string) (out map[string]any, unresolved []string) {
	missing := make(map[string]struct{})
	out = substituteMap(payload, vars, missing)
	for token := range missing {
		unresolved = append(unresolved, token)
	}
	sort.Strings(unresolved)
	return out, unresolved
}

func substituteMap(in map[string]any, vars map[string]string, missing map[string]struct{}) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = substituteValue(v, vars, missing)
	}
	return out
}

func substituteValue(value any, vars map[string]string, missing map[string]struct{}) any {
	switch v := value.(type) {
	case string:
		return SubstituteString(v, vars, missing)
	case map[string]any:
		return substituteMap(v, vars, missing)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, vars, missing)
		}
		return out
	default:
		return v
	}
}

// SubstituteString replaces tokens in a single string. Unknown token keys are
// added to missing when it is non-nil.
func SubstituteString(s string, vars map[string]string, missing map[string]struct{}) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		key := strings.TrimSpace(tokenPattern.FindStringSubmatch(token)[1])
		if value, ok := vars[key]; ok {
			return value
		}
		if missing != nil {
			missing[key] = struct{}{}
		}
		return token
	})
}

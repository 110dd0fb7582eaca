package engine

import (
	"reflect"
	"testing"
	"time"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]string{
		"issueUrl":     "https://github.com/acme/repo/issues/42",
		"issue.number": "42",
		"name":         "Ada",
		"Due Date":     "2026-10-20",
		"prénom":       "Zoé",
		"event:type":   "push",
	}

	tests := []struct {
		name           string
		payload        map[string]any
		want           map[string]any
		wantUnresolved []string
	}{
		{
			name:    "single token",
			payload: map[string]any{"body": "Created: {{issueUrl}}"},
			want:    map[string]any{"body": "Created: https://github.com/acme/repo/issues/42"},
		},
		{
			name:    "whitespace and repeats",
			payload: map[string]any{"body": "{{ name }} / {{name}} #{{issue.number}}"},
			want:    map[string]any{"body": "Ada / Ada #42"},
		},
		{
			name: "nested values",
			payload: map[string]any{
				"meta":  map[string]any{"who": "{{name}}"},
				"items": []any{"{{issue.number}}", float64(3), true},
			},
			want: map[string]any{
				"meta":  map[string]any{"who": "Ada"},
				"items": []any{"42", float64(3), true},
			},
		},
		{
			name:           "unresolved tokens left intact",
			payload:        map[string]any{"a": "{{missing}} and {{name}}", "b": "{{other}} {{missing}}"},
			want:           map[string]any{"a": "{{missing}} and Ada", "b": "{{other}} {{missing}}"},
			wantUnresolved: []string{"missing", "other"},
		},
		{
			name:    "no tokens",
			payload: map[string]any{"plain": "no braces here", "n": 1},
			want:    map[string]any{"plain": "no braces here", "n": 1},
		},
		{
			name:    "keys with spaces",
			payload: map[string]any{"body": "due {{Due Date}} / {{ Due Date }}"},
			want:    map[string]any{"body": "due 2026-10-20 / 2026-10-20"},
		},
		{
			name:    "non-ascii keys",
			payload: map[string]any{"body": "hi {{prénom}}"},
			want:    map[string]any{"body": "hi Zoé"},
		},
		{
			name:    "keys with colons",
			payload: map[string]any{"body": "got {{event:type}}"},
			want:    map[string]any{"body": "got push"},
		},
		{
			name:           "unknown key with space reported",
			payload:        map[string]any{"body": "{{ has space }} {name}"},
			want:           map[string]any{"body": "{{ has space }} {name}"},
			wantUnresolved: []string{"has space"},
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unresolved := Substitute(tt.payload, vars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Substitute() = %#v, want %#v", got, tt.want)
			}
			if !reflect.DeepEqual(unresolved, tt.wantUnresolved) {
				t.Errorf("unresolved = %v, want %v", unresolved, tt.wantUnresolved)
			}
		})
	}
}

func TestSubstitute_DoesNotMutateInput(t *testing.T) {
	payload := map[string]any{
		"body":   "{{name}}",
		"nested": map[string]any{"x": "{{name}}"},
	}
	_, _ = Substitute(payload, map[string]string{"name": "Ada"})

	if payload["body"] != "{{name}}" {
		t.Errorf("top-level value mutated: %v", payload["body"])
	}
	if payload["nested"].(map[string]any)["x"] != "{{name}}" {
		t.Errorf("nested value mutated")
	}
}

func TestAdvertise(t *testing.T) {
	data := map[string]any{
		"title":  "Bug",
		"count":  float64(3),
		"issue":  map[string]any{"url": "https://x/1", "id": float64(1)},
		"labels": []any{"bug", "p1"},
		"empty":  nil,
	}

	t.Run("flattened without schema", func(t *testing.T) {
		got := Advertise(data, nil)
		want := map[string]string{
			"title":     "Bug",
			"count":     "3",
			"issue":     `{"id":1,"url":"https://x/1"}`,
			"issue.url": "https://x/1",
			"issue.id":  "1",
			"labels":    `["bug","p1"]`,
			"labels.0":  "bug",
			"labels.1":  "p1",
			"empty":     "",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Advertise() = %v, want %v", got, want)
		}
	})

	t.Run("schema selects and renames", func(t *testing.T) {
		got := Advertise(data, map[string]string{
			"issueUrl": "issue.url",
			"first":    "labels.0",
			"gone":     "issue.missing",
			"oob":      "labels.9",
		})
		want := map[string]string{"issueUrl": "https://x/1", "first": "bug"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Advertise() = %v, want %v", got, want)
		}
	})
}

func TestStringify(t *testing.T) {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 0, time.FixedZone("CEST", 2*3600))

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{true, "true"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{float64(1e21), "1000000000000000000000"},
		{7, "7"},
		{int64(-3), "-3"},
		{ts, "2026-05-04T01:02:01Z"},
		{map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{[]any{"a", float64(2)}, `["a",2]`},
	}

	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVariablePool(t *testing.T) {
	pool := NewVariablePool()

	if _, ok := pool.Variables("t"); ok {
		t.Fatal("empty pool reported variables")
	}

	pool.Put("t", map[string]any{"k": "v"}, nil)
	pool.Put("a1", nil, nil)

	vars, ok := pool.Variables("t")
	if !ok || vars["k"] != "v" {
		t.Errorf("Variables(t) = %v, %v", vars, ok)
	}

	out, ok := pool.Output("a1")
	if !ok || out == nil || len(out) != 0 {
		t.Errorf("Output(a1) = %v, %v; want empty non-nil map", out, ok)
	}
	if vars, ok := pool.Variables("a1"); !ok || len(vars) != 0 {
		t.Errorf("Variables(a1) = %v, %v; want empty", vars, ok)
	}
}

package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openzap/openzap/pkg/registry"
)

func TestRunExportsGlobals(t *testing.T) {
	e := NewEvaluator(time.Second)

	res, err := e.Run(context.Background(), registry.Credential{}, map[string]any{
		"script": `
title = issue["title"].upper()
count = len(labels) + 1
_hidden = "skip me"
summary = struct(title = title, urgent = "bug" in labels)
pair = (1, "two")

def helper():
    return 1
`,
		"issue":  map[string]any{"title": "broken build"},
		"labels": []any{"bug", "ci"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.HasRun {
		t.Fatal("expected HasRun")
	}

	if got := res.Data["title"]; got != "BROKEN BUILD" {
		t.Errorf("expected title BROKEN BUILD, got %v", got)
	}
	if got := res.Data["count"]; got != int64(3) {
		t.Errorf("expected count 3, got %v (%T)", got, got)
	}
	if _, ok := res.Data["_hidden"]; ok {
		t.Error("underscore globals must not be exported")
	}
	if _, ok := res.Data["helper"]; ok {
		t.Error("functions must not be exported")
	}
	if _, ok := res.Data["labels"]; ok {
		t.Error("predeclared inputs are not globals of the script")
	}

	summary, ok := res.Data["summary"].(map[string]any)
	if !ok {
		t.Fatalf("expected summary map, got %T", res.Data["summary"])
	}
	if summary["urgent"] != true {
		t.Errorf("expected urgent=true, got %v", summary["urgent"])
	}

	pair, ok := res.Data["pair"].([]any)
	if !ok || len(pair) != 2 || pair[1] != "two" {
		t.Errorf("unexpected pair %v", res.Data["pair"])
	}
}

func TestRunWholeFloatsBecomeInts(t *testing.T) {
	res, err := NewEvaluator(time.Second).Run(context.Background(), registry.Credential{}, map[string]any{
		"script": "doubled = n * 2\nhalf = ratio / 2",
		"n":      21.0,
		"ratio":  0.5,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Data["doubled"] != int64(42) {
		t.Errorf("expected 42, got %v (%T)", res.Data["doubled"], res.Data["doubled"])
	}
	if res.Data["half"] != 0.25 {
		t.Errorf("expected 0.25, got %v", res.Data["half"])
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "missing script", fields: map[string]any{"x": 1}},
		{name: "syntax error", fields: map[string]any{"script": "x = ("}},
		{name: "runtime error", fields: map[string]any{"script": "x = 1 // 0"}},
		{name: "unsupported input", fields: map[string]any{"script": "x = 1", "ch": make(chan int)}},
		{name: "unsupported output", fields: map[string]any{"script": "x = {1: 2}"}},
		{name: "bad timeout", fields: map[string]any{"script": "x = 1", "timeout": "later"}},
	}

	e := NewEvaluator(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Run(context.Background(), registry.Credential{}, tt.fields); err == nil {
				t.Error("expected error")
			}
		})
	}
}

const spin = `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

result = spin()
`

func TestRunTimeout(t *testing.T) {
	e := NewEvaluator(time.Minute)

	start := time.Now()
	_, err := e.Run(context.Background(), registry.Credential{}, map[string]any{
		"script":  spin,
		"timeout": "20ms",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("script was not cancelled promptly: %v", elapsed)
	}
}

func TestRunCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewEvaluator(time.Minute).Run(ctx, registry.Credential{}, map[string]any{"script": spin})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPayloadTimeoutCannotExtendLimit(t *testing.T) {
	e := NewEvaluator(20 * time.Millisecond)

	_, err := e.Run(context.Background(), registry.Credential{}, map[string]any{
		"script":  spin,
		"timeout": "1h",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNewEvaluatorDefault(t *testing.T) {
	if e := NewEvaluator(0); e.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", e.timeout)
	}
}

func TestRegister(t *testing.T) {
	r := registry.New()
	if err := Register(r, time.Second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.HasAction(ClassRunStarlark) {
		t.Error("action not registered")
	}
}

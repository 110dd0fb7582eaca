// Package script runs user supplied Starlark code as a zap action. The
// "script" payload field holds the program; every other payload field is
// predeclared as a global. Top-level globals the program defines become the
// action output, except names starting with an underscore and functions.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openzap/openzap/pkg/integrations/payload"
	"github.com/openzap/openzap/pkg/registry"
)

const (
	// ClassRunStarlark is the registered class name of the Starlark action.
	ClassRunStarlark = "code.run_starlark"

	// DefaultTimeout bounds a script when neither the payload nor the
	// evaluator sets a limit.
	DefaultTimeout = 10 * time.Second

	// maxSteps bounds the number of Starlark computation steps.
	maxSteps = 10_000_000
)

// ErrTimeout is returned when a script exceeds its time limit.
var ErrTimeout = errors.New("starlark execution timeout")

// Evaluator executes Starlark scripts.
type Evaluator struct {
	timeout time.Duration
}

var _ registry.Action = (*Evaluator)(nil)

// NewEvaluator creates an evaluator. A zero timeout selects DefaultTimeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{timeout: timeout}
}

// Run executes the payload's script. A "timeout" payload field may shorten
// the evaluator's limit but never extends it.
func (e *Evaluator) Run(ctx context.Context, _ registry.Credential, fields map[string]any) (registry.ActionResult, error) {
	src, err := payload.String(fields, "script")
	if err != nil {
		return registry.ActionResult{}, err
	}
	timeout, err := payload.DurationOr(fields, "timeout", e.timeout)
	if err != nil {
		return registry.ActionResult{}, err
	}
	if timeout <= 0 || timeout > e.timeout {
		timeout = e.timeout
	}

	out, err := e.Evaluate(ctx, src, payload.Without(fields, "script", "timeout"), timeout)
	if err != nil {
		return registry.ActionResult{}, err
	}
	return registry.ActionResult{HasRun: true, Data: out}, nil
}

// Evaluate runs src with input predeclared and returns its exported globals.
func (e *Evaluator) Evaluate(ctx context.Context, src string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "openzap",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxSteps)

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	type result struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan result, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, "action.star", src, predeclared)
		done <- result{globals: globals, err: err}
	}()

	var res result
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", res.err)
	}

	output := make(map[string]any, len(res.globals))
	for name, val := range res.globals {
		if name == "" || name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// Register adds the Starlark action to r.
func Register(r *registry.Registry, timeout time.Duration) error {
	return r.RegisterAction(ClassRunStarlark, func() registry.Action { return NewEvaluator(timeout) })
}

func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Indexable, n int) ([]any, error) {
	list := make([]any, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(it.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

package yaml

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BDNK1/scriptval/runtime"
)

// Custom expression functions available in all registries
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// Variables visible to expressions. Arguments are bound positionally:
// validators get all four, cleaners the first two, hooks only result.
var argNames = []string{"result", "paths", "other", "other_paths"}

// Evaluator compiles registry expressions against the engine's functions.
type Evaluator struct {
	symbol  string
	options []expr.Option
}

// NewEvaluator wires the host functions into every compiled program:
// print, raise, and one <plugin>_<method> function per plugin task.
// ctx returns the context of the call in progress.
func NewEvaluator(symbol string, plugins *runtime.Container, logger *slog.Logger, ctx func() context.Context) *Evaluator {
	opts := []expr.Option{
		expr.Env(env(symbol)),
		expr.AllowUndefinedVariables(),
		expr.Function("print", func(params ...any) (any, error) {
			parts := make([]string, len(params))
			for i, p := range params {
				parts[i] = fmt.Sprint(p)
			}
			logger.InfoContext(ctx(), strings.Join(parts, " "), "source", "script")
			return nil, nil
		}),
		expr.Function("raise", func(params ...any) (any, error) {
			kind, _ := params[0].(string)
			msg := ""
			if len(params) > 1 {
				msg = fmt.Sprint(params[1])
			}
			return nil, runtime.NewScriptError(kind, msg)
		}, new(func(string) any), new(func(string, any) any)),
	}
	opts = append(opts, exprFunctions...)

	for pluginName, tasks := range plugins.Grouped() {
		for methodName, task := range tasks {
			t := task
			name := pluginName + "_" + methodName
			opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
				input := map[string]any{}
				if len(params) > 0 {
					m, ok := params[0].(map[string]any)
					if !ok {
						return nil, fmt.Errorf("%s: expected map argument, got %T", name, params[0])
					}
					input = m
				}
				out, err := t.Execute(runtime.NewInvocation(ctx(), plugins), input)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				return out, nil
			}))
		}
	}

	return &Evaluator{symbol: symbol, options: opts}
}

// env is the compile-time shape of the expression environment.
func env(symbol string) map[string]any {
	return map[string]any{
		"null":        nil,
		symbol:        map[string]any{},
		"result":      map[string]any{},
		"paths":       []string{},
		"other":       map[string]any{},
		"other_paths": []string{},
	}
}

func (e *Evaluator) Compile(source string) (*vm.Program, error) {
	return expr.Compile(source, e.options...)
}

// Run evaluates program with positional arguments bound to argNames.
func (e *Evaluator) Run(program *vm.Program, current map[string]any, args []any) (any, error) {
	values := env(e.symbol)
	values[e.symbol] = current
	for i, arg := range args {
		if i >= len(argNames) {
			break
		}
		values[argNames[i]] = arg
	}
	return expr.Run(program, values)
}

// truthy applies script truthiness to a Go value: nil, false, zero numbers,
// empty strings and empty collections are false.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

package dsl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/BDNK1/scriptval/runtime"
)

// BuildPluginGlobals converts container tasks (e.g., "files.checksum",
// "postgres.get") into Risor modules grouped by plugin prefix:
//
//	files.checksum({path: paths[0]})
//	http.request({url: "...", method: "GET"})
//
// Each task receives an Invocation built from the context the script was
// called under, so plugins see the stage and result being validated.
func BuildPluginGlobals(container *runtime.Container) map[string]any {
	globals := make(map[string]any)

	for pluginName, tasks := range container.Grouped() {
		contents := make(map[string]object.Object, len(tasks))
		for methodName, task := range tasks {
			t := task
			name := pluginName + "." + methodName
			contents[methodName] = object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
				input, err := taskInput(name, args)
				if err != nil {
					return object.NewError(err)
				}
				out, err := t.Execute(runtime.NewInvocation(ctx, container), input)
				if err != nil {
					return object.NewError(fmt.Errorf("%s: %w", name, err))
				}
				return goValueToObject(out)
			})
		}
		globals[pluginName] = object.NewBuiltinsModule(pluginName, contents)
	}

	return globals
}

// taskInput normalizes the arguments of a plugin call: no argument or a
// single map.
func taskInput(name string, args []object.Object) (map[string]any, error) {
	switch len(args) {
	case 0:
		return map[string]any{}, nil
	case 1:
		m, ok := objectToGo(args[0]).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected map argument, got %s", name, args[0].Type())
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
	}
}

// buildHostGlobals returns the functions every script gets regardless of
// sandboxing: print, routed to the validator log, and raise, which throws a
// classified exception:
//
//	raise("NoSuchProcess", "process 4711 is gone")
func buildHostGlobals(logger *slog.Logger, raised func(*runtime.ScriptError)) map[string]any {
	return map[string]any{
		"print": object.NewBuiltin("print", func(ctx context.Context, args ...object.Object) object.Object {
			parts := make([]string, len(args))
			for i, arg := range args {
				parts[i] = display(arg)
			}
			logger.InfoContext(ctx, strings.Join(parts, " "), "source", "script")
			return object.Nil
		}),
		"raise": object.NewBuiltin("raise", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) == 0 || len(args) > 2 {
				return object.NewError(fmt.Errorf("raise: expected 1 or 2 arguments, got %d", len(args)))
			}
			kind := display(args[0])
			msg := ""
			if len(args) == 2 {
				msg = display(args[1])
			}
			se := runtime.NewScriptError(kind, msg)
			raised(se)
			return object.NewError(se)
		}),
	}
}

// display renders an object the way print shows it: strings unquoted.
func display(obj object.Object) string {
	if s, ok := obj.(*object.String); ok {
		return s.Value()
	}
	return obj.Inspect()
}

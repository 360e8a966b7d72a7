package lua

import (
	"fmt"
	"log/slog"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/BDNK1/scriptval/runtime"
)

// registerPlugins exposes container tasks as global tables of functions,
// one table per plugin:
//
//	local sum = files.checksum({path = paths[1]})
//	local row = postgres.get({query = "select ...", params = {result.name}})
func registerPlugins(L *glua.LState, container *runtime.Container) {
	for pluginName, tasks := range container.Grouped() {
		funcs := make(map[string]glua.LGFunction, len(tasks))
		for methodName, task := range tasks {
			t := task
			name := pluginName + "." + methodName
			funcs[methodName] = func(L *glua.LState) int {
				input, ok := luaToGo(L.OptTable(1, L.NewTable())).(map[string]any)
				if !ok {
					input = map[string]any{}
				}
				out, err := t.Execute(runtime.NewInvocation(L.Context(), container), input)
				if err != nil {
					L.RaiseError("%s: %v", name, err)
					return 0
				}
				L.Push(goToLua(L, out))
				return 1
			}
		}
		L.SetGlobal(pluginName, L.SetFuncs(L.NewTable(), funcs))
	}
}

// registerHostFunctions installs print, routed to the validator log, and
// raise, which throws a classified exception:
//
//	raise("NoSuchProcess", "process 4711 is gone")
//
// Scripts may also throw error({kind = "...", message = "..."}) directly.
func registerHostFunctions(L *glua.LState, logger *slog.Logger) {
	L.SetGlobal("print", L.NewFunction(func(L *glua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		ctx := L.Context()
		if ctx == nil {
			logger.Info(strings.Join(parts, "\t"), "source", "script")
		} else {
			logger.InfoContext(ctx, strings.Join(parts, "\t"), "source", "script")
		}
		return 0
	}))

	L.SetGlobal("raise", L.NewFunction(func(L *glua.LState) int {
		exc := L.NewTable()
		exc.RawSetString(fieldKind, glua.LString(L.CheckString(1)))
		exc.RawSetString(fieldMessage, glua.LString(L.OptString(2, "")))
		L.SetMetatable(exc, L.GetTypeMetatable(exceptionType))
		L.Error(exc, 1)
		return 0
	}))

	mt := L.NewTypeMetatable(exceptionType)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *glua.LState) int {
		exc := L.CheckTable(1)
		L.Push(glua.LString(fmt.Sprintf("%s: %s", exc.RawGetString(fieldKind), exc.RawGetString(fieldMessage))))
		return 1
	}))
}

const (
	exceptionType = "scriptval.exception"
	fieldKind     = "kind"
	fieldMessage  = "message"
)

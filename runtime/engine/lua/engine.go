// Package lua hosts validation scripts written in Lua (gopher-lua).
//
// The user script defines global tables keyed by workload id:
//
//	validators = {
//	    [42] = function(result, paths, other, other_paths) return #paths == #other_paths end,
//	}
//	cleaners = {
//	    ["42"] = function(result, paths) return true end,
//	}
//
// Auxiliary modules are loaded with require from the search path and may
// return a module table or define global functions.
package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/BDNK1/scriptval/runtime"
)

const (
	EngineName      = "lua"
	ModuleExtension = ".lua"
)

var _ runtime.ScriptRuntime = (*Engine)(nil)

// Engine is a ScriptRuntime backed by a single gopher-lua state.
type Engine struct {
	opts      runtime.EngineOptions
	L         *glua.LState
	modules   map[string]glua.LValue // nil entry: module not on the search path
	finalized bool
}

func NewEngine(opts runtime.EngineOptions) *Engine {
	return &Engine{
		opts:    opts.WithDefaults(),
		modules: make(map[string]glua.LValue),
	}
}

func (e *Engine) Name() string {
	return EngineName
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.finalized {
		return runtime.ErrRuntimeFinalized
	}
	if e.L != nil {
		return nil
	}

	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	if err := openLibs(L, e.opts.Sandbox); err != nil {
		L.Close()
		return fmt.Errorf("opening lua libraries: %w", err)
	}
	L.SetField(L.GetGlobal(glua.LoadLibName), "path", glua.LString(packagePath(e.opts.SearchPath)))

	registerHostFunctions(L, e.opts.Logger)
	registerPlugins(L, e.opts.Plugins)

	L.SetContext(ctx)
	err := L.DoFile(e.opts.Script)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return fmt.Errorf("loading %s: %w", e.opts.Script, scriptError(err))
	}

	e.L = L
	e.opts.Logger.DebugContext(ctx, "Script runtime initialized",
		"engine", EngineName,
		"script", e.opts.Script,
		"plugins", e.opts.Plugins.TaskNames())
	return nil
}

type luaLib struct {
	name string
	fn   glua.LGFunction
}

// openLibs opens the standard libraries. Sandboxed states get no os or io.
func openLibs(L *glua.LState, sandbox bool) error {
	libs := []luaLib{
		{glua.LoadLibName, glua.OpenPackage},
		{glua.BaseLibName, glua.OpenBase},
		{glua.TabLibName, glua.OpenTable},
		{glua.StringLibName, glua.OpenString},
		{glua.MathLibName, glua.OpenMath},
	}
	if !sandbox {
		libs = append(libs, luaLib{glua.OsLibName, glua.OpenOs}, luaLib{glua.IoLibName, glua.OpenIo})
	}

	for _, lib := range libs {
		if err := L.CallByParam(glua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, glua.LString(lib.name)); err != nil {
			return err
		}
	}
	return nil
}

// packagePath builds package.path from the module search path.
func packagePath(searchPath []string) string {
	patterns := make([]string, 0, 2*len(searchPath))
	for _, dir := range searchPath {
		patterns = append(patterns,
			filepath.Join(dir, "?"+ModuleExtension),
			filepath.Join(dir, "?", "init"+ModuleExtension))
	}
	return strings.Join(patterns, ";")
}

func (e *Engine) Finalize() error {
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
	e.modules = make(map[string]glua.LValue)
	e.finalized = true
	return nil
}

// Marshal builds the result table and binds it to the configured global.
func (e *Engine) Marshal(_ context.Context, r runtime.ResultRecord, paths []string) (runtime.ResultObject, error) {
	if e.L == nil {
		return nil, runtime.ErrNotInitialized
	}

	tbl := e.L.NewTable()
	for k, v := range r.ScriptFields(paths) {
		tbl.RawSetString(k, goToLua(e.L, v))
	}
	e.L.SetGlobal(e.opts.Symbol, tbl)

	return &result{tbl: tbl, name: r.Name, appID: r.WorkloadID}, nil
}

// Resolve accepts both integer and string keys for the workload id.
func (e *Engine) Resolve(_ context.Context, registry, key string) (runtime.Resolution, error) {
	if e.L == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	tbl, ok := e.L.GetGlobal(registry).(*glua.LTable)
	if !ok {
		return runtime.NotFound("%s is not a table in %s", registry, e.opts.Script), nil
	}

	entry := tbl.RawGetString(key)
	if entry == glua.LNil {
		if n, err := strconv.Atoi(key); err == nil {
			entry = tbl.RawGetInt(n)
		}
	}
	if entry == glua.LNil {
		return runtime.NotFound("no %s entry for app %s (have %s)", registry, key, strings.Join(sortedKeys(tbl), ", ")), nil
	}
	return e.callable(fmt.Sprintf("%s[%s]", registry, key), entry)
}

func (e *Engine) ResolveHook(ctx context.Context, module, hook string) (runtime.Resolution, error) {
	if e.L == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	mod, err := e.module(ctx, module)
	if err != nil {
		return runtime.Resolution{}, err
	}
	if mod == nil {
		return runtime.NotFound("module %s not found on the search path", module), nil
	}

	var fn glua.LValue
	if tbl, ok := mod.(*glua.LTable); ok {
		fn = tbl.RawGetString(hook)
	} else {
		// Modules without a return table define their hooks as globals.
		fn = e.L.GetGlobal(hook)
	}
	if fn == glua.LNil {
		return runtime.NotFound("%s has no %s", module, hook), nil
	}
	return e.callable(module+"."+hook, fn)
}

// module requires an auxiliary module once and caches its value.
func (e *Engine) module(ctx context.Context, module string) (glua.LValue, error) {
	if mod, ok := e.modules[module]; ok {
		return mod, nil
	}

	path, found := runtime.FindModule(e.opts.SearchPath, module, ModuleExtension)
	if !found {
		e.modules[module] = nil
		return nil, nil
	}

	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	if err := e.L.CallByParam(glua.P{
		Fn:      e.L.GetGlobal("require"),
		NRet:    1,
		Protect: true,
	}, glua.LString(module)); err != nil {
		return nil, scriptError(err)
	}
	mod := e.L.Get(-1)
	e.L.Pop(1)

	e.opts.Logger.DebugContext(ctx, "Loaded auxiliary module", "module", module, "path", path)
	e.modules[module] = mod
	return mod, nil
}

func (e *Engine) callable(name string, v glua.LValue) (runtime.Resolution, error) {
	if _, ok := v.(*glua.LFunction); ok {
		return runtime.Found(&function{name: name, engine: e, fn: v}), nil
	}
	if e.L.GetMetaField(v, "__call") != glua.LNil {
		return runtime.Found(&function{name: name, engine: e, fn: v}), nil
	}
	return runtime.NotFound("%s is a %s, not a function", name, v.Type()), nil
}

// scriptError classifies an error raised by Lua code. Exception tables
// keep their class; string errors are parsed as "Kind: message".
func scriptError(err error) error {
	var apiErr *glua.ApiError
	if !errors.As(err, &apiErr) {
		return runtime.ParseException(err.Error()).WithCause(err)
	}

	if tbl, ok := apiErr.Object.(*glua.LTable); ok {
		kind := tbl.RawGetString(fieldKind)
		if kind != glua.LNil {
			msg := tbl.RawGetString(fieldMessage)
			text := ""
			if msg != glua.LNil {
				text = msg.String()
			}
			return runtime.NewScriptError(kind.String(), text).
				WithTrace(apiErr.StackTrace).
				WithCause(err)
		}
	}

	se := runtime.ParseException(apiErr.Object.String())
	if apiErr.StackTrace != "" {
		se.WithTrace(apiErr.StackTrace)
	}
	return se.WithCause(err)
}

// result is the script-side view of a ResultRecord.
type result struct {
	tbl   *glua.LTable
	name  string
	appID runtime.WorkloadID
}

func (r *result) Name() string {
	return r.name
}

func (r *result) WorkloadID() runtime.WorkloadID {
	return r.appID
}

type function struct {
	name   string
	engine *Engine
	fn     glua.LValue
}

func (f *function) Name() string {
	return f.name
}

func (f *function) Call(ctx context.Context, args ...any) (runtime.Value, error) {
	L := f.engine.L
	if L == nil {
		return nil, runtime.ErrRuntimeFinalized
	}

	converted, err := toLuaArgs(L, args)
	if err != nil {
		return nil, err
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(glua.P{
		Fn:      f.fn,
		NRet:    1,
		Protect: true,
	}, converted...); err != nil {
		return nil, scriptError(err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return value{lv: ret}, nil
}

// value adapts a Lua value to runtime.Value. Only nil and false are falsy.
type value struct {
	lv glua.LValue
}

func (v value) IsNil() bool {
	return v.lv == nil || v.lv == glua.LNil
}

func (v value) Truthy() bool {
	return v.lv != nil && glua.LVAsBool(v.lv)
}

func (v value) String() string {
	if v.IsNil() {
		return "nil"
	}
	return v.lv.String()
}

func (v value) Interface() any {
	if v.lv == nil {
		return nil
	}
	return luaToGo(v.lv)
}

// Package dsl hosts validation scripts written in Risor.
//
// The user script defines two maps keyed by workload id, holding functions:
//
//	validators := {
//	    "42": func(result, paths, other, other_paths) { return paths[0] != "" }
//	}
//	cleaners := {
//	    "42": func(result, paths) { return true }
//	}
//
// Auxiliary modules (boinctools.risor) are found on the search path and run
// in their own VM; their top-level functions are the hooks.
package dsl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
	"github.com/risor-io/risor/vm"

	"github.com/BDNK1/scriptval/runtime"
)

const (
	EngineName      = "risor"
	ModuleExtension = ".risor"
)

var _ runtime.ScriptRuntime = (*Engine)(nil)

// Engine is a ScriptRuntime backed by the Risor VM.
type Engine struct {
	opts      runtime.EngineOptions
	machine   *vm.VirtualMachine
	current   *object.Map
	modules   map[string]*vm.VirtualMachine // nil entry: module not on the search path
	raised    *runtime.ScriptError
	finalized bool
}

func NewEngine(opts runtime.EngineOptions) *Engine {
	return &Engine{
		opts:    opts.WithDefaults(),
		modules: make(map[string]*vm.VirtualMachine),
	}
}

func (e *Engine) Name() string {
	return EngineName
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.finalized {
		return runtime.ErrRuntimeFinalized
	}
	if e.machine != nil {
		return nil
	}

	source, err := os.ReadFile(e.opts.Script)
	if err != nil {
		return fmt.Errorf("error reading script: %w", err)
	}

	e.current = object.NewMap(map[string]object.Object{})
	machine, err := e.load(ctx, string(source))
	if err != nil {
		return fmt.Errorf("loading %s: %w", e.opts.Script, err)
	}
	e.machine = machine

	e.opts.Logger.DebugContext(ctx, "Script runtime initialized",
		"engine", EngineName,
		"script", e.opts.Script,
		"plugins", e.opts.Plugins.TaskNames())
	return nil
}

// load compiles and runs source in a fresh VM sharing the host globals.
func (e *Engine) load(ctx context.Context, source string) (*vm.VirtualMachine, error) {
	opts := []risor.Option{risor.WithGlobals(e.globals())}
	if e.opts.Sandbox {
		// WithoutDefaultGlobals removes os/exec/file builtins; only the
		// injected globals remain.
		opts = append(opts, risor.WithoutDefaultGlobals())
	}
	cfg := risor.NewConfig(opts...)

	ast, err := parser.Parse(ctx, source)
	if err != nil {
		return nil, e.scriptError(err)
	}
	code, err := compiler.Compile(ast, cfg.CompilerOpts()...)
	if err != nil {
		return nil, e.scriptError(err)
	}
	machine := vm.New(code, cfg.VMOpts()...)
	if err := machine.Run(ctx); err != nil {
		return nil, e.scriptError(err)
	}
	return machine, nil
}

func (e *Engine) globals() map[string]any {
	globals := BuildPluginGlobals(e.opts.Plugins)
	for name, fn := range buildHostGlobals(e.opts.Logger, func(se *runtime.ScriptError) { e.raised = se }) {
		globals[name] = fn
	}
	globals[e.opts.Symbol] = e.current
	return globals
}

func (e *Engine) Finalize() error {
	e.machine = nil
	e.modules = make(map[string]*vm.VirtualMachine)
	e.finalized = true
	return nil
}

// Marshal builds a fresh proxy map for r and copies its fields into the
// global current-result map, which scripts see under the configured symbol.
func (e *Engine) Marshal(_ context.Context, r runtime.ResultRecord, paths []string) (runtime.ResultObject, error) {
	if e.machine == nil {
		return nil, runtime.ErrNotInitialized
	}

	m := fieldsToMap(r.ScriptFields(paths))
	for k, v := range m.Value() {
		e.current.Set(k, v)
	}
	return &result{m: m, name: r.Name, appID: r.WorkloadID}, nil
}

func (e *Engine) Resolve(_ context.Context, registry, key string) (runtime.Resolution, error) {
	if e.machine == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	obj, err := e.machine.Get(registry)
	if err != nil {
		return runtime.NotFound("%s is not defined in %s", registry, e.opts.Script), nil
	}
	table, ok := obj.(*object.Map)
	if !ok {
		return runtime.NotFound("%s is a %s, not a map", registry, obj.Type()), nil
	}

	entry, ok := table.Value()[key]
	if !ok || entry == object.Nil {
		return runtime.NotFound("no %s entry for app %s", registry, key), nil
	}
	return e.callable(fmt.Sprintf("%s[%q]", registry, key), e.machine, entry)
}

func (e *Engine) ResolveHook(ctx context.Context, module, hook string) (runtime.Resolution, error) {
	if e.machine == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	machine, err := e.module(ctx, module)
	if err != nil {
		return runtime.Resolution{}, err
	}
	if machine == nil {
		return runtime.NotFound("module %s not found on the search path", module), nil
	}

	obj, err := machine.Get(hook)
	if err != nil || obj == object.Nil {
		return runtime.NotFound("%s has no %s", module, hook), nil
	}
	return e.callable(module+"."+hook, machine, obj)
}

// module loads an auxiliary module once. Modules that fail to load are not
// cached, so the error is reported on every lookup.
func (e *Engine) module(ctx context.Context, module string) (*vm.VirtualMachine, error) {
	if machine, ok := e.modules[module]; ok {
		return machine, nil
	}

	path, found := runtime.FindModule(e.opts.SearchPath, module, ModuleExtension)
	if !found {
		e.modules[module] = nil
		return nil, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading module %s: %w", module, err)
	}
	machine, err := e.load(ctx, string(source))
	if err != nil {
		return nil, err
	}

	e.opts.Logger.DebugContext(ctx, "Loaded auxiliary module", "module", module, "path", path)
	e.modules[module] = machine
	return machine, nil
}

func (e *Engine) callable(name string, machine *vm.VirtualMachine, obj object.Object) (runtime.Resolution, error) {
	switch fn := obj.(type) {
	case *object.Function:
		return runtime.Found(&function{name: name, engine: e, machine: machine, fn: fn}), nil
	case *object.Builtin:
		return runtime.Found(&function{name: name, engine: e, builtin: fn}), nil
	default:
		return runtime.NotFound("%s is a %s, not a function", name, obj.Type()), nil
	}
}

// scriptError classifies an error coming out of the VM. Exceptions thrown
// with raise keep their class.
func (e *Engine) scriptError(err error) error {
	raised := e.raised
	e.raised = nil

	var se *runtime.ScriptError
	if errors.As(err, &se) {
		return se
	}
	if raised != nil && strings.Contains(err.Error(), raised.Error()) {
		return raised.WithCause(err)
	}
	return runtime.ParseException(err.Error()).WithCause(err)
}

// result is the script-side view of a ResultRecord.
type result struct {
	m     *object.Map
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
	name    string
	engine  *Engine
	machine *vm.VirtualMachine
	fn      *object.Function
	builtin *object.Builtin
}

func (f *function) Name() string {
	return f.name
}

func (f *function) Call(ctx context.Context, args ...any) (runtime.Value, error) {
	if f.engine.finalized {
		return nil, runtime.ErrRuntimeFinalized
	}

	converted, err := toRisorArgs(args)
	if err != nil {
		return nil, err
	}

	f.engine.raised = nil
	if f.builtin != nil {
		out := f.builtin.Call(ctx, converted...)
		if errObj, ok := out.(*object.Error); ok {
			return nil, f.engine.scriptError(errObj.Value())
		}
		return value{obj: out}, nil
	}

	out, err := f.machine.Call(ctx, f.fn, converted)
	if err != nil {
		return nil, f.engine.scriptError(err)
	}
	return value{obj: out}, nil
}

// value adapts a Risor object to runtime.Value.
type value struct {
	obj object.Object
}

func (v value) IsNil() bool {
	return v.obj == nil || v.obj == object.Nil
}

func (v value) Truthy() bool {
	return !v.IsNil() && v.obj.IsTruthy()
}

func (v value) String() string {
	if v.IsNil() {
		return "nil"
	}
	return display(v.obj)
}

func (v value) Interface() any {
	return objectToGo(v.obj)
}

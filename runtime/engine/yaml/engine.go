// Package yaml hosts declarative validation registries: YAML files whose
// entries are expr-lang expressions. The registry file is re-read whenever
// it changes on disk.
package yaml

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr/vm"

	"github.com/BDNK1/scriptval/runtime"
)

const (
	EngineName      = "yaml"
	ModuleExtension = ".yaml"
)

var _ runtime.ScriptRuntime = (*Engine)(nil)

// Engine is a ScriptRuntime evaluating expr programs.
type Engine struct {
	opts      runtime.EngineOptions
	evaluator *Evaluator
	registry  *Registry
	modules   map[string]*Registry // nil entry: module not on the search path
	current   map[string]any
	callCtx   context.Context
	finalized bool
}

func NewEngine(opts runtime.EngineOptions) *Engine {
	e := &Engine{
		opts:    opts.WithDefaults(),
		modules: make(map[string]*Registry),
		current: map[string]any{},
	}
	e.evaluator = NewEvaluator(e.opts.Symbol, e.opts.Plugins, e.opts.Logger, e.context)
	return e
}

func (e *Engine) Name() string {
	return EngineName
}

// context returns the context of the expression being evaluated.
func (e *Engine) context() context.Context {
	if e.callCtx == nil {
		return context.Background()
	}
	return e.callCtx
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.finalized {
		return runtime.ErrRuntimeFinalized
	}
	if e.registry != nil {
		return nil
	}

	registry, err := LoadRegistry(e.opts.Script, e.evaluator)
	if err != nil {
		return fmt.Errorf("loading %s: %w", e.opts.Script, err)
	}
	e.registry = registry

	e.opts.Logger.DebugContext(ctx, "Script runtime initialized",
		"engine", EngineName,
		"script", e.opts.Script,
		"plugins", e.opts.Plugins.TaskNames())
	return nil
}

func (e *Engine) Finalize() error {
	e.registry = nil
	e.modules = make(map[string]*Registry)
	e.finalized = true
	return nil
}

func (e *Engine) Marshal(_ context.Context, r runtime.ResultRecord, paths []string) (runtime.ResultObject, error) {
	if e.registry == nil {
		return nil, runtime.ErrNotInitialized
	}

	fields := r.ScriptFields(paths)
	e.current = fields
	return &result{fields: fields, name: r.Name, appID: r.WorkloadID}, nil
}

// Resolve reloads the registry file first if it changed on disk. A registry
// that no longer compiles is an error.
func (e *Engine) Resolve(ctx context.Context, registry, key string) (runtime.Resolution, error) {
	if e.registry == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	if e.registry.Changed() {
		reloaded, err := LoadRegistry(e.opts.Script, e.evaluator)
		if err != nil {
			return runtime.Resolution{}, fmt.Errorf("reloading %s: %w", e.opts.Script, err)
		}
		e.opts.Logger.InfoContext(ctx, "Registry reloaded", "script", e.opts.Script)
		e.registry = reloaded
	}

	programs, ok := e.registry.programs[registry]
	if !ok {
		return runtime.NotFound("%s is not defined in %s", registry, e.opts.Script), nil
	}
	program, ok := programs[key]
	if !ok {
		return runtime.NotFound("no %s entry for app %s", registry, key), nil
	}
	return runtime.Found(&function{name: fmt.Sprintf("%s[%s]", registry, key), engine: e, program: program}), nil
}

func (e *Engine) ResolveHook(ctx context.Context, module, hook string) (runtime.Resolution, error) {
	if e.registry == nil {
		return runtime.Resolution{}, runtime.ErrNotInitialized
	}

	mod, ok := e.modules[module]
	if !ok {
		path, found := runtime.FindModule(e.opts.SearchPath, module, ModuleExtension)
		if found {
			loaded, err := LoadRegistry(path, e.evaluator)
			if err != nil {
				return runtime.Resolution{}, err
			}
			e.opts.Logger.DebugContext(ctx, "Loaded auxiliary module", "module", module, "path", path)
			mod = loaded
		}
		e.modules[module] = mod
	}
	if mod == nil {
		return runtime.NotFound("module %s not found on the search path", module), nil
	}

	program, ok := mod.hooks[hook]
	if !ok {
		return runtime.NotFound("%s has no %s", module, hook), nil
	}
	return runtime.Found(&function{name: module + "." + hook, engine: e, program: program}), nil
}

// result is the expression-side view of a ResultRecord.
type result struct {
	fields map[string]any
	name   string
	appID  runtime.WorkloadID
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
	program *vm.Program
}

func (f *function) Name() string {
	return f.name
}

func (f *function) Call(ctx context.Context, args ...any) (runtime.Value, error) {
	if f.engine.finalized {
		return nil, runtime.ErrRuntimeFinalized
	}

	values := make([]any, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case *result:
			values[i] = a.fields
		case *runtime.FileContext:
			paths, err := a.Paths()
			if err != nil {
				return nil, err
			}
			values[i] = paths
		default:
			values[i] = arg
		}
	}

	prev := f.engine.callCtx
	f.engine.callCtx = ctx
	defer func() { f.engine.callCtx = prev }()

	out, err := f.engine.evaluator.Run(f.program, f.engine.current, values)
	if err != nil {
		var se *runtime.ScriptError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, runtime.ParseException(err.Error()).WithCause(err)
	}
	return value{v: out}, nil
}

type value struct {
	v any
}

func (v value) IsNil() bool {
	return v.v == nil
}

func (v value) Truthy() bool {
	return truthy(v.v)
}

func (v value) String() string {
	if v.v == nil {
		return "nil"
	}
	return fmt.Sprint(v.v)
}

func (v value) Interface() any {
	return v.v
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"
)

// Fixed names of the script deployment convention.
const (
	RegistryValidators = "validators"
	RegistryCleaners   = "cleaners"

	HookUpdateProcess    = "update_process"
	HookContinueChildren = "continue_children"

	DefaultAuxModule    = "boinctools"
	DefaultResultSymbol = "current_result"
)

// ScriptRuntime is the process-wide embedded interpreter hosting user
// validation code. Implementations are not safe for concurrent use.
type ScriptRuntime interface {
	// Name identifies the engine in logs and diagnostics.
	Name() string

	// Initialize brings the interpreter up on first use. Later calls are no-ops.
	Initialize(ctx context.Context) error

	// Finalize tears the interpreter down. The runtime cannot be used afterwards.
	Finalize() error

	// Marshal builds the script-side proxy for a result and binds it under
	// the runtime's well-known symbol, replacing the previous binding.
	Marshal(ctx context.Context, r ResultRecord, paths []string) (ResultObject, error)

	// Resolve looks up registry[key] in the user script. Script state is
	// read on every call.
	Resolve(ctx context.Context, registry, key string) (Resolution, error)

	// ResolveHook looks up a callable in an auxiliary module found on the
	// module search path. A missing module or hook is NotFound. An error is
	// returned only when loading the module raised.
	ResolveHook(ctx context.Context, module, hook string) (Resolution, error)
}

// ResultObject is a result as seen by script code.
type ResultObject interface {
	Name() string
	WorkloadID() WorkloadID
}

// Callable is a resolved script function. Arguments are ResultObjects and
// *FileContexts, converted by the engine.
type Callable interface {
	Name() string
	Call(ctx context.Context, args ...any) (Value, error)
}

// Value is the return value of a script call.
type Value interface {
	IsNil() bool
	Truthy() bool
	String() string
	Interface() any
}

// Resolution is the outcome of a registry lookup: either a callable or the
// reason none was found.
type Resolution struct {
	callable Callable
	reason   string
}

func Found(c Callable) Resolution {
	return Resolution{callable: c}
}

func NotFound(format string, args ...any) Resolution {
	return Resolution{reason: fmt.Sprintf(format, args...)}
}

// Callable returns the resolved callable and whether one was found.
func (r Resolution) Callable() (Callable, bool) {
	return r.callable, r.callable != nil
}

func (r Resolution) Reason() string {
	if r.callable != nil {
		return ""
	}
	return r.reason
}

// EngineOptions configures a ScriptRuntime implementation.
type EngineOptions struct {
	// Script is the user script exposing the validators and cleaners registries.
	Script string
	// SearchPath lists directories searched for auxiliary modules.
	SearchPath []string
	// Symbol is the global name the current result is bound to.
	Symbol string
	// Sandbox removes the engine's default filesystem/os globals.
	Sandbox bool
	// Plugins are exposed to scripts as host functions. May be nil.
	Plugins *Container
	Logger  *slog.Logger
}

// WithDefaults fills unset options.
func (o EngineOptions) WithDefaults() EngineOptions {
	if o.Symbol == "" {
		o.Symbol = DefaultResultSymbol
	}
	if o.Plugins == nil {
		o.Plugins = NewContainer()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BDNK1/scriptval/runtime"

// Bridge implements the three validation callbacks on top of a script
// runtime. Per result the host calls Init, then any number of Compare, then
// Cleanup. Fatal failures come back as *FatalError and must abort the
// process; Validator does that.
type Bridge struct {
	rt         ScriptRuntime
	paths      PathResolver
	pool       *ContextPool
	translator *Translator
	logger     *slog.Logger
	auxModule  string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer    trace.Tracer
	callbacks metric.Int64Counter
	matches   metric.Int64Counter
	fatals    metric.Int64Counter
}

type BridgeOption func(*Bridge)

func WithPathResolver(r PathResolver) BridgeOption {
	return func(b *Bridge) {
		b.paths = r
	}
}

func WithTranslator(t *Translator) BridgeOption {
	return func(b *Bridge) {
		b.translator = t
	}
}

// WithAuxModule sets the module providing update_process and continue_children.
func WithAuxModule(module string) BridgeOption {
	return func(b *Bridge) {
		b.auxModule = module
	}
}

func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithTelemetry sets the providers for callback spans and counters. The
// global providers are used otherwise.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) BridgeOption {
	return func(b *Bridge) {
		b.tracerProvider = tp
		b.meterProvider = mp
	}
}

func NewBridge(rt ScriptRuntime, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		rt:         rt,
		paths:      StaticResolver{},
		pool:       NewContextPool(),
		translator: NewTranslator(),
		logger:     slog.Default(),
		auxModule:  DefaultAuxModule,

		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.tracer = b.tracerProvider.Tracer(instrumentationName)
	meter := b.meterProvider.Meter(instrumentationName)
	var err error
	if b.callbacks, err = meter.Int64Counter("scriptval.callbacks",
		metric.WithDescription("Validation callbacks invoked, by stage")); err != nil {
		otel.Handle(err)
	}
	if b.matches, err = meter.Int64Counter("scriptval.matches",
		metric.WithDescription("Result comparisons, by match decision")); err != nil {
		otel.Handle(err)
	}
	if b.fatals, err = meter.Int64Counter("scriptval.fatal",
		metric.WithDescription("Fatal classifications, by stage")); err != nil {
		otel.Handle(err)
	}
	return b
}

// Pool exposes the context pool, mostly for inspection.
func (b *Bridge) Pool() *ContextPool {
	return b.pool
}

// Runtime returns the script runtime the bridge drives.
func (b *Bridge) Runtime() ScriptRuntime {
	return b.rt
}

// Init prepares a result for comparison. The returned context is valid even
// when an error is returned. A non-fatal error means the output files could
// not be resolved.
func (b *Bridge) Init(ctx context.Context, r ResultRecord) (*FileContext, error) {
	ctx, span := b.start(ctx, StageInit, r)
	defer span.End()

	if stale, ok := b.pool.Live(r.Name); ok {
		b.logger.WarnContext(ctx, "Releasing stale file context", "result", r.Name)
		_ = b.pool.Release(stale)
	}

	paths, pathErr := b.paths.OutputFilePaths(ctx, r)
	if pathErr != nil {
		b.logger.ErrorContext(ctx, "Failed to resolve output files",
			"result", r.Name,
			"error", pathErr)
		paths = nil
		pathErr = fmt.Errorf("resolving output files of %s: %w", r.Name, pathErr)
	}
	fc := b.pool.Allocate(r.Name, paths)

	if err := b.rt.Initialize(ctx); err != nil {
		return fc, b.fatal(ctx, span, &FatalError{Stage: StageInit, Result: r.Name, Reason: "script runtime failed to initialize", Cause: err})
	}

	obj, err := b.rt.Marshal(ctx, r, paths)
	if err != nil {
		return fc, b.fatal(ctx, span, &FatalError{Stage: StageInit, Result: r.Name, Reason: "marshalling result", Cause: err})
	}

	b.logger.InfoContext(ctx, fmt.Sprintf("%s running app number %d", obj.Name(), obj.WorkloadID()))

	if err := b.updateProcess(ctx, r, obj); err != nil {
		return fc, b.fatal(ctx, span, err)
	}

	if pathErr != nil {
		span.SetStatus(codes.Error, pathErr.Error())
	}
	return fc, pathErr
}

// updateProcess runs the optional init hook. A module that fails to import
// is skipped like an absent one. Only recoverable exception classes raised
// by the hook itself are tolerated.
func (b *Bridge) updateProcess(ctx context.Context, r ResultRecord, obj ResultObject) error {
	res, err := b.rt.ResolveHook(ctx, b.auxModule, HookUpdateProcess)
	if err != nil {
		b.logger.WarnContext(ctx, "Skipping update_process: module failed to import",
			"module", b.auxModule,
			"result", r.Name,
			"error", err)
		return nil
	}

	hook, ok := res.Callable()
	if !ok {
		b.logger.DebugContext(ctx, "No update_process hook", "module", b.auxModule, "reason", res.Reason())
		return nil
	}

	b.logger.InfoContext(ctx, "Calling update_process", "result", r.Name)
	v, err := hook.Call(ctx, obj)
	return b.settleUpdate(ctx, r, b.translator.Hook(StageInit, r.Name, hook.Name(), v, err))
}

func (b *Bridge) settleUpdate(ctx context.Context, r ResultRecord, out Outcome) error {
	switch out.Kind {
	case OutcomeFatal:
		return out.Fatal
	case OutcomeRecoverable:
		b.logger.WarnContext(ctx, "update_process raised a recoverable exception",
			"result", r.Name,
			"kind", out.Exception.Kind,
			"error", out.Exception.Message)
	case OutcomeOK:
		if out.Value != nil && !out.Value.IsNil() {
			b.logger.InfoContext(ctx, fmt.Sprintf("Result: %s", out.Value.String()), "hook", HookUpdateProcess)
		}
	}
	return nil
}

// Compare reports whether r1 and r2 match according to validators[r1.appid].
// A missing validator, a raised exception or a nil return value is fatal.
func (b *Bridge) Compare(ctx context.Context, r1 ResultRecord, c1 *FileContext, r2 ResultRecord, c2 *FileContext) (bool, error) {
	ctx, span := b.start(ctx, StageCompare, r1)
	defer span.End()
	span.SetAttributes(attribute.String("result.other", r2.Name))

	paths1, err := c1.Paths()
	if err != nil {
		return false, fmt.Errorf("comparing %s: %w", r1.Name, err)
	}
	paths2, err := c2.Paths()
	if err != nil {
		return false, fmt.Errorf("comparing %s with %s: %w", r1.Name, r2.Name, err)
	}

	if err := b.rt.Initialize(ctx); err != nil {
		return false, b.fatal(ctx, span, &FatalError{Stage: StageCompare, Result: r1.Name, Reason: "script runtime failed to initialize", Cause: err})
	}

	// r1 is marshalled last so it stays bound as the current result.
	obj2, err := b.rt.Marshal(ctx, r2, paths2)
	if err != nil {
		return false, b.fatal(ctx, span, &FatalError{Stage: StageCompare, Result: r1.Name, Reason: "marshalling " + r2.Name, Cause: err})
	}
	obj1, err := b.rt.Marshal(ctx, r1, paths1)
	if err != nil {
		return false, b.fatal(ctx, span, &FatalError{Stage: StageCompare, Result: r1.Name, Reason: "marshalling result", Cause: err})
	}

	v, err := b.callRequired(ctx, StageCompare, r1, RegistryValidators, obj1, c1, obj2, c2)
	if err != nil {
		return false, b.fatal(ctx, span, err)
	}

	match := v.Truthy()
	b.matches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("match", match)))
	span.SetAttributes(attribute.Bool("match", match))
	return match, nil
}

// Cleanup runs cleaners[r.appid], then the best-effort continue_children
// hook, and releases the context. A failed hook is returned as *HookError
// after the context has been released. A missing cleaner, a raised exception
// or a nil return value is fatal, and the context is left to the abort.
func (b *Bridge) Cleanup(ctx context.Context, r ResultRecord, c *FileContext) error {
	ctx, span := b.start(ctx, StageCleanup, r)
	defer span.End()

	paths, err := c.Paths()
	if err != nil {
		return fmt.Errorf("cleaning %s: %w", r.Name, err)
	}

	if err := b.rt.Initialize(ctx); err != nil {
		return b.fatal(ctx, span, &FatalError{Stage: StageCleanup, Result: r.Name, Reason: "script runtime failed to initialize", Cause: err})
	}

	obj, err := b.rt.Marshal(ctx, r, paths)
	if err != nil {
		return b.fatal(ctx, span, &FatalError{Stage: StageCleanup, Result: r.Name, Reason: "marshalling result", Cause: err})
	}

	if _, err := b.callRequired(ctx, StageCleanup, r, RegistryCleaners, obj, c); err != nil {
		return b.fatal(ctx, span, err)
	}

	hookErr := b.continueChildren(ctx, r, obj)

	if err := b.pool.Release(c); err != nil {
		return err
	}

	if hookErr != nil {
		span.SetStatus(codes.Error, hookErr.Error())
	}
	return hookErr
}

// continueChildren runs the post-cleanup hook. Its failures never escalate.
func (b *Bridge) continueChildren(ctx context.Context, r ResultRecord, obj ResultObject) error {
	res, err := b.rt.ResolveHook(ctx, b.auxModule, HookContinueChildren)
	if err == nil {
		hook, ok := res.Callable()
		if !ok {
			b.logger.DebugContext(ctx, "No continue_children hook", "module", b.auxModule, "reason", res.Reason())
			return nil
		}
		_, err = hook.Call(ctx, obj)
	}

	out := b.translator.BestEffort(nil, err)
	if out.Kind != OutcomeRecoverable {
		return nil
	}

	b.logger.ErrorContext(ctx, fmt.Sprintf("%s.%s failed", b.auxModule, HookContinueChildren),
		"result", r.Name,
		"kind", out.Exception.Kind,
		"error", out.Exception.Message,
		"trace", out.Exception.Trace)
	return &HookError{
		Hook:   b.auxModule + "." + HookContinueChildren,
		Result: r.Name,
		Err:    out.Exception,
	}
}

// callRequired resolves registry[r.appid] and calls it. Every way of not
// getting a usable value back is fatal.
func (b *Bridge) callRequired(ctx context.Context, stage Stage, r ResultRecord, registry string, args ...any) (Value, error) {
	res, err := b.rt.Resolve(ctx, registry, r.WorkloadID.Key())
	if err != nil {
		return nil, &FatalError{Stage: stage, Result: r.Name, Reason: "reading " + registry, Cause: err}
	}

	fn, ok := res.Callable()
	if !ok {
		return nil, b.translator.Missing(stage, r.Name, res).Fatal
	}

	v, err := fn.Call(ctx, args...)
	out := b.translator.Required(stage, r.Name, fn.Name(), v, err)
	if out.Kind == OutcomeFatal {
		return nil, out.Fatal
	}
	return out.Value, nil
}

func (b *Bridge) start(ctx context.Context, stage Stage, r ResultRecord) (context.Context, trace.Span) {
	ctx = WithCallback(ctx, stage, r)
	ctx, span := b.tracer.Start(ctx, "scriptval."+string(stage), trace.WithAttributes(
		attribute.String("result.name", r.Name),
		attribute.Int64("result.appid", int64(r.WorkloadID)),
		attribute.String("engine", b.rt.Name()),
	))
	b.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	return ctx, span
}

func (b *Bridge) fatal(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	stage := ""
	if f, ok := err.(*FatalError); ok {
		stage = string(f.Stage)
	}
	b.fatals.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	return err
}

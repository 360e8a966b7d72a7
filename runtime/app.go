package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// App assembles the validator bridge: plugins, script runtime, callbacks
// and the abort path.
type App struct {
	Config    *Config
	Container *Container
	Runtime   ScriptRuntime
	Bridge    *Bridge
	Validator *Validator
	Executor  *Executor
	Logger    *slog.Logger
}

// AppOptions carries the collaborators supplied by the host.
type AppOptions struct {
	Resolver       PathResolver
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Abort          []AborterOption
}

func NewApp(cfg *Config, container *Container, rt ScriptRuntime, opts AppOptions) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = StaticResolver{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}

	bridge := NewBridge(rt,
		WithPathResolver(opts.Resolver),
		WithTranslator(NewTranslator(cfg.Recoverable...)),
		WithAuxModule(cfg.AuxModule),
		WithLogger(logger),
		WithTelemetry(opts.TracerProvider, opts.MeterProvider),
	)
	validator := NewValidator(bridge, NewAborter(rt, logger, opts.Abort...), logger)

	return &App{
		Config:    cfg,
		Container: container,
		Runtime:   rt,
		Bridge:    bridge,
		Validator: validator,
		Executor:  NewExecutor(validator, logger),
		Logger:    logger,
	}
}

// Start initializes the plugins. The script runtime itself comes up on the
// first callback.
func (a *App) Start(ctx context.Context) error {
	if err := a.Container.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing plugins: %w", err)
	}
	a.Logger.InfoContext(ctx, "Validator bridge started",
		"engine", a.Runtime.Name(),
		"script", a.Config.Script,
		"plugins", a.Container.TaskNames())
	return nil
}

// Stop finalizes the script runtime and shuts the plugins down.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.Runtime.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalizing script runtime: %w", err))
	}
	if err := a.Container.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down plugins: %w", err))
	}

	stats := a.Bridge.Pool().Stats()
	if stats.Live > 0 {
		a.Logger.WarnContext(ctx, "File contexts still live at shutdown", "live", stats.Live)
	}
	return errors.Join(errs...)
}

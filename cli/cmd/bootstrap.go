package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/BDNK1/scriptval/plugins/files"
	httpplugin "github.com/BDNK1/scriptval/plugins/http"
	"github.com/BDNK1/scriptval/plugins/postgres"
	"github.com/BDNK1/scriptval/runtime"
	"github.com/BDNK1/scriptval/runtime/engine/dsl"
	"github.com/BDNK1/scriptval/runtime/engine/lua"
	yamlengine "github.com/BDNK1/scriptval/runtime/engine/yaml"
	"github.com/BDNK1/scriptval/runtime/paths"
	"github.com/BDNK1/scriptval/runtime/telemetry"
)

// abortOptions are passed to the Aborter of every App built by a command.
var abortOptions []runtime.AborterOption

// bootstrap loads the configuration and assembles a started App. The
// returned stop function finalizes the runtime and flushes telemetry.
func bootstrap(ctx context.Context, path string, logOut io.Writer, abort ...runtime.AborterOption) (*runtime.App, func(context.Context) error, error) {
	cfg, err := runtime.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, err
	}
	logger := providers.Logger("scriptval", runtime.NewLogger(cfg.Log, logOut))
	slog.SetDefault(logger)

	container := runtime.NewContainer()
	if err := registerPlugins(container, cfg, logger); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, nil, err
	}

	rt, err := newEngine(cfg, container, logger)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, nil, err
	}

	resolver, err := paths.New(ctx, cfg.Paths)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, nil, fmt.Errorf("creating path resolver: %w", err)
	}

	app := runtime.NewApp(cfg, container, rt, runtime.AppOptions{
		Resolver:       resolver,
		Logger:         logger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
		Abort:          abort,
	})
	if err := app.Start(ctx); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, nil, err
	}

	stop := func(ctx context.Context) error {
		appErr := app.Stop(ctx)
		if err := providers.Shutdown(ctx); err != nil && appErr == nil {
			return err
		}
		return appErr
	}
	return app, stop, nil
}

// newEngine builds the script runtime selected by cfg.Engine.
func newEngine(cfg *runtime.Config, container *runtime.Container, logger *slog.Logger) (runtime.ScriptRuntime, error) {
	opts := cfg.EngineOptions(container, logger.With("engine", cfg.Engine))

	switch cfg.Engine {
	case dsl.EngineName:
		return dsl.NewEngine(opts), nil
	case lua.EngineName:
		return lua.NewEngine(opts), nil
	case yamlengine.EngineName:
		return yamlengine.NewEngine(opts), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

// registerPlugins registers the files plugin always and the http and
// postgres plugins when they have a section under plugins.
func registerPlugins(container *runtime.Container, cfg *runtime.Config, logger *slog.Logger) error {
	fp := &files.FilesPlugin{}
	if err := runtime.InitializeConfig(&fp.Config, cfg.Plugins["files"]); err != nil {
		return fmt.Errorf("plugin files: %w", err)
	}
	if err := container.RegisterPlugin("files", fp); err != nil {
		return err
	}

	if raw, ok := cfg.Plugins["http"]; ok {
		hp := &httpplugin.HTTPPlugin{}
		if err := runtime.InitializeConfig(&hp.Config, raw); err != nil {
			return fmt.Errorf("plugin http: %w", err)
		}
		if err := container.RegisterPlugin("http", hp); err != nil {
			return err
		}
	}

	if raw, ok := cfg.Plugins["postgres"]; ok {
		pp := &postgres.PostgresPlugin{Logger: logger.With("plugin", "postgres")}
		if err := runtime.InitializeConfig(&pp.Config, raw); err != nil {
			return fmt.Errorf("plugin postgres: %w", err)
		}
		if err := container.RegisterPlugin("postgres", pp); err != nil {
			return err
		}
	}

	for name := range cfg.Plugins {
		switch name {
		case "files", "http", "postgres":
		default:
			logger.Warn("Ignoring configuration of unknown plugin", "plugin", name)
		}
	}
	return nil
}

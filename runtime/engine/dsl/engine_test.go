package dsl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/scriptval/runtime"
)

const validatorScript = `
validators := {
    "42": func(result, paths, other, other_paths) {
        return result.name == "wu_123" && result.appid == 42 && paths[0] == other_paths[0]
    },
    "7": func(result, paths, other, other_paths) {
        return current_result.name
    },
    "8": func(result, paths, other, other_paths) {
        return nil
    }
}

cleaners := {
    "42": func(result, paths) {
        return paths[0]
    }
}
`

const auxScript = `
func update_process(result) {
    raise("NoSuchProcess", "process for " + result.name + " is gone")
}

func continue_children(result) {
    return result.appid
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestEngine(t *testing.T, script string) *Engine {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "boinctools.risor", auxScript)

	e := NewEngine(runtime.EngineOptions{
		Script:     writeFile(t, dir, "validators.risor", script),
		SearchPath: []string{dir},
	})
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func TestEngine_MarshalRoundTrip(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	r := runtime.ResultRecord{Name: "wu_123", WorkloadID: 42}
	obj, err := e.Marshal(ctx, r, []string{"/upload/a"})
	require.NoError(t, err)
	assert.Equal(t, "wu_123", obj.Name())
	assert.Equal(t, runtime.WorkloadID(42), obj.WorkloadID())

	res, err := e.Resolve(ctx, runtime.RegistryValidators, "42")
	require.NoError(t, err)
	fn, ok := res.Callable()
	require.True(t, ok)

	pool := runtime.NewContextPool()
	c := pool.Allocate(r.Name, []string{"/upload/a"})

	v, err := fn.Call(ctx, obj, c, obj, c)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestEngine_CurrentResultIsLastMarshalled(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	other, err := e.Marshal(ctx, runtime.ResultRecord{Name: "wu_2", WorkloadID: 7}, nil)
	require.NoError(t, err)
	current, err := e.Marshal(ctx, runtime.ResultRecord{Name: "wu_1", WorkloadID: 7}, nil)
	require.NoError(t, err)

	res, err := e.Resolve(ctx, runtime.RegistryValidators, "7")
	require.NoError(t, err)
	fn, ok := res.Callable()
	require.True(t, ok)

	pool := runtime.NewContextPool()
	v, err := fn.Call(ctx, current, pool.Allocate("wu_1", nil), other, pool.Allocate("wu_2", nil))
	require.NoError(t, err)
	assert.Equal(t, "wu_1", v.String())
}

func TestEngine_NilReturn(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	obj, err := e.Marshal(ctx, runtime.ResultRecord{Name: "wu_8", WorkloadID: 8}, nil)
	require.NoError(t, err)

	res, err := e.Resolve(ctx, runtime.RegistryValidators, "8")
	require.NoError(t, err)
	fn, _ := res.Callable()

	c := runtime.NewContextPool().Allocate("wu_8", nil)
	v, err := fn.Call(ctx, obj, c, obj, c)
	require.NoError(t, err)
	assert.True(t, v.IsNil())
	assert.False(t, v.Truthy())
}

func TestEngine_Resolve(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	tests := []struct {
		name     string
		registry string
		key      string
		found    bool
	}{
		{"validator present", runtime.RegistryValidators, "42", true},
		{"cleaner present", runtime.RegistryCleaners, "42", true},
		{"unknown workload", runtime.RegistryValidators, "99", false},
		{"undefined registry", "missing", "42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Resolve(ctx, tt.registry, tt.key)
			require.NoError(t, err)
			_, ok := res.Callable()
			assert.Equal(t, tt.found, ok)
			if !tt.found {
				assert.NotEmpty(t, res.Reason())
			}
		})
	}
}

func TestEngine_ReleasedContextArgument(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	r := runtime.ResultRecord{Name: "wu_123", WorkloadID: 42}
	obj, err := e.Marshal(ctx, r, nil)
	require.NoError(t, err)

	pool := runtime.NewContextPool()
	c := pool.Allocate(r.Name, []string{"/upload/a"})
	require.NoError(t, pool.Release(c))

	res, err := e.Resolve(ctx, runtime.RegistryCleaners, "42")
	require.NoError(t, err)
	fn, _ := res.Callable()

	_, err = fn.Call(ctx, obj, c)
	assert.ErrorIs(t, err, runtime.ErrContextReleased)
}

func TestEngine_HookRaisesClassifiedException(t *testing.T) {
	e := newTestEngine(t, validatorScript)
	ctx := context.Background()

	obj, err := e.Marshal(ctx, runtime.ResultRecord{Name: "wu_5", WorkloadID: 5}, nil)
	require.NoError(t, err)

	res, err := e.ResolveHook(ctx, runtime.DefaultAuxModule, runtime.HookUpdateProcess)
	require.NoError(t, err)
	hook, ok := res.Callable()
	require.True(t, ok)

	_, err = hook.Call(ctx, obj)
	require.Error(t, err)

	var se *runtime.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "NoSuchProcess", se.Kind)
	assert.True(t, runtime.NewTranslator().IsRecoverable(err))

	res, err = e.ResolveHook(ctx, runtime.DefaultAuxModule, runtime.HookContinueChildren)
	require.NoError(t, err)
	hook, ok = res.Callable()
	require.True(t, ok)

	v, err := hook.Call(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Interface())
}

func TestEngine_MissingModuleIsNotFound(t *testing.T) {
	e := newTestEngine(t, validatorScript)

	res, err := e.ResolveHook(context.Background(), "site.hooks", runtime.HookUpdateProcess)
	require.NoError(t, err)
	_, ok := res.Callable()
	assert.False(t, ok)
	assert.Contains(t, res.Reason(), "site.hooks")
}

type echoPlugin struct{}

func (p *echoPlugin) Shout(inv *runtime.Invocation, args map[string]any) (map[string]any, error) {
	text, _ := args["text"].(string)
	return map[string]any{"text": text + "!", "stage": string(inv.Stage)}, nil
}

func TestEngine_PluginCall(t *testing.T) {
	container := runtime.NewContainer()
	require.NoError(t, container.RegisterPlugin("echo", &echoPlugin{}))

	dir := t.TempDir()
	script := `
validators := {
    "1": func(result, paths, other, other_paths) {
        out := echo.shout({text: result.name})
        return out.text + " " + out.stage
    }
}
`
	e := NewEngine(runtime.EngineOptions{
		Script:  writeFile(t, dir, "validators.risor", script),
		Plugins: container,
	})
	r := runtime.ResultRecord{Name: "wu_1", WorkloadID: 1}
	ctx := runtime.WithCallback(context.Background(), runtime.StageCompare, r)
	require.NoError(t, e.Initialize(ctx))

	obj, err := e.Marshal(ctx, r, nil)
	require.NoError(t, err)
	res, err := e.Resolve(ctx, runtime.RegistryValidators, "1")
	require.NoError(t, err)
	fn, _ := res.Callable()

	c := runtime.NewContextPool().Allocate(r.Name, nil)
	v, err := fn.Call(ctx, obj, c, obj, c)
	require.NoError(t, err)
	assert.Equal(t, "wu_1! compare", v.String())
}

func TestEngine_Sandboxed(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(runtime.EngineOptions{
		Script:  writeFile(t, dir, "validators.risor", `x := os.getenv("PATH")`),
		Sandbox: true,
	})

	assert.Error(t, e.Initialize(context.Background()))
}

func TestEngine_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(runtime.EngineOptions{Script: writeFile(t, dir, "validators.risor", validatorScript)})
	ctx := context.Background()

	_, err := e.Marshal(ctx, runtime.ResultRecord{Name: "wu_1"}, nil)
	assert.ErrorIs(t, err, runtime.ErrNotInitialized)

	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Finalize())

	assert.ErrorIs(t, e.Initialize(ctx), runtime.ErrRuntimeFinalized)
}

func TestEngine_SyntaxErrorFailsInitialize(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(runtime.EngineOptions{Script: writeFile(t, dir, "validators.risor", `validators := {`)})

	err := e.Initialize(context.Background())
	require.Error(t, err)

	var se *runtime.ScriptError
	assert.ErrorAs(t, err, &se)
}

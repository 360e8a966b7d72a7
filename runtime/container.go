package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Container holds the plugins exposed to scripts and the tasks discovered on them.
type Container struct {
	Tasks   map[string]Task
	plugins map[string]any
	order   []string // registration order, for lifecycle calls
	started []string // plugins whose Initialize succeeded
}

func NewContainer() *Container {
	return &Container{
		Tasks:   make(map[string]Task),
		plugins: make(map[string]any),
	}
}

func (c *Container) GetTask(name string) Task {
	task, ok := c.Tasks[name]
	if !ok {
		return nil
	}
	return task
}

// RegisterPlugin registers a plugin instance and discovers its tasks.
func (c *Container) RegisterPlugin(pluginName string, plugin any) error {
	if plugin == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	if strings.Contains(pluginName, ".") || pluginName == "" {
		return fmt.Errorf("invalid plugin name %q", pluginName)
	}
	if _, exists := c.plugins[pluginName]; exists {
		return fmt.Errorf("plugin %q already registered", pluginName)
	}

	c.plugins[pluginName] = plugin
	c.order = append(c.order, pluginName)

	pluginType := reflect.TypeOf(plugin)
	pluginValue := reflect.ValueOf(plugin)

	for i := 0; i < pluginType.NumMethod(); i++ {
		method := pluginType.Method(i)

		if !method.IsExported() {
			continue
		}

		// Task name: plugin_name.methodName (first letter lowercased)
		taskName := fmt.Sprintf("%s.%s", pluginName, toLowerFirst(method.Name))

		switch {
		case isValidTaskSignature(method.Type):
			c.Tasks[taskName] = &pluginTaskWrapper{plugin: pluginValue, method: method}
		case isTypedTaskSignature(method.Type):
			c.Tasks[taskName] = &typedTaskWrapper{plugin: pluginValue, method: method}
		}
	}

	return nil
}

// GetPlugin returns a plugin instance by name
func (c *Container) GetPlugin(name string) any {
	return c.plugins[name]
}

// Grouped returns tasks keyed by plugin, then method:
//
//	{"files": {"exists": ..., "checksum": ...}, "http": {"request": ...}}
func (c *Container) Grouped() map[string]map[string]Task {
	grouped := make(map[string]map[string]Task)
	for taskName, task := range c.Tasks {
		pluginName, methodName, ok := strings.Cut(taskName, ".")
		if !ok {
			continue
		}
		if grouped[pluginName] == nil {
			grouped[pluginName] = make(map[string]Task)
		}
		grouped[pluginName][methodName] = task
	}
	return grouped
}

// TaskNames returns the sorted names of all tasks.
func (c *Container) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize calls Initialize on all plugins implementing Initializer, in
// registration order. It stops at the first failure.
func (c *Container) Initialize(ctx context.Context) error {
	for _, name := range c.order {
		if init, ok := c.plugins[name].(Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				return fmt.Errorf("plugin %s initialization failed: %w", name, err)
			}
		}
		c.started = append(c.started, name)
	}
	return nil
}

// Shutdown calls Shutdown on started plugins in reverse order.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.started) - 1; i >= 0; i-- {
		name := c.started[i]
		if shutdowner, ok := c.plugins[name].(Shutdowner); ok {
			if err := shutdowner.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s shutdown failed: %w", name, err))
			}
		}
	}
	c.started = nil

	return errors.Join(errs...)
}

var (
	invocationPtrType = reflect.TypeOf((*Invocation)(nil))
	mapType           = reflect.TypeOf(map[string]any(nil))
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
)

// isValidTaskSignature checks for the map-based task signature
// func(inv *Invocation, args map[string]any) (map[string]any, error)
func isValidTaskSignature(methodType reflect.Type) bool {
	if methodType.NumIn() != 3 || methodType.NumOut() != 2 {
		return false
	}

	return methodType.In(1) == invocationPtrType &&
		methodType.In(2) == mapType &&
		methodType.Out(0) == mapType &&
		methodType.Out(1) == errorType
}

// isTypedTaskSignature checks for the struct-based task signature
// func(inv *Invocation, input In) (Out, error) with In and Out structs
func isTypedTaskSignature(methodType reflect.Type) bool {
	if methodType.NumIn() != 3 || methodType.NumOut() != 2 {
		return false
	}

	return methodType.In(1) == invocationPtrType &&
		methodType.In(2).Kind() == reflect.Struct &&
		methodType.Out(0).Kind() == reflect.Struct &&
		methodType.Out(1) == errorType
}

// toLowerFirst converts first character of string to lowercase
func toLowerFirst(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// pluginTaskWrapper wraps a map-based plugin method
type pluginTaskWrapper struct {
	plugin reflect.Value
	method reflect.Method
}

func (w *pluginTaskWrapper) Execute(inv *Invocation, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	results := w.method.Func.Call([]reflect.Value{
		w.plugin,
		reflect.ValueOf(inv),
		reflect.ValueOf(args),
	})

	resultMap, _ := results[0].Interface().(map[string]any)

	var err error
	if !results[1].IsNil() {
		err = results[1].Interface().(error)
	}

	return resultMap, err
}

// typedTaskWrapper decodes args into the method's input struct, validates
// it, and encodes the output struct back into a map.
type typedTaskWrapper struct {
	plugin reflect.Value
	method reflect.Method
}

func (w *typedTaskWrapper) Execute(inv *Invocation, args map[string]any) (map[string]any, error) {
	inputType := w.method.Type.In(2)
	input := reflect.New(inputType)

	if err := mapToStruct(args, input.Interface()); err != nil {
		return nil, fmt.Errorf("invalid input for %s: %w", w.method.Name, err)
	}
	if err := validateConfig(input.Elem().Interface()); err != nil {
		return nil, fmt.Errorf("invalid input for %s: %w", w.method.Name, err)
	}

	results := w.method.Func.Call([]reflect.Value{
		w.plugin,
		reflect.ValueOf(inv),
		input.Elem(),
	})

	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}

	output, err := structToMap(results[0].Interface())
	if err != nil {
		return nil, fmt.Errorf("invalid output from %s: %w", w.method.Name, err)
	}
	return output, nil
}

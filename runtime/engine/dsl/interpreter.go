package dsl

import (
	"github.com/risor-io/risor/object"

	"github.com/BDNK1/scriptval/runtime"
)

// toRisorArgs converts the arguments of a registry call. Results become
// their proxy maps and file contexts become lists of path strings.
func toRisorArgs(args []any) ([]object.Object, error) {
	out := make([]object.Object, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case *result:
			out[i] = a.m
		case *runtime.FileContext:
			paths, err := a.Paths()
			if err != nil {
				return nil, err
			}
			out[i] = pathList(paths)
		default:
			out[i] = goValueToObject(arg)
		}
	}
	return out, nil
}

func pathList(paths []string) *object.List {
	items := make([]object.Object, len(paths))
	for i, p := range paths {
		items[i] = object.NewString(p)
	}
	return object.NewList(items)
}

// fieldsToMap builds a result proxy map from runtime.ResultRecord.ScriptFields.
func fieldsToMap(fields map[string]any) *object.Map {
	items := make(map[string]object.Object, len(fields))
	for k, v := range fields {
		if paths, ok := v.([]string); ok {
			items[k] = pathList(paths)
			continue
		}
		items[k] = goValueToObject(v)
	}
	return object.NewMap(items)
}

// goValueToObject converts a Go value to a Risor object.Object.
func goValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	if obj, ok := v.(object.Object); ok {
		return obj
	}
	switch val := v.(type) {
	case []string:
		return pathList(val)
	case []any:
		items := make([]object.Object, len(val))
		for i, item := range val {
			items[i] = goValueToObject(item)
		}
		return object.NewList(items)
	case map[string]any:
		items := make(map[string]object.Object, len(val))
		for k, item := range val {
			items[k] = goValueToObject(item)
		}
		return object.NewMap(items)
	}
	obj := object.FromGoType(v)
	if obj == nil {
		return object.Nil
	}
	return obj
}

// objectToGo recursively converts a Risor object.Object to a native Go value.
func objectToGo(obj object.Object) any {
	if obj == nil {
		return nil
	}

	switch o := obj.(type) {
	case *object.Map:
		goMap := make(map[string]any)
		for k, v := range o.Value() {
			goMap[k] = objectToGo(v)
		}
		return goMap
	case *object.List:
		items := o.Value()
		goSlice := make([]any, len(items))
		for i, v := range items {
			goSlice[i] = objectToGo(v)
		}
		return goSlice
	case *object.NilType:
		return nil
	default:
		// String, Int, Float, Bool: Interface() returns the native Go value
		return obj.Interface()
	}
}

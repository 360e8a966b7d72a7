package yaml

import (
	"fmt"
	"os"
	"time"

	"github.com/expr-lang/expr/vm"
	goyaml "gopkg.in/yaml.v3"

	"github.com/BDNK1/scriptval/runtime"
)

// Registry is a compiled registry file:
//
//	validators:
//	  42: result.name != "" && files_equal({"a": paths[0], "b": other_paths[0]}).equal
//	cleaners:
//	  42: all(paths, files_remove({"path": #}).removed)
//
// Hook modules use the same loader with top-level hook names:
//
//	update_process: 'raise("NoSuchProcess", "no process for " + result.name)'
type Registry struct {
	path     string
	modTime  time.Time
	size     int64
	programs map[string]map[string]*vm.Program
	hooks    map[string]*vm.Program
}

// LoadRegistry reads and compiles every expression in a registry file.
// Top-level string values are hooks; top-level maps are registries.
func LoadRegistry(path string, evaluator *Evaluator) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading registry: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading registry: %w", err)
	}

	var raw map[string]any
	if err := goyaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML: %w", err)
	}

	r := &Registry{
		path:     path,
		modTime:  info.ModTime(),
		size:     info.Size(),
		programs: make(map[string]map[string]*vm.Program),
		hooks:    make(map[string]*vm.Program),
	}

	for name, v := range raw {
		switch entry := v.(type) {
		case string:
			program, err := evaluator.Compile(entry)
			if err != nil {
				return nil, compileError(name, err)
			}
			r.hooks[name] = program
		case map[string]any, map[any]any:
			entries := stringKeys(entry)
			programs := make(map[string]*vm.Program, len(entries))
			for key, source := range entries {
				text, ok := source.(string)
				if !ok {
					text = fmt.Sprint(source)
				}
				program, err := evaluator.Compile(text)
				if err != nil {
					return nil, compileError(name+"["+key+"]", err)
				}
				programs[key] = program
			}
			r.programs[name] = programs
		default:
			return nil, fmt.Errorf("%s: %s must be an expression or a map of expressions", path, name)
		}
	}
	return r, nil
}

// stringKeys normalizes a decoded mapping; workload ids written as
// integers decode as map[any]any.
func stringKeys(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprint(k)] = item
		}
		return out
	default:
		return nil
	}
}

func compileError(name string, err error) error {
	return runtime.NewScriptError("SyntaxError", fmt.Sprintf("%s: %v", name, err)).WithCause(err)
}

// Changed reports whether the file on disk differs from the loaded one.
func (r *Registry) Changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(r.modTime) || info.Size() != r.size
}

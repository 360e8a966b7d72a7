package plugin

import "github.com/BDNK1/scriptval/runtime"

// Invocation is passed to every task method. It carries the lifecycle stage
// and result of the callback that triggered the script call.
//
//	func (p *HTTPPlugin) Request(inv *plugin.Invocation, args plugin.Input) (plugin.Output, error) {
//	    req, err := http.NewRequestWithContext(inv, "GET", url, nil)
//	    ...
//	}
type Invocation = runtime.Invocation

// Input holds the arguments a script passed to a map-based task. Script
// maps, lists, strings and numbers arrive as their Go equivalents.
type Input = map[string]any

// Output is returned to the script as a map.
type Output = map[string]any

// TaskExecutor is the wrapper the framework builds around discovered task
// methods. Plugin authors do not implement it.
type TaskExecutor = runtime.Task

// WithinBoundary fails when target escapes the boundary directory. Plugins
// touching the filesystem on behalf of scripts use it to confine paths.
func WithinBoundary(boundary, target string) error {
	return runtime.ValidatePathWithinBoundary(boundary, target)
}

// Package plugin is the surface plugin authors build against.
//
// Plugins expose host functionality to validation scripts. Every exported
// method with a task signature becomes a script function named after the
// plugin and the method:
//
//	type FilesPlugin struct{}
//
//	// files.size(path) in scripts
//	func (p *FilesPlugin) Size(inv *plugin.Invocation, args plugin.Input) (plugin.Output, error)
//
// Typed tasks take and return structs. Inputs are decoded from the script
// arguments by json tag and checked against their validate tags:
//
//	type SizeInput struct {
//	    Path string `json:"path" validate:"required"`
//	}
//
//	func (p *FilesPlugin) Size(inv *plugin.Invocation, in SizeInput) (SizeOutput, error)
//
// # Configuration
//
// A plugin's Config struct is filled from the plugins section of the
// scriptval config. Defaults, environment references and validation are
// handled by the framework:
//
//	type Config struct {
//	    Timeout time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
//	}
//
// # Lifecycle
//
// Plugins implementing Initializer are started before the first callback,
// in registration order. Shutdowner is called in reverse order when the
// validator exits.
//
// # Invocation
//
// The Invocation tells the plugin which lifecycle stage and result the
// calling script is handling. It implements context.Context; pass it to any
// I/O the task performs so cancellation reaches it.
package plugin

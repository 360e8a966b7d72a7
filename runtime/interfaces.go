package runtime

import "context"

// Initializer interface allows plugins to perform startup initialization.
// Plugins implementing this interface have Initialize called when the App
// starts.
type Initializer interface {
	// Initialize is called once, before any script can call the plugin.
	// Use this to establish connections, initialize clients, etc.
	// Config is already set and validated on the plugin struct.
	Initialize(ctx context.Context) error
}

// Shutdowner interface allows plugins to release resources.
// Plugins implementing this interface have Shutdown called when the App
// stops, after the script runtime is finalized.
type Shutdowner interface {
	// Shutdown is called once, in reverse registration order.
	// Use this to close connections, cleanup resources, etc.
	Shutdown(ctx context.Context) error
}

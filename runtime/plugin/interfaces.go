package plugin

import (
	"github.com/BDNK1/scriptval/runtime"
)

// Initializer is implemented by plugins that need setup (connections,
// clients) before scripts call them. A failing Initialize stops the
// validator from starting.
type Initializer = runtime.Initializer

// Shutdowner is implemented by plugins holding resources. Shutdown runs in
// reverse registration order.
type Shutdowner = runtime.Shutdowner

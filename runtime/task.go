package runtime

// Task is a host function callable from script code as <plugin>.<method>.
type Task interface {
	Execute(*Invocation, map[string]any) (map[string]any, error)
}

package runtime

import (
	"errors"
	"fmt"
)

// ErrContextReleased is returned when a released FileContext is used again.
var ErrContextReleased = errors.New("file context already released")

// FileContext is the per-result handle created by init and released by
// cleanup. It owns the output file paths of one result. The host stores and
// forwards it without looking inside.
type FileContext struct {
	id       uint64
	result   string
	paths    []string
	released bool
}

// Result returns the name of the result the context was allocated for.
func (c *FileContext) Result() string {
	return c.result
}

// Paths returns a copy of the output file paths.
func (c *FileContext) Paths() ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("nil file context")
	}
	if c.released {
		return nil, fmt.Errorf("result %s: %w", c.result, ErrContextReleased)
	}
	paths := make([]string, len(c.paths))
	copy(paths, c.paths)
	return paths, nil
}

// Released reports whether cleanup already consumed the context.
func (c *FileContext) Released() bool {
	return c.released
}

// PoolStats counts context allocations and releases.
type PoolStats struct {
	Allocated int
	Released  int
	Live      int
}

// ContextPool hands out FileContexts and tracks which ones are live.
// It is not safe for concurrent use; the bridge is single-threaded.
type ContextPool struct {
	next      uint64
	live      map[string]*FileContext
	allocated int
	released  int
}

func NewContextPool() *ContextPool {
	return &ContextPool{
		live: make(map[string]*FileContext),
	}
}

// Allocate creates a live context for the named result.
func (p *ContextPool) Allocate(result string, paths []string) *FileContext {
	p.next++
	owned := make([]string, len(paths))
	copy(owned, paths)

	c := &FileContext{
		id:     p.next,
		result: result,
		paths:  owned,
	}
	p.live[result] = c
	p.allocated++
	return c
}

// Live returns the live context held for a result, if any.
func (p *ContextPool) Live(result string) (*FileContext, bool) {
	c, ok := p.live[result]
	return c, ok
}

// Release frees a context. A second release of the same context fails with
// ErrContextReleased and does not count.
func (p *ContextPool) Release(c *FileContext) error {
	if c == nil {
		return fmt.Errorf("nil file context")
	}
	if c.released {
		return fmt.Errorf("result %s: %w", c.result, ErrContextReleased)
	}

	c.released = true
	c.paths = nil
	if current, ok := p.live[c.result]; ok && current.id == c.id {
		delete(p.live, c.result)
	}
	p.released++
	return nil
}

func (p *ContextPool) Stats() PoolStats {
	return PoolStats{
		Allocated: p.allocated,
		Released:  p.released,
		Live:      len(p.live),
	}
}

package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var _ context.Context = &Invocation{}

type callbackKey struct{}

// callback describes the lifecycle callback a context belongs to.
type callback struct {
	id     string
	stage  Stage
	result ResultRecord
}

// WithCallback tags ctx with the stage and result of a lifecycle callback.
// Engines read it back through NewInvocation when scripts call plugins.
func WithCallback(ctx context.Context, stage Stage, r ResultRecord) context.Context {
	return context.WithValue(ctx, callbackKey{}, callback{
		id:     uuid.New().String(),
		stage:  stage,
		result: r,
	})
}

// Invocation is passed to every plugin task called from script code.
// It implements context.Context so plugins can hand it to I/O calls.
type Invocation struct {
	ID        string
	Stage     Stage
	Result    ResultRecord
	Container *Container
	ctx       context.Context
}

// NewInvocation builds the invocation for a plugin call made under ctx.
func NewInvocation(ctx context.Context, container *Container) *Invocation {
	if ctx == nil {
		ctx = context.Background()
	}
	inv := &Invocation{
		Container: container,
		ctx:       ctx,
	}
	if cb, ok := ctx.Value(callbackKey{}).(callback); ok {
		inv.ID = cb.id
		inv.Stage = cb.stage
		inv.Result = cb.result
	} else {
		inv.ID = uuid.New().String()
	}
	return inv
}

// context.Context implementation, delegating to the callback's context.

func (i *Invocation) Deadline() (deadline time.Time, ok bool) {
	return i.ctx.Deadline()
}

func (i *Invocation) Done() <-chan struct{} {
	return i.ctx.Done()
}

func (i *Invocation) Err() error {
	return i.ctx.Err()
}

func (i *Invocation) Value(key any) any {
	return i.ctx.Value(key)
}

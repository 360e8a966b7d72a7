package runtime

import (
	"context"
	"errors"
	"log/slog"
)

// Callback statuses returned to the validation host.
const (
	StatusOK     = 0
	StatusFailed = 1
)

// Validator is the contract the validation host calls. It maps bridge errors
// onto status codes and is the only place that aborts the process.
type Validator struct {
	bridge  *Bridge
	aborter *Aborter
	logger  *slog.Logger
}

func NewValidator(bridge *Bridge, aborter *Aborter, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		bridge:  bridge,
		aborter: aborter,
		logger:  logger,
	}
}

// InitResult always hands back a context, even with a non-zero status.
// Besides a fatal abort, status 1 is returned when the result's output
// files could not be resolved; the context is then empty but must still be
// passed to CleanupResult.
func (v *Validator) InitResult(ctx context.Context, r ResultRecord) (int, *FileContext) {
	c, err := v.bridge.Init(ctx, r)
	if err != nil {
		return v.status(ctx, err), c
	}
	return StatusOK, c
}

func (v *Validator) CompareResults(ctx context.Context, r1 ResultRecord, c1 *FileContext, r2 ResultRecord, c2 *FileContext) (int, bool) {
	match, err := v.bridge.Compare(ctx, r1, c1, r2, c2)
	if err != nil {
		return v.status(ctx, err), false
	}
	return StatusOK, match
}

func (v *Validator) CleanupResult(ctx context.Context, r ResultRecord, c *FileContext) int {
	if err := v.bridge.Cleanup(ctx, r, c); err != nil {
		return v.status(ctx, err)
	}
	return StatusOK
}

// Bridge returns the underlying callback bridge.
func (v *Validator) Bridge() *Bridge {
	return v.bridge
}

func (v *Validator) status(ctx context.Context, err error) int {
	if IsFatal(err) {
		v.aborter.Abort(ctx, err)
		return FatalExitStatus
	}

	// Hook failures are already logged where they happen.
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		v.logger.ErrorContext(ctx, "Validation callback failed", "error", err)
	}
	return StatusFailed
}

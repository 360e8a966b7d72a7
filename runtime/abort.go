package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FatalExitStatus is the process exit status after a fatal classification.
const FatalExitStatus = 1

// Aborter terminates the process after a fatal error: it prints the
// diagnostic, finalizes the script runtime and exits.
type Aborter struct {
	rt     ScriptRuntime
	logger *slog.Logger
	out    io.Writer
	exit   func(code int)
}

type AborterOption func(*Aborter)

// WithExit replaces os.Exit. Tests use it to observe aborts.
func WithExit(exit func(code int)) AborterOption {
	return func(a *Aborter) {
		a.exit = exit
	}
}

// WithDiagnostics redirects the diagnostic output (stderr by default).
func WithDiagnostics(w io.Writer) AborterOption {
	return func(a *Aborter) {
		a.out = w
	}
}

func NewAborter(rt ScriptRuntime, logger *slog.Logger, opts ...AborterOption) *Aborter {
	a := &Aborter{
		rt:     rt,
		logger: logger,
		out:    os.Stderr,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Abort does not return unless the exit function does.
func (a *Aborter) Abort(ctx context.Context, err error) {
	fmt.Fprintf(a.out, "%v\nExiting.\n", err)

	var se *ScriptError
	if errors.As(err, &se) && se.Trace != "" {
		fmt.Fprintln(a.out, se.Trace)
	}

	a.logger.ErrorContext(ctx, "Fatal validation error, aborting",
		"engine", a.rt.Name(),
		"error", err)

	if ferr := a.rt.Finalize(); ferr != nil {
		a.logger.ErrorContext(ctx, "Failed to finalize script runtime", "error", ferr)
	}

	a.exit(FatalExitStatus)
}

package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotInitialized   = errors.New("script runtime not initialized")
	ErrRuntimeFinalized = errors.New("script runtime finalized")
)

// DefaultExceptionKind is used when a raised error carries no class name.
const DefaultExceptionKind = "Error"

// ScriptError is an exception raised by script code.
type ScriptError struct {
	Kind    string // exception class, e.g. "NoSuchProcess"
	Message string
	Trace   string // script stack trace, if the engine provides one
	Cause   error
}

func NewScriptError(kind, message string) *ScriptError {
	if kind == "" {
		kind = DefaultExceptionKind
	}
	return &ScriptError{Kind: kind, Message: message}
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// Unwrap returns the engine error for errors.Is and errors.As
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// WithTrace attaches a script stack trace
func (e *ScriptError) WithTrace(trace string) *ScriptError {
	e.Trace = trace
	return e
}

// WithCause attaches the underlying engine error
func (e *ScriptError) WithCause(err error) *ScriptError {
	e.Cause = err
	return e
}

// exceptionPattern matches "Kind: message" or a bare "Kind", where Kind is
// a CamelCase class name, optionally preceded by a "chunk:line:" position.
var exceptionPattern = regexp.MustCompile(`^(?:\S+:\d+:\s*)?([A-Z][A-Za-z0-9_]*)(?::\s*(.*))?$`)

// ParseException splits the text of a raised error into class and message.
// Text without a recognizable class gets DefaultExceptionKind.
func ParseException(text string) *ScriptError {
	first, rest, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if m := exceptionPattern.FindStringSubmatch(first); m != nil {
		e := NewScriptError(m[1], m[2])
		return e.WithTrace(strings.TrimSpace(rest))
	}
	return NewScriptError(DefaultExceptionKind, first).WithTrace(strings.TrimSpace(rest))
}

// Stage names a lifecycle callback.
type Stage string

const (
	StageInit    Stage = "init"
	StageCompare Stage = "compare"
	StageCleanup Stage = "cleanup"
)

// verb is used in diagnostics: "error when validating <result>".
func (s Stage) verb() string {
	switch s {
	case StageInit:
		return "initializing"
	case StageCompare:
		return "validating"
	case StageCleanup:
		return "cleaning"
	default:
		return string(s)
	}
}

// FatalError is a configuration-level failure. It is never handled; it
// travels up to the Validator, which aborts the process.
type FatalError struct {
	Stage  Stage
	Result string
	Reason string
	Cause  error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("there was a script error when %s %s: %s", e.Stage.verb(), e.Result, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// HookError reports a failed best-effort hook. It never aborts.
type HookError struct {
	Hook   string
	Result string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Hook, e.Result, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the process.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

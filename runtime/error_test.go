package runtime

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewScriptError(t *testing.T) {
	err := NewScriptError("NoSuchProcess", "process 4711 is gone")

	if err.Kind != "NoSuchProcess" {
		t.Errorf("Expected kind 'NoSuchProcess', got '%s'", err.Kind)
	}
	if err.Error() != "NoSuchProcess: process 4711 is gone" {
		t.Errorf("unexpected message %q", err.Error())
	}

	if got := NewScriptError("", "boom").Kind; got != DefaultExceptionKind {
		t.Errorf("Expected default kind, got %q", got)
	}
	if got := NewScriptError("KeyError", "").Error(); got != "KeyError" {
		t.Errorf("Expected bare kind, got %q", got)
	}
}

func TestScriptError_Unwrap(t *testing.T) {
	cause := errors.New("vm: stack overflow")
	err := NewScriptError("RuntimeError", "overflow").WithCause(cause).WithTrace("at validators[42]")

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if err.Trace != "at validators[42]" {
		t.Errorf("unexpected trace %q", err.Trace)
	}

	wrapped := fmt.Errorf("calling hook: %w", err)
	var se *ScriptError
	if !errors.As(wrapped, &se) || se.Kind != "RuntimeError" {
		t.Errorf("Expected errors.As to find the script error, got %v", se)
	}
}

func TestParseException(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantKind    string
		wantMessage string
		wantTrace   string
	}{
		{"kind and message", "NoSuchProcess: pid 12", "NoSuchProcess", "pid 12", ""},
		{"bare kind", "StopIteration", "StopIteration", "", ""},
		{"lua position prefix", "validators.lua:12: ValueError: bad checksum", "ValueError", "bad checksum", ""},
		{"no class", "attempt to index a nil value", DefaultExceptionKind, "attempt to index a nil value", ""},
		{"with trace", "KeyError: appid\nstack traceback:\n  line 3", "KeyError", "appid", "stack traceback:\n  line 3"},
		{"lowercase is not a class", "error: oops", DefaultExceptionKind, "error: oops", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := ParseException(tt.text)
			if se.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", se.Kind, tt.wantKind)
			}
			if se.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", se.Message, tt.wantMessage)
			}
			if se.Trace != tt.wantTrace {
				t.Errorf("trace = %q, want %q", se.Trace, tt.wantTrace)
			}
		})
	}
}

func TestFatalError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FatalError
		want string
	}{
		{
			name: "compare without cause",
			err:  &FatalError{Stage: StageCompare, Result: "wu_9_0", Reason: "no validators entry for app 99"},
			want: "there was a script error when validating wu_9_0: no validators entry for app 99",
		},
		{
			name: "cleanup with cause",
			err:  &FatalError{Stage: StageCleanup, Result: "wu_9_1", Reason: "cleaners[42] raised", Cause: NewScriptError("OSError", "read-only")},
			want: "there was a script error when cleaning wu_9_1: cleaners[42] raised: OSError: read-only",
		},
		{
			name: "init",
			err:  &FatalError{Stage: StageInit, Result: "wu_9_2", Reason: "boinctools.update_process raised"},
			want: "there was a script error when initializing wu_9_2: boinctools.update_process raised",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	fatal := &FatalError{Stage: StageInit, Result: "r", Reason: "x"}
	hook := &HookError{Hook: "boinctools.continue_children", Result: "r", Err: NewScriptError("OSError", "")}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fatal", fatal, true},
		{"wrapped fatal", fmt.Errorf("callback: %w", fatal), true},
		{"hook error", hook, false},
		{"released context", ErrContextReleased, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}

	if hook.Error() != "boinctools.continue_children failed for r: OSError" {
		t.Errorf("unexpected hook error message %q", hook.Error())
	}
}

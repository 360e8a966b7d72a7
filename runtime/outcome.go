package runtime

import (
	"errors"
	"fmt"
)

// DefaultRecoverable is the single exception class the init-stage hook may
// raise without aborting.
const DefaultRecoverable = "NoSuchProcess"

// OutcomeKind classifies a scripted invocation.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRecoverable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the tagged result of one script call.
type Outcome struct {
	Kind      OutcomeKind
	Value     Value        // set when Kind is OutcomeOK
	Exception *ScriptError // set when Kind is OutcomeRecoverable
	Fatal     *FatalError  // set when Kind is OutcomeFatal
}

// Translator classifies script exceptions.
type Translator struct {
	recoverable map[string]struct{}
}

// NewTranslator builds a translator treating the given exception classes as
// recoverable from the init-stage hook. No kinds means DefaultRecoverable.
func NewTranslator(kinds ...string) *Translator {
	if len(kinds) == 0 {
		kinds = []string{DefaultRecoverable}
	}
	t := &Translator{recoverable: make(map[string]struct{}, len(kinds))}
	for _, k := range kinds {
		t.recoverable[k] = struct{}{}
	}
	return t
}

// IsRecoverable reports whether err is a script exception of a recoverable class.
func (t *Translator) IsRecoverable(err error) bool {
	var se *ScriptError
	if !errors.As(err, &se) {
		return false
	}
	_, ok := t.recoverable[se.Kind]
	return ok
}

// Hook translates the outcome of the init-stage optional hook: recoverable
// classes are reported, anything else raised is fatal. Any return value,
// nil included, is fine.
func (t *Translator) Hook(stage Stage, result, hook string, v Value, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeOK, Value: v}
	}
	if t.IsRecoverable(err) {
		return Outcome{Kind: OutcomeRecoverable, Exception: asScriptError(err)}
	}
	return fatalOutcome(stage, result, fmt.Sprintf("%s raised", hook), err)
}

// Required translates a validators/cleaners call. Raising or returning
// nothing usable are both fatal.
func (t *Translator) Required(stage Stage, result, name string, v Value, err error) Outcome {
	if err != nil {
		return fatalOutcome(stage, result, fmt.Sprintf("%s raised", name), err)
	}
	if v == nil || v.IsNil() {
		return fatalOutcome(stage, result, fmt.Sprintf("%s returned no value", name), nil)
	}
	return Outcome{Kind: OutcomeOK, Value: v}
}

// BestEffort translates a hook whose failure is logged and never escalates.
func (t *Translator) BestEffort(v Value, err error) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeRecoverable, Exception: asScriptError(err)}
	}
	return Outcome{Kind: OutcomeOK, Value: v}
}

// Missing is the fatal outcome of a required lookup that found nothing.
func (t *Translator) Missing(stage Stage, result string, res Resolution) Outcome {
	return fatalOutcome(stage, result, res.Reason(), nil)
}

func fatalOutcome(stage Stage, result, reason string, cause error) Outcome {
	return Outcome{
		Kind: OutcomeFatal,
		Fatal: &FatalError{
			Stage:  stage,
			Result: result,
			Reason: reason,
			Cause:  cause,
		},
	}
}

func asScriptError(err error) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}
	return NewScriptError(DefaultExceptionKind, err.Error()).WithCause(err)
}

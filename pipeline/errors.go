package pipeline

import "fmt"

// ErrorClass is the §7 error taxonomy. Workers switch on Class rather than
// string-matching error messages so the escalation policy (retry here,
// defer there, fail the run elsewhere) stays centralized.
type ErrorClass string

const (
	ErrorClassTransientRemote ErrorClass = "transient-remote"
	ErrorClassPermanentRemote ErrorClass = "permanent-remote"
	ErrorClassAuthRemote      ErrorClass = "auth-remote"
	ErrorClassProtocol        ErrorClass = "protocol"
	ErrorClassParse           ErrorClass = "parse"
	ErrorClassReferential     ErrorClass = "referential"
	ErrorClassEmbedding       ErrorClass = "embedding"
	ErrorClassAbandonment     ErrorClass = "abandonment"
)

// ClassifiedError wraps an error with its §7 taxonomy class so callers up
// the stack can decide retry/defer/fail policy without re-inspecting the
// underlying cause.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with the given class. A nil err yields a nil error so
// callers can write `return Classify(ErrorClassParse, err)` unconditionally.
func Classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ClassOf extracts the ErrorClass from err, if any was attached.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return "", false
	}
	return ce.Class, true
}

// ErrorMessageLimit bounds error_message fields to 2 KB (§7
// "User-visible behavior"); Truncate enforces it.
const ErrorMessageLimit = 2048

// Truncate bounds a message to ErrorMessageLimit bytes for storage on the
// job row, preserving the message prefix.
func Truncate(msg string) string {
	if len(msg) <= ErrorMessageLimit {
		return msg
	}
	return msg[:ErrorMessageLimit]
}

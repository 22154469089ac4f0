package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProfileRead           = errors.New("profile read error")
	ErrEngineInvocation      = errors.New("engine invocation error")
	ErrEngineReportedFailure = errors.New("engine reported failure")
	ErrSourceDeletion        = errors.New("source deletion error")
	ErrStateIO               = errors.New("queue state io error")
	ErrExternalTool          = errors.New("external tool error")
	ErrValidation            = errors.New("validation error")
	ErrConfiguration         = errors.New("configuration error")
	ErrNotFound              = errors.New("not found")
	ErrTimeout               = errors.New("timeout")
)

// ErrorKind is a short, log-friendly classification of a wrapped error.
type ErrorKind string

const (
	KindProfileRead      ErrorKind = "profile_read"
	KindEngineInvocation ErrorKind = "engine_invocation"
	KindEngineFailure    ErrorKind = "engine_failure"
	KindSourceDeletion   ErrorKind = "source_deletion"
	KindStateIO          ErrorKind = "state_io"
	KindExternalTool     ErrorKind = "external_tool"
	KindValidation       ErrorKind = "validation"
	KindConfiguration    ErrorKind = "configuration"
	KindNotFound         ErrorKind = "not_found"
	KindTimeout          ErrorKind = "timeout"
	KindUnknown          ErrorKind = "unknown"
)

// ErrorDetails is the structured view of an error used for log fields.
type ErrorDetails struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err by the first marker it carries. Timeouts win over the
// invocation marker so a killed job reads as a timeout in logs.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProfileRead):
		return KindProfileRead
	case errors.Is(err, ErrEngineInvocation):
		return KindEngineInvocation
	case errors.Is(err, ErrEngineReportedFailure):
		return KindEngineFailure
	case errors.Is(err, ErrSourceDeletion):
		return KindSourceDeletion
	case errors.Is(err, ErrStateIO):
		return KindStateIO
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	default:
		return KindUnknown
	}
}

// Details extracts the classification and innermost cause of err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	cause := err
	for {
		next := errors.Unwrap(cause)
		if next == nil {
			break
		}
		cause = next
	}
	// Multi-%w errors don't unwrap through errors.Unwrap; fall back to the
	// last joined error, which Wrap always places at the end.
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := multi.Unwrap(); len(errs) > 1 {
			cause = errs[len(errs)-1]
		}
	}
	return ErrorDetails{
		Kind:    Kind(err),
		Message: strings.TrimSpace(err.Error()),
		Cause:   cause,
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

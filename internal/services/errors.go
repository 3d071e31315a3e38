package services

import (
	"errors"
	"strings"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// ErrorKind classifies a stage failure for logging and API payloads.
type ErrorKind string

const (
	KindExternalService ErrorKind = "external_service"
	KindValidation      ErrorKind = "validation"
	KindConfiguration   ErrorKind = "configuration"
	KindNotFound        ErrorKind = "not_found"
	KindTimeout         ErrorKind = "timeout"
	KindTransient       ErrorKind = "transient"
	KindUnknown         ErrorKind = "unknown"
)

// StageError carries structured failure context from a stage or service
// client. Marker should be one of the exported sentinel errors above; it
// drives FailureStatus classification via errors.Is.
type StageError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Code      string
	Cause     error
}

func (e *StageError) Error() string {
	parts := make([]string, 0, 4)
	if e.Marker != nil {
		parts = append(parts, e.Marker.Error())
	}
	if detail := buildDetail(e.Stage, e.Operation, e.Message); detail != "" {
		parts = append(parts, detail)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func (e *StageError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// ErrorKind returns the string classification used for failure status
// mapping. It satisfies queue.ErrorClassifier.
func (e *StageError) ErrorKind() string {
	return string(kindFromMarker(e.Marker))
}

// Wrap builds a StageError tagged with the provided marker for later status
// classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &StageError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a failure used by logging and the
// failure handler.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Code      string
	Cause     error
}

// Details extracts structured failure context from err. Errors that were not
// produced by Wrap degrade to an unknown kind with the raw message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return ErrorDetails{
			Kind:      kindFromMarker(stageErr.Marker),
			Stage:     stageErr.Stage,
			Operation: stageErr.Operation,
			Message:   stageErr.Message,
			Hint:      stageErr.Hint,
			Code:      stageErr.Code,
			Cause:     stageErr.Cause,
		}
	}
	return ErrorDetails{
		Kind:    kindFromMarker(err),
		Message: err.Error(),
		Cause:   err,
	}
}

func kindFromMarker(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	out := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ": ")
}

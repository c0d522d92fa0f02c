package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorises pipeline failures so the workflow can pick the
// matching error state and callers can branch without string matching.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "ConfigurationError"
	KindFilterNotFound   ErrorKind = "FilterNotFound"
	KindNetwork          ErrorKind = "NetworkError"
	KindAPI              ErrorKind = "ApiError"
	KindSimulation       ErrorKind = "SimulationError"
	KindCodec            ErrorKind = "CodecError"
	KindIO               ErrorKind = "IOError"
	KindNoFaceDetected   ErrorKind = "NoFaceDetected"
	KindDetector         ErrorKind = "DetectorError"
	KindPermissionDenied ErrorKind = "PermissionDenied"
	KindCapture          ErrorKind = "CaptureError"
	KindShareUnavailable ErrorKind = "ShareUnavailable"
	KindStorage          ErrorKind = "StorageError"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human readable message to show for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}

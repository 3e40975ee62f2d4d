package provisioning

import (
	"errors"
	"fmt"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/ldap"
)

// Error codes. Every error returned by a Service carries exactly one of
// them, testable with errors.Is.
var (
	ErrNotFound          = errors.New("no such entry")
	ErrMultipleMatches   = errors.New("multiple matches")
	ErrAlreadyExists     = errors.New("entry already exists")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	ErrTooManyAccounts   = errors.New("too many accounts")
	ErrNotEnabled        = errors.New("not enabled")
	ErrFailure           = errors.New("service failure")
	ErrFatal             = errors.New("fatal error")
)

var codes = []error{
	ErrNotFound, ErrMultipleMatches, ErrAlreadyExists, ErrInvalidRequest, ErrPermissionDenied,
	ErrSizeLimitExceeded, ErrTooManyAccounts, ErrNotEnabled, ErrFailure, ErrFatal,
}

// ServiceError is the error type returned by Service operations.
type ServiceError struct {
	Code error
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Code, e.Err)
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// NewError returns a ServiceError for op.
func NewError(op string, code, err error) error {
	return &ServiceError{Code: code, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(op string, code error, format string, args ...any) error {
	return &ServiceError{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Code returns the error code carried by err, or nil.
func Code(err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrFailure
}

// classify converts a lower layer error into a ServiceError. Errors that
// already carry a code, or wrap one, keep it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}

	for _, code := range codes {
		if errors.Is(err, code) {
			return &ServiceError{Code: code, Op: op, Err: err}
		}
	}

	code := ErrFailure
	switch {
	case errors.Is(err, attrmgr.ErrInvalidAttribute):
		code = ErrInvalidRequest
	case ldap.IsNotFoundError(err):
		code = ErrNotFound
	case ldap.IsMultipleMatchesError(err):
		code = ErrMultipleMatches
	case ldap.IsConflictError(err):
		code = ErrAlreadyExists
	case ldap.IsPermissionError(err), ldap.IsAuthenticationError(err):
		code = ErrPermissionDenied
	case ldap.IsSizeLimitExceeded(err):
		code = ErrSizeLimitExceeded
	case ldap.GetErrorCategory(err) == ldap.ErrorCategoryValidation:
		code = ErrInvalidRequest
	}
	return &ServiceError{Code: code, Op: op, Err: err}
}

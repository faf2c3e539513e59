// Package apierrors defines the error taxonomy shared by every control
// plane component, so callers can branch on failure kind instead of
// string-matching messages.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of an OperationError.
type Kind string

const (
	// KindValidation marks a request that failed input validation
	// before any side effect was attempted.
	KindValidation Kind = "validation"
	// KindConflict marks a request that collided with concurrent state,
	// e.g. a resize request superseded by a higher-priority one.
	KindConflict Kind = "conflict"
	// KindQuota marks a request rejected because it would exceed an
	// organization, project or branch resource limit.
	KindQuota Kind = "quota"
	// KindDeployment marks a failure while talking to Kubernetes or the
	// CSI/KubeVirt control surfaces.
	KindDeployment Kind = "deployment"
	// KindTimeout marks an operation that did not reach a terminal
	// state within its deadline.
	KindTimeout Kind = "timeout"
	// KindNotFound marks a reference to an entity that does not exist.
	KindNotFound Kind = "not_found"
)

// OperationError is the single error type returned by control plane
// operations. Components should wrap underlying causes with New rather
// than returning raw errors, so callers upstream can use IsNotFound,
// AsQuota, etc.
type OperationError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// New builds an OperationError.
func New(kind Kind, op, message string, cause error) *OperationError {
	return &OperationError{Kind: kind, Op: op, Message: message, Err: cause}
}

func is(err error, kind Kind) bool {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is an OperationError of KindNotFound.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict reports whether err is an OperationError of KindConflict.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsQuota reports whether err is an OperationError of KindQuota.
func IsQuota(err error) bool { return is(err, KindQuota) }

// IsValidation reports whether err is an OperationError of KindValidation.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsDeployment reports whether err is an OperationError of KindDeployment.
func IsDeployment(err error) bool { return is(err, KindDeployment) }

// IsTimeout reports whether err is an OperationError of KindTimeout.
func IsTimeout(err error) bool { return is(err, KindTimeout) }

// Deployment wraps a Kubernetes/CSI/KubeVirt interaction failure.
func Deployment(op string, cause error) *OperationError {
	return New(KindDeployment, op, "kubernetes interaction failed", cause)
}

// NotFound builds a KindNotFound error for the named entity.
func NotFound(op, entity string) *OperationError {
	return New(KindNotFound, op, entity+" not found", nil)
}

// Quota builds a KindQuota error describing the exceeded limit.
func Quota(op, message string) *OperationError {
	return New(KindQuota, op, message, nil)
}

// Validation builds a KindValidation error.
func Validation(op, message string) *OperationError {
	return New(KindValidation, op, message, nil)
}

// Conflict builds a KindConflict error.
func Conflict(op, message string) *OperationError {
	return New(KindConflict, op, message, nil)
}

// Timeout builds a KindTimeout error.
func Timeout(op, message string) *OperationError {
	return New(KindTimeout, op, message, nil)
}

package types

import (
	"errors"
	"fmt"
)

// ErrKind is a stable error category surfaced across the analyzer boundary.
type ErrKind string

const (
	ErrPackageValidation  ErrKind = "PackageValidation"
	ErrParseFailure       ErrKind = "ParseFailure"
	ErrPersistenceFailure ErrKind = "PersistenceFailure"
	ErrDependencyCycle    ErrKind = "DependencyCycle"
	ErrPendingChanges     ErrKind = "PendingChanges"
	ErrCancelled          ErrKind = "Cancelled"
	ErrInternal           ErrKind = "Internal"
)

// ValidationReason narrows a PackageValidation error to the specific check
// that failed.
type ValidationReason string

const (
	ReasonFileNotFound      ValidationReason = "FileNotFound"
	ReasonTooLarge          ValidationReason = "TooLarge"
	ReasonNotZip            ValidationReason = "NotZip"
	ReasonCorrupt           ValidationReason = "Corrupt"
	ReasonMissingAppianDirs ValidationReason = "MissingAppianDirs"
	ReasonNoXml             ValidationReason = "NoXml"
)

// AnalysisError carries a stable kind plus a human-readable message.
// Package identifies which of the three inputs failed, when applicable.
type AnalysisError struct {
	Kind    ErrKind
	Reason  ValidationReason
	Package PackageRole
	Msg     string
	Err     error
}

func (e *AnalysisError) Error() string {
	prefix := string(e.Kind)
	if e.Package != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Kind, e.Package.Label())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NewError builds an AnalysisError of the given kind.
func NewError(kind ErrKind, msg string, args ...any) *AnalysisError {
	return &AnalysisError{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrKind, err error, msg string, args ...any) *AnalysisError {
	return &AnalysisError{Kind: kind, Msg: fmt.Sprintf(msg, args...), Err: err}
}

// ValidationError builds a PackageValidation error naming the package and
// the specific check that failed.
func ValidationError(role PackageRole, reason ValidationReason, msg string, args ...any) *AnalysisError {
	return &AnalysisError{
		Kind:    ErrPackageValidation,
		Reason:  reason,
		Package: role,
		Msg:     fmt.Sprintf(msg, args...),
	}
}

// KindOf extracts the error kind from err, or ErrInternal when err carries
// no AnalysisError in its chain.
func KindOf(err error) ErrKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	return KindOf(err) == kind
}

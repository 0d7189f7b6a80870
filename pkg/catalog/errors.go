package catalog

import "errors"

// Error is a domain error from catalog operations.
//
// Callers branch on the Code; the Name field carries the offending
// dataset or snapshot name for diagnostics.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Name is the dataset/snapshot name related to the error
	Name string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return e.Message + ": " + e.Name
	}
	return e.Message
}

// ErrorCode represents the category of a catalog error.
type ErrorCode int

const (
	// ErrNotFound indicates the dataset or snapshot doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a snapshot/dataset with the name already exists
	ErrAlreadyExists

	// ErrInvalidName indicates the name fails component syntax rules
	ErrInvalidName

	// ErrIOError indicates an error reading or writing the backing store
	ErrIOError
)

// NotFound builds an ErrNotFound error for the given name.
func NotFound(name string) *Error {
	return &Error{Code: ErrNotFound, Message: "not found", Name: name}
}

// AlreadyExists builds an ErrAlreadyExists error for the given name.
func AlreadyExists(name string) *Error {
	return &Error{Code: ErrAlreadyExists, Message: "already exists", Name: name}
}

// InvalidName builds an ErrInvalidName error for the given name.
func InvalidName(name, reason string) *Error {
	return &Error{Code: ErrInvalidName, Message: "invalid name (" + reason + ")", Name: name}
}

// IsNotFound reports whether err is a catalog ErrNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a catalog ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists)
}

// IsInvalidName reports whether err is a catalog ErrInvalidName.
func IsInvalidName(err error) bool {
	return hasCode(err, ErrInvalidName)
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

package ctldir

import "errors"

// Error represents a domain error from control directory operations.
//
// These are automount state errors (snapshot not found, snapshot busy,
// mutation not permitted, etc.) as opposed to infrastructure errors
// surfaced by the catalog or the mount helper.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Name is the snapshot or directory name related to the error
	// (if applicable)
	Name string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return e.Message + ": " + e.Name
	}
	return e.Message
}

// ErrorCode represents the category of a control directory error.
type ErrorCode int

const (
	// ErrNotFound indicates the named snapshot doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrInvalidName indicates the snapshot component name is malformed
	ErrInvalidName

	// ErrPermissionDenied indicates an administrative mutation was
	// attempted while admin mutations are disabled
	ErrPermissionDenied

	// ErrBusy indicates the snapshot filesystem could not be unmounted
	// because it is in use
	ErrBusy

	// ErrAlreadyExists indicates a snapshot with the name already exists
	ErrAlreadyExists

	// ErrUnavailable indicates the snapshot could not be presented as a
	// directory (mount helper failure, catalog I/O error)
	ErrUnavailable
)

// NotFound creates an ErrNotFound error for the given snapshot name.
func NotFound(name string) *Error {
	return &Error{Code: ErrNotFound, Message: "snapshot not found", Name: name}
}

// InvalidName creates an ErrInvalidName error for the given component.
func InvalidName(name string) *Error {
	return &Error{Code: ErrInvalidName, Message: "invalid snapshot name", Name: name}
}

// PermissionDenied creates an ErrPermissionDenied error.
func PermissionDenied(op string) *Error {
	return &Error{Code: ErrPermissionDenied, Message: "administrative snapshot mutations are disabled", Name: op}
}

// Busy creates an ErrBusy error for the given snapshot name.
func Busy(name string) *Error {
	return &Error{Code: ErrBusy, Message: "snapshot is busy", Name: name}
}

// Unavailable creates an ErrUnavailable error wrapping a description.
func Unavailable(name, message string) *Error {
	return &Error{Code: ErrUnavailable, Message: message, Name: name}
}

// IsNotFound returns true if err is a control directory ErrNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsInvalidName returns true if err is a control directory ErrInvalidName.
func IsInvalidName(err error) bool {
	return hasCode(err, ErrInvalidName)
}

// IsPermissionDenied returns true if err is a control directory
// ErrPermissionDenied.
func IsPermissionDenied(err error) bool {
	return hasCode(err, ErrPermissionDenied)
}

// IsBusy returns true if err is a control directory ErrBusy.
func IsBusy(err error) bool {
	return hasCode(err, ErrBusy)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

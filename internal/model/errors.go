package model

import (
	"errors"
	"strings"
)

// Domain errors. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConflict          = errors.New("conflict: record was changed concurrently")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrItemOnLoan        = errors.New("item is on loan")
	ErrInviteExhausted   = errors.New("invite exhausted")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrInconsistentState = errors.New("inconsistent item/loan state")
)

// ValidationError lists the input fields that are missing or invalid.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// UploadError wraps a failure of the image store.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return "uploading image: " + e.Err.Error()
}

func (e *UploadError) Unwrap() error { return e.Err }

package models

import "fmt"

// UserError is a failure meant to be shown to the user: a short title, an
// optional explanation and optionally the raw error detail for diagnostics.
type UserError struct {
	// Title is the short, always-present headline.
	Title string
	// Description optionally explains what happened or what to do next.
	Description string
	// Detail optionally carries the underlying error for diagnostics.
	Detail error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	msg := e.Title
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Detail != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Detail)
	}
	return msg
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (e *UserError) Unwrap() error { return e.Detail }

// NewUserError builds a UserError wrapping detail.
func NewUserError(title, description string, detail error) *UserError {
	return &UserError{Title: title, Description: description, Detail: detail}
}

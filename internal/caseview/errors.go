package caseview

import (
	"errors"
	"fmt"
)

var (
	// ErrCaseUnavailable is returned by Open when the case metadata cannot be fetched.
	ErrCaseUnavailable = errors.New("error while retrieving case")
	// ErrCommandNotAllowed is returned for analysis commands the menu does not offer.
	ErrCommandNotAllowed = errors.New("command not allowed for current analysis status")
	// ErrSessionClosed is returned by commands issued after Close.
	ErrSessionClosed = errors.New("case view closed")
)

// ActionError is the failure of a user action.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// FailureToast is the notification shown for any failed user action.
func FailureToast(err error) Toast {
	var ae *ActionError
	if errors.As(err, &ae) {
		return Toast{Severity: SeverityError, Summary: "Action failed", Detail: ae.Error()}
	}
	return Toast{Severity: SeverityError, Summary: "Action failed", Detail: err.Error()}
}

package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrPoolClosed       = errors.New("browser pool is closed")
	ErrPoolNotReady     = errors.New("browser pool is not ready")
	ErrCourtUnavailable = errors.New("court page is unavailable")
	ErrCourtBusy        = errors.New("court page is held by another attempt")

	// Queue errors
	ErrRequestNotFound      = errors.New("reservation request not found")
	ErrAlreadyExecuting     = errors.New("an attempt for this user and slot is already executing")
	ErrTerminalState        = errors.New("request is in a terminal state")
	ErrConfirmationMismatch = errors.New("request already confirmed with a different confirmation id")
	ErrInvalidRequest       = errors.New("invalid reservation request")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// FailureKind classifies a booking attempt failure.
type FailureKind string

// Attempt failure classifications.
const (
	FailSlotNotFound        FailureKind = "time_slot_not_found"
	FailFormLoadTimeout     FailureKind = "form_load_timeout"
	FailSubmitNotFound      FailureKind = "submit_button_not_found"
	FailConfirmationTimeout FailureKind = "confirmation_timeout"
	FailBotDetected         FailureKind = "bot_detected"
	FailInternal            FailureKind = "internal_error"
)

// AttemptError provides detailed information about a booking attempt failure.
// It implements the error interface and supports error unwrapping.
type AttemptError struct {
	Kind    FailureKind // Classification per the failure taxonomy
	Court   int         // Court the attempt targeted
	Message string      // Human-readable error message
	Err     error       // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

// TerminalForWindow reports whether the failure forbids further retries
// within the current booking window.
func (e *AttemptError) TerminalForWindow() bool {
	return e.Kind == FailBotDetected
}

// NewSlotNotFoundError creates an error for a target time missing from the
// calendar, most likely because another member snatched it.
func NewSlotNotFoundError(court int, timeLabel string) *AttemptError {
	return &AttemptError{
		Kind:    FailSlotNotFound,
		Court:   court,
		Message: "Time slot " + timeLabel + " is no longer offered on the calendar",
	}
}

// NewFormLoadTimeoutError creates an error for a booking form that never
// appeared after the slot click.
func NewFormLoadTimeoutError(court int, err error) *AttemptError {
	return &AttemptError{
		Kind:    FailFormLoadTimeout,
		Court:   court,
		Message: "Booking form did not load after selecting the time slot",
		Err:     err,
	}
}

// NewSubmitNotFoundError creates an error for a rendered form with no
// submit control.
func NewSubmitNotFoundError(court int) *AttemptError {
	return &AttemptError{
		Kind:    FailSubmitNotFound,
		Court:   court,
		Message: "Booking form rendered but the confirm button is absent",
	}
}

// NewConfirmationTimeoutError creates an error for a submit that produced
// neither a confirmation nor a site error in time.
func NewConfirmationTimeoutError(court int, err error) *AttemptError {
	return &AttemptError{
		Kind:    FailConfirmationTimeout,
		Court:   court,
		Message: "No confirmation appeared after submitting the booking form",
		Err:     err,
	}
}

// NewBotDetectedError creates the terminal-for-window error raised when the
// site shows its irregular-activity sentinel.
func NewBotDetectedError(court int, phrase string) *AttemptError {
	return &AttemptError{
		Kind:    FailBotDetected,
		Court:   court,
		Message: "Site flagged the attempt as irregular activity: " + phrase,
	}
}

// NewInternalAttemptError wraps any other attempt failure.
func NewInternalAttemptError(court int, err error) *AttemptError {
	msg := "Booking attempt failed"
	if err != nil {
		msg = "Booking attempt failed: " + err.Error()
	}
	return &AttemptError{
		Kind:    FailInternal,
		Court:   court,
		Message: msg,
		Err:     err,
	}
}

// ClassifyAttemptError returns the failure kind of err, or FailInternal if
// the error is not an AttemptError.
func ClassifyAttemptError(err error) FailureKind {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return FailInternal
}

package models

import "fmt"

// ValidationError rejects a malformed rule, policy, channel or sample at the boundary.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// DeliveryError is returned when a notification channel could not be reached
// after all attempts.
type DeliveryError struct {
	ChannelID string
	Kind      ChannelKind
	Attempts  int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s channel %s failed after %d attempt(s): %v",
		e.Kind, e.ChannelID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

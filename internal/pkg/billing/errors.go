package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrCustomerNotFound is returned when no billing customer exists for an
	// email.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrNoActiveSubscription is returned when a customer exists but carries
	// no active subscription.
	ErrNoActiveSubscription = errors.New("no active subscription found")
)

// APIError is a non-2xx response from the payment backend. Message comes
// straight from the provider and is safe to relay to the user (Stripe keeps
// user-facing wording in it).
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("stripe request failed: status=%d type=%s", e.StatusCode, e.Type)
}

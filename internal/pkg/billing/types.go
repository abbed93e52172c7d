package billing

import "time"

// Customer is the normalized shape of a Stripe customer. The payment backend
// owns the record; we only read it. DefaultPaymentMethodID is empty when no
// invoice default is set, which the status workflow treats as a pending
// cancellation.
type Customer struct {
	ID                     string
	Email                  string
	DefaultPaymentMethodID string
	Metadata               map[string]string
}

// Subscription is the normalized shape of a Stripe subscription. ClientSecret
// is only populated on creation (expanded latest invoice payment intent) and
// must be confirmed client-side before the subscription becomes active.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	ClientSecret      string
}

// PaymentMethod is a stored payment instrument on a customer.
type PaymentMethod struct {
	ID   string
	Type string
}

// StatusView is the per-request account status computed from the payment
// backend. It is never persisted; every caller re-fetches from source of
// truth. Field names are the wire contract with the front-end.
type StatusView struct {
	Active            bool   `json:"active"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd,omitempty"`
	CurrentPeriodEnd  int64  `json:"currentPeriodEnd,omitempty"`
	Message           string `json:"message"`
}

// CheckoutResult is returned by the create/upgrade handlers. ClientSecret is
// handed to the provider's browser SDK for payment confirmation (3-D Secure
// and friends).
type CheckoutResult struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
	CustomerID     string `json:"customerId"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

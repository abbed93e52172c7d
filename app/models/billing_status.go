package models

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// Provider subscription states we care about. Stripe reports more states
// (past_due, unpaid, trialing ...) but the account surface only distinguishes
// these three.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCanceling = "canceling"
	SubscriptionStatusInactive  = "inactive"
)

// User-facing status messages returned by the status endpoint. The exact
// wording is part of the API contract with the front-end.
const (
	StatusMessageFree             = "Free account"
	StatusMessageNoSubscription   = "No active subscription"
	StatusMessagePremium          = "Premium"
	StatusMessagePremiumCanceling = "Premium (Cancels at end of period)"
)

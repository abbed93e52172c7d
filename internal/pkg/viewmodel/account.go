package viewmodel

import "github.com/ManuelReschke/MemberFox/internal/pkg/entitlements"

// Account contains everything the dashboard needs to show the subscription
// tier and the machine state driving the banners.
type Account struct {
	Layout

	State             string
	StatusMessage     string
	Active            bool
	CancelAtPeriodEnd bool
	PeriodEnd         string
	ErrorMessage      string
	AvatarURL         string
	Entitlements      entitlements.Entitlements
}

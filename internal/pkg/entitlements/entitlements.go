package entitlements

import (
	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Entitlements lists what a plan unlocks. The dashboard renders it; nothing
// here is persisted, it is derived from the resolved status on every request.
type Entitlements struct {
	Plan             Plan
	MemberContent    bool
	PrioritySupport  bool
	RenewalActive    bool
	MaxSavedArticles int
}

// ForStatus derives the entitlements from a resolved subscription status.
// A canceling subscription keeps its premium features until the period ends;
// only the renewal is off.
func ForStatus(view *billing.StatusView) Entitlements {
	if view == nil || !view.Active {
		return Entitlements{
			Plan:             PlanFree,
			MaxSavedArticles: 10,
		}
	}

	return Entitlements{
		Plan:             PlanPremium,
		MemberContent:    true,
		PrioritySupport:  true,
		RenewalActive:    !view.CancelAtPeriodEnd,
		MaxSavedArticles: 500,
	}
}

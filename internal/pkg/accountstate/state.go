package accountstate

import (
	"context"

	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/dmitrymomot/saaskit/pkg/statemachine"
)

// Account UI states. The three authenticated tiers mirror the status
// resolution outcomes of the billing service.
const (
	StateAnonymous        = statemachine.StringState("anonymous")
	StateAuthenticating   = statemachine.StringState("authenticating")
	StateStatusUnknown    = statemachine.StringState("authenticated-status-unknown")
	StateFree             = statemachine.StringState("authenticated-free")
	StatePremium          = statemachine.StringState("authenticated-premium")
	StatePremiumCanceling = statemachine.StringState("authenticated-premium-canceling")
	StateError            = statemachine.StringState("error")
)

// Events driving the account machine.
const (
	EventSubmitCredentials = statemachine.StringEvent("submit-credentials")
	EventAuthSucceeded     = statemachine.StringEvent("auth-succeeded")
	EventAuthFailed        = statemachine.StringEvent("auth-failed")
	EventStatusResolved    = statemachine.StringEvent("status-resolved")
	EventStatusFailed      = statemachine.StringEvent("status-failed")
	EventErrorDismissed    = statemachine.StringEvent("error-dismissed")
	EventLogout            = statemachine.StringEvent("logout")
)

// statusView pulls the resolved billing status out of the event payload.
func statusView(data any) *billing.StatusView {
	view, _ := data.(*billing.StatusView)
	return view
}

func guardFree(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	view := statusView(data)
	return view != nil && !view.Active
}

func guardPremium(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	view := statusView(data)
	return view != nil && view.Active && !view.CancelAtPeriodEnd
}

func guardPremiumCanceling(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	view := statusView(data)
	return view != nil && view.Active && view.CancelAtPeriodEnd
}

// dismissal payload is the state the error banner should return to.
func guardResumeAuthenticated(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	resume, ok := data.(statemachine.State)
	return ok && resume.Name() != StateAnonymous.Name() && resume.Name() != StateAuthenticating.Name()
}

func guardResumeAnonymous(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return !guardResumeAuthenticated(nil, nil, nil, data)
}

// newMachine builds the account machine positioned at initial. Every state can
// log out back to anonymous; every authenticated state accepts a fresh status
// resolution so tier changes picked up by polling are applied in place.
func newMachine(initial statemachine.State) (statemachine.StateMachine, error) {
	// Error accepts the same status events as the authenticated states so a
	// successful refresh clears the banner without waiting for the timer.
	resolvable := []statemachine.State{StateStatusUnknown, StateFree, StatePremium, StatePremiumCanceling, StateError}

	transitions := []statemachine.TransitionDef{
		{From: StateAnonymous, To: StateAuthenticating, Event: EventSubmitCredentials},
		// A retried login after a failure starts from the error banner.
		{From: StateError, To: StateAuthenticating, Event: EventSubmitCredentials},
		{From: StateAuthenticating, To: StateStatusUnknown, Event: EventAuthSucceeded},
		{From: StateAuthenticating, To: StateError, Event: EventAuthFailed},
		{From: StateError, To: StateStatusUnknown, Event: EventErrorDismissed, Guards: []statemachine.Guard{guardResumeAuthenticated}},
		{From: StateError, To: StateAnonymous, Event: EventErrorDismissed, Guards: []statemachine.Guard{guardResumeAnonymous}},
	}

	for _, from := range resolvable {
		transitions = append(transitions,
			statemachine.TransitionDef{From: from, To: StateFree, Event: EventStatusResolved, Guards: []statemachine.Guard{guardFree}},
			statemachine.TransitionDef{From: from, To: StatePremium, Event: EventStatusResolved, Guards: []statemachine.Guard{guardPremium}},
			statemachine.TransitionDef{From: from, To: StatePremiumCanceling, Event: EventStatusResolved, Guards: []statemachine.Guard{guardPremiumCanceling}},
			statemachine.TransitionDef{From: from, To: StateError, Event: EventStatusFailed},
			statemachine.TransitionDef{From: from, To: StateAnonymous, Event: EventLogout},
		)
	}

	return statemachine.New(initial, statemachine.WithTransitions(transitions))
}

package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/MemberFox/internal/pkg/accountstate"
	"github.com/ManuelReschke/MemberFox/internal/pkg/constants"
	"github.com/ManuelReschke/MemberFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberFox/internal/pkg/identity"
	"github.com/ManuelReschke/MemberFox/internal/pkg/session"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
	"github.com/ManuelReschke/MemberFox/internal/pkg/utils"
	"github.com/ManuelReschke/MemberFox/internal/pkg/viewmodel"
)

// HandleUserDashboard renders the account page with the current subscription
// tier. The status is re-resolved from the billing backend on every load;
// the machine snapshot only carries the last result so a failed refresh can
// keep showing it alongside the error banner. The page itself re-polls via
// HandleUserStatusRefresh.
func HandleUserDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect(constants.LoginRoute, fiber.StatusSeeOther)
	}

	store := accountStore(c)
	if store.Tick(c.UserContext(), time.Now()) {
		_ = session.DestroySession(c)
		fm := fiber.Map{"type": "error", "message": "Deine Sitzung ist abgelaufen. Bitte logge dich erneut ein."}
		return flash.WithError(c, fm).Redirect(constants.LoginRoute)
	}

	if store.State() == accountstate.StateAnonymous.Name() {
		// Session exists but the machine was reset, start over.
		_ = store.SubmitCredentials(c.UserContext())
		_ = store.AuthSucceeded(c.UserContext())
	}
	store = refreshAccountStatus(c, store, userCtx.Email)

	vm := viewmodel.Account{
		Layout: viewmodel.Layout{
			Page:          "dashboard",
			FromProtected: true,
			Msg:           flash.Get(c),
			Email:         userCtx.Email,
		},
		State:        store.State(),
		ErrorMessage: store.ErrorMessage(),
		AvatarURL:    utils.GetGravatarURL(userCtx.Email, 96),
		Entitlements: entitlements.ForStatus(store.Status()),
	}
	if view := store.Status(); view != nil {
		vm.StatusMessage = view.Message
		vm.Active = view.Active
		vm.CancelAtPeriodEnd = view.CancelAtPeriodEnd
		if view.CurrentPeriodEnd > 0 {
			vm.PeriodEnd = time.Unix(view.CurrentPeriodEnd, 0).Format("02.01.2006")
		}
	}

	saveAccountStore(c, store)

	return c.Render("user/dashboard", fiber.Map{
		"Page":          "dashboard",
		"FromProtected": true,
		"Msg":           vm.Msg,
		"Account":       vm,
		"CSRFToken":     c.Locals("csrf"),
	}, "layouts/main")
}

// HandleUserStatusRefresh is the polling endpoint behind the dashboard's
// 5-minute timer and visibility-regained hook. It re-resolves the status and
// returns the machine snapshot for rendering.
func HandleUserStatusRefresh(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	store := accountStore(c)
	if store.Tick(c.UserContext(), time.Now()) {
		_ = session.DestroySession(c)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "session expired"})
	}

	// The poll doubles as a session liveness check. A revoked or expired
	// identity token is fatal: show the banner, then force a logout.
	if _, err := identity.NewClientFromEnv().CurrentUser(c.UserContext(), userCtx.AccessToken); err != nil && errors.Is(err, identity.ErrInvalidToken) {
		_ = store.FatalIdentityError(c.UserContext(), "Deine Sitzung ist abgelaufen. Du wirst abgemeldet.")
		saveAccountStore(c, store)
		return c.JSON(fiber.Map{
			"state":        store.State(),
			"errorMessage": store.ErrorMessage(),
		})
	}

	store = refreshAccountStatus(c, store, userCtx.Email)

	resp := fiber.Map{
		"state": store.State(),
	}
	if view := store.Status(); view != nil {
		resp["status"] = view
	}
	if msg := store.ErrorMessage(); msg != "" {
		resp["errorMessage"] = msg
	}

	return c.JSON(resp)
}

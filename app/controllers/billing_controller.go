package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/ManuelReschke/MemberFox/internal/pkg/constants"
	"github.com/ManuelReschke/MemberFox/internal/pkg/database"
	"github.com/ManuelReschke/MemberFox/internal/pkg/env"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

// HandleSubscribe renders the checkout page. Card entry and tokenization run
// client-side against the payment provider; the page only gets the
// publishable key plus the session's bearer token so it can call the
// subscription API with it.
func HandleSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect(constants.LoginRoute, fiber.StatusSeeOther)
	}

	return c.Render("user/subscribe", fiber.Map{
		"Page":           "subscribe",
		"FromProtected":  true,
		"Msg":            flash.Get(c),
		"CSRFToken":      c.Locals("csrf"),
		"Email":          userCtx.Email,
		"AccessToken":    userCtx.AccessToken,
		"PublishableKey": env.GetEnv("STRIPE_PUBLISHABLE_KEY", ""),
	}, "layouts/main")
}

// HandleCancelSubscription is the web form variant of cancellation. The
// subscription stays active until the period ends; only the stored payment
// methods are removed so the renewal cannot charge.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect(constants.LoginRoute, fiber.StatusSeeOther)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), statusResolveTimeout)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB())
	periodEnd, err := svc.CancelAtPeriodEnd(ctx, userCtx.Email)
	if err != nil {
		fm := fiber.Map{"type": "error", "message": "Kündigung fehlgeschlagen. Bitte versuche es erneut."}
		switch {
		case errors.Is(err, billing.ErrCustomerNotFound), errors.Is(err, billing.ErrNoActiveSubscription):
			fm["message"] = "Es gibt kein aktives Abo zum Kündigen."
		default:
			log.Printf("cancel subscription failed for %s: %v", userCtx.Email, err)
		}
		return flash.WithError(c, fm).Redirect("/user")
	}

	store := accountStore(c)
	refreshAccountStatus(c, store, userCtx.Email)

	fm := fiber.Map{
		"type":    "success",
		"message": fmt.Sprintf("Zahlungsmittel entfernt. Dein Abo bleibt bis zum %s aktiv.", periodEnd.Format("02.01.2006")),
	}
	return flash.WithSuccess(c, fm).Redirect("/user")
}

package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberFox/app/models"
	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/ManuelReschke/MemberFox/internal/pkg/cache"
	"github.com/ManuelReschke/MemberFox/internal/pkg/database"
	"github.com/ManuelReschke/MemberFox/internal/pkg/env"
	"github.com/ManuelReschke/MemberFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

// CheckoutRequest starts or upgrades a subscription. The payment method id is
// an opaque token produced by the provider's client-side card tokenization.
type CheckoutRequest struct {
	Email           string `json:"email" validate:"required,email"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

func (r *CheckoutRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// CancelRequest requests a cancellation at the end of the paid period.
type CancelRequest struct {
	Email             string `json:"email" validate:"required,email"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd"`
}

func (r *CancelRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// StatusRequest asks for the subscription status of an email.
type StatusRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *StatusRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// HandleMethodNotAllowed answers any non-POST method on the API endpoints.
func HandleMethodNotAllowed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "Method not allowed"})
}

// HandleAPICreateSubscription signs a new customer up for the premium plan.
// There is no prior session to authorize against; the caller proves control
// of the email by completing the payment confirmation afterwards.
func HandleAPICreateSubscription(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and paymentMethodId are required"})
	}

	return startCheckout(c, req, "")
}

// HandleAPIUpgradeSubscription is the authorized variant for an existing
// free-tier account. The bearer identity must own the email it upgrades.
func HandleAPIUpgradeSubscription(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and paymentMethodId are required"})
	}

	userCtx := usercontext.GetUserContext(c)
	if !emailMatchesIdentity(userCtx, req.Email) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	return startCheckout(c, req, userCtx.UserID)
}

func startCheckout(c *fiber.Ctx, req CheckoutRequest, identityUserID string) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), statusResolveTimeout)
	defer cancel()

	counter.AddCheckout()
	svc := billing.NewServiceFromDB(database.GetDB())
	result, err := svc.StartSubscription(ctx, req.Email, req.PaymentMethodID, identityUserID)
	if err != nil {
		log.Printf("start subscription failed for %s: %v", req.Email, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billingErrorMessage(err)})
	}

	return c.JSON(result)
}

// HandleAPICancelSubscription removes all stored payment methods so the
// subscription lapses at period end instead of renewing. The subscription
// entity itself is never deleted here.
func HandleAPICancelSubscription(c *fiber.Ctx) error {
	var req CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email is required"})
	}

	userCtx := usercontext.GetUserContext(c)
	if !emailMatchesIdentity(userCtx, req.Email) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), statusResolveTimeout)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB())
	periodEnd, err := svc.CancelAtPeriodEnd(ctx, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrCustomerNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No customer found for this email"})
		case errors.Is(err, billing.ErrNoActiveSubscription):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No active subscription found"})
		}
		log.Printf("cancel subscription failed for %s: %v", req.Email, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billingErrorMessage(err)})
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Payment method removed. Your subscription will remain active until %s.", periodEnd.Format("January 2, 2006")),
	})
}

// HandleAPICheckSubscriptionStatus resolves the caller's billing status. The
// result is never cached; every call goes back to the billing backend.
func HandleAPICheckSubscriptionStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email is required"})
	}

	userCtx := usercontext.GetUserContext(c)
	if !emailMatchesIdentity(userCtx, req.Email) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), statusResolveTimeout)
	defer cancel()

	counter.AddStatusCheck()
	svc := billing.NewServiceFromDB(database.GetDB())
	view, err := svc.ResolveStatus(ctx, req.Email)
	if err != nil {
		// A failed lookup must not pass as free or premium.
		log.Printf("status resolution failed for %s: %v", req.Email, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Error checking subscription status"})
	}

	return c.JSON(view)
}

// HandleStripeWebhook receives asynchronous billing events. After the
// signature check the endpoint always answers 200 so the provider does not
// pile up redeliveries; processing failures are logged and marked on the
// stored event instead.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	if !billing.VerifyStripeWebhookSignature(rawBody, c.Get("Stripe-Signature"), secret) {
		log.Printf("stripe webhook signature rejected for %s", c.IP())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
	}

	event, err := billing.ParseStripeWebhookEvent(rawBody)
	if err != nil {
		log.Printf("stripe webhook payload rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload"})
	}

	counter.AddWebhookEvent(event.Type)

	// Fast duplicate check in Redis before touching the database; the DB
	// unique index stays the source of truth.
	seenKey := "billing:webhook:seen:" + event.ID
	if event.ID != "" {
		if _, err := cache.Get(seenKey); err == nil {
			return c.JSON(fiber.Map{"received": true})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusResolveTimeout)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB())
	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("stripe webhook persist failed for %s: %v", event.ID, err)
		return c.JSON(fiber.Map{"received": true})
	}
	if event.ID != "" {
		_ = cache.Set(seenKey, "1", 24*time.Hour)
	}
	if !created {
		// Redelivery of an already seen event.
		return c.JSON(fiber.Map{"received": true})
	}

	if billing.IsStatusRelevantEvent(event.Type) {
		// Fire and forget: the response must not wait for the billing
		// backend round trip.
		go func(ev billing.WebhookEvent, eventRowID uint) {
			bgCtx, bgCancel := context.WithTimeout(context.Background(), time.Minute)
			defer bgCancel()

			bgSvc := billing.NewServiceFromDB(database.GetDB())
			procErr := bgSvc.ProcessWebhookEvent(bgCtx, &ev)
			if procErr != nil {
				log.Printf("stripe webhook processing failed for %s: %v", ev.ID, procErr)
			}
			_ = bgSvc.MarkWebhookProcessed(bgCtx, eventRowID, procErr)
		}(*event, stored.ID)
	} else {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
	}

	return c.JSON(fiber.Map{"received": true})
}

// emailMatchesIdentity enforces the authorization invariant for every
// state-touching handler: the bearer identity owns the email in the body.
func emailMatchesIdentity(userCtx usercontext.UserContext, email string) bool {
	if !userCtx.IsLoggedIn || userCtx.Email == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(userCtx.Email), strings.TrimSpace(email))
}

// billingErrorMessage relays the provider's message where it is safe, and a
// generic one otherwise.
func billingErrorMessage(err error) string {
	var apiErr *billing.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Subscription request failed"
}

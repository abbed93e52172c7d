package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ManuelReschke/MemberFox/app/models"
	"gorm.io/gorm"
)

// Service sequences calls against the payment backend and reconciles the
// answers into account status. It holds no billing state of its own; the
// webhook event log is the only thing it writes locally.
type Service struct {
	stripe *StripeClient
	repo   Repository
}

// NewService creates a billing service from an injected client and repository.
func NewService(stripe *StripeClient, repo Repository) *Service {
	return &Service{stripe: stripe, repo: repo}
}

// NewServiceFromDB creates a billing service with the env-configured Stripe
// client and a GORM-backed webhook event log.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewStripeClientFromEnv(), NewRepository(db))
}

// ResolveStatus computes the account status for an email from the payment
// backend, never from local state:
//
//  1. no customer               -> free
//  2. no active subscription    -> free (no active subscription)
//  3. active + invoice default  -> premium
//  4. active, no invoice default -> premium, cancels at period end
//
// Lookup failures surface as errors; the caller must not fall back to a
// fabricated free or premium answer.
func (s *Service) ResolveStatus(ctx context.Context, email string) (*StatusView, error) {
	customer, err := s.stripe.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return &StatusView{Active: false, Status: models.SubscriptionStatusInactive, Message: models.StatusMessageFree}, nil
	}

	sub, err := s.stripe.FindActiveSubscription(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &StatusView{Active: false, Status: models.SubscriptionStatusInactive, Message: models.StatusMessageNoSubscription}, nil
	}

	// The list endpoint does not expand invoice settings, so re-read the
	// customer to learn whether an invoice default is present.
	full, err := s.stripe.GetCustomer(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	if full.DefaultPaymentMethodID != "" {
		return &StatusView{
			Active:  true,
			Status:  models.SubscriptionStatusActive,
			Message: models.StatusMessagePremium,
		}, nil
	}

	view := &StatusView{
		Active:            true,
		Status:            models.SubscriptionStatusCanceling,
		CancelAtPeriodEnd: true,
		Message:           models.StatusMessagePremiumCanceling,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		view.CurrentPeriodEnd = sub.CurrentPeriodEnd.Unix()
	}
	return view, nil
}

// StartSubscription brings an email to a paid subscription: reuse the
// existing customer (attach the new payment method as invoice default) or
// create one, then create the subscription in incomplete payment state. The
// returned client secret must be confirmed client-side before the
// subscription becomes active.
func (s *Service) StartSubscription(ctx context.Context, email, paymentMethodID, identityUserID string) (*CheckoutResult, error) {
	email = strings.TrimSpace(email)
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if email == "" || paymentMethodID == "" {
		return nil, errors.New("email and payment method are required")
	}

	customer, err := s.stripe.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if customer != nil {
		if err := s.stripe.AttachPaymentMethod(ctx, paymentMethodID, customer.ID); err != nil {
			return nil, err
		}
		if err := s.stripe.SetDefaultPaymentMethod(ctx, customer.ID, paymentMethodID); err != nil {
			return nil, err
		}
	} else {
		customer, err = s.stripe.CreateCustomer(ctx, email, paymentMethodID, identityUserID)
		if err != nil {
			return nil, err
		}
	}

	sub, err := s.stripe.CreateSubscription(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		SubscriptionID: sub.ID,
		ClientSecret:   sub.ClientSecret,
		CustomerID:     customer.ID,
	}, nil
}

// CancelAtPeriodEnd requests cancellation by removing every stored card and
// clearing the invoice default. The subscription entity is deliberately left
// untouched: access continues to the end of the paid period, after which the
// provider's renewal-failure path lapses it. Returns the period end.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, email string) (time.Time, error) {
	customer, err := s.stripe.FindCustomerByEmail(ctx, email)
	if err != nil {
		return time.Time{}, err
	}
	if customer == nil {
		return time.Time{}, ErrCustomerNotFound
	}

	sub, err := s.stripe.FindActiveSubscription(ctx, customer.ID)
	if err != nil {
		return time.Time{}, err
	}
	if sub == nil {
		return time.Time{}, ErrNoActiveSubscription
	}

	methods, err := s.stripe.ListCardPaymentMethods(ctx, customer.ID)
	if err != nil {
		return time.Time{}, err
	}
	for _, pm := range methods {
		if err := s.stripe.DetachPaymentMethod(ctx, pm.ID); err != nil {
			return time.Time{}, err
		}
	}

	if err := s.stripe.SetDefaultPaymentMethod(ctx, customer.ID, ""); err != nil {
		return time.Time{}, err
	}

	return sub.CurrentPeriodEnd, nil
}

// ProcessWebhookEvent re-resolves status for the customer named in a relevant
// event. The refreshed view is only logged here; interested sessions pick up
// the change on their next status fetch, because status is never cached.
func (s *Service) ProcessWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	if ev == nil || !IsStatusRelevantEvent(ev.Type) {
		return nil
	}
	if strings.TrimSpace(ev.CustomerID) == "" {
		return errors.New("webhook event missing customer id")
	}

	customer, err := s.stripe.GetCustomer(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	if customer.Email == "" {
		return errors.New("webhook event customer has no email")
	}

	view, err := s.ResolveStatus(ctx, customer.Email)
	if err != nil {
		return err
	}
	log.Printf("webhook %s: status for customer %s resolved to active=%t cancelAtPeriodEnd=%t",
		ev.Type, ev.CustomerID, view.Active, view.CancelAtPeriodEnd)
	return nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

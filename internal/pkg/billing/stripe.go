package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/MemberFox/internal/pkg/env"
	"github.com/google/uuid"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// StripeClient is a thin client for the parts of the Stripe REST API this app
// uses. Requests are form-encoded, responses JSON, auth is the secret key as
// bearer token. Mutating calls carry an idempotency key so a retried request
// cannot double-create provider objects.
type StripeClient struct {
	SecretKey  string
	PriceID    string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		PriceID:    strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FindCustomerByEmail looks up at most one customer by email, newest first.
// Returns nil without error when no customer exists (free account).
func (c *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	q := url.Values{}
	q.Set("email", email)
	q.Set("limit", "1")

	var list struct {
		Data []rawCustomer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers", q, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return list.Data[0].normalize(), nil
}

// CreateCustomer creates a customer with the payment method attached as
// invoice default. The identity user id is tagged into metadata so billing
// records stay joinable even if the email ever changes.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, paymentMethodID, identityUserID string) (*Customer, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(paymentMethodID) == "" {
		return nil, errors.New("email and payment method are required")
	}

	form := url.Values{}
	form.Set("email", strings.TrimSpace(email))
	form.Set("payment_method", strings.TrimSpace(paymentMethodID))
	form.Set("invoice_settings[default_payment_method]", strings.TrimSpace(paymentMethodID))
	if id := strings.TrimSpace(identityUserID); id != "" {
		form.Set("metadata[identity_user_id]", id)
	}

	var raw rawCustomer
	if err := c.do(ctx, http.MethodPost, "/customers", form, &raw); err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

// GetCustomer retrieves a customer including its expanded invoice default
// payment method, which is what the status workflow keys off.
func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}

	q := url.Values{}
	q.Add("expand[]", "invoice_settings.default_payment_method")

	var raw rawCustomer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), q, &raw); err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

// SetDefaultPaymentMethod updates the invoice default. An empty id clears it,
// which is how a pending cancellation is encoded.
func (c *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if strings.TrimSpace(customerID) == "" {
		return errors.New("customer id is required")
	}

	form := url.Values{}
	form.Set("invoice_settings[default_payment_method]", strings.TrimSpace(paymentMethodID))

	var raw rawCustomer
	return c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID), form, &raw)
}

// AttachPaymentMethod attaches a tokenized payment method to a customer.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	if strings.TrimSpace(paymentMethodID) == "" || strings.TrimSpace(customerID) == "" {
		return errors.New("payment method id and customer id are required")
	}

	form := url.Values{}
	form.Set("customer", strings.TrimSpace(customerID))

	var out struct {
		ID string `json:"id"`
	}
	return c.do(ctx, http.MethodPost, "/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", form, &out)
}

// DetachPaymentMethod removes a payment method from its customer.
func (c *StripeClient) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if strings.TrimSpace(paymentMethodID) == "" {
		return errors.New("payment method id is required")
	}

	var out struct {
		ID string `json:"id"`
	}
	return c.do(ctx, http.MethodPost, "/payment_methods/"+url.PathEscape(paymentMethodID)+"/detach", url.Values{}, &out)
}

// ListCardPaymentMethods lists the card instruments stored on a customer.
func (c *StripeClient) ListCardPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}

	q := url.Values{}
	q.Set("customer", strings.TrimSpace(customerID))
	q.Set("type", "card")

	var list struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/payment_methods", q, &list); err != nil {
		return nil, err
	}

	out := make([]PaymentMethod, 0, len(list.Data))
	for _, pm := range list.Data {
		out = append(out, PaymentMethod{ID: pm.ID, Type: pm.Type})
	}
	return out, nil
}

// FindActiveSubscription returns the customer's most recent active
// subscription, or nil when there is none.
func (c *StripeClient) FindActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}

	q := url.Values{}
	q.Set("customer", strings.TrimSpace(customerID))
	q.Set("status", "active")
	q.Set("limit", "1")

	var list struct {
		Data []rawSubscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/subscriptions", q, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return list.Data[0].normalize(), nil
}

// CreateSubscription creates a subscription in incomplete payment state and
// returns it with the payment intent client secret expanded. The caller must
// confirm the payment client-side before the subscription turns active.
func (c *StripeClient) CreateSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	if strings.TrimSpace(c.PriceID) == "" {
		return nil, errors.New("STRIPE_PRICE_ID is not configured")
	}

	form := url.Values{}
	form.Set("customer", strings.TrimSpace(customerID))
	form.Set("items[0][price]", c.PriceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Add("expand[]", "latest_invoice.payment_intent")

	var raw rawSubscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", form, &raw); err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("STRIPE_SECRET_KEY is not configured")
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + path

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stripe response decode failed: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var wrapper struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &wrapper); err == nil {
		apiErr.Type = wrapper.Error.Type
		apiErr.Code = wrapper.Error.Code
		apiErr.Message = wrapper.Error.Message
	}
	return apiErr
}

// Wire shapes. invoice_settings.default_payment_method is null, a string id,
// or an expanded object depending on the request, so it decodes via
// RawMessage.
type rawCustomer struct {
	ID              string            `json:"id"`
	Email           string            `json:"email"`
	Metadata        map[string]string `json:"metadata"`
	InvoiceSettings struct {
		DefaultPaymentMethod json.RawMessage `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

func (r rawCustomer) normalize() *Customer {
	return &Customer{
		ID:                     r.ID,
		Email:                  strings.ToLower(strings.TrimSpace(r.Email)),
		DefaultPaymentMethodID: paymentMethodIDFromRaw(r.InvoiceSettings.DefaultPaymentMethod),
		Metadata:               r.Metadata,
	}
}

func paymentMethodIDFromRaw(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

type rawSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	LatestInvoice     struct {
		PaymentIntent struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"latest_invoice"`
}

func (r rawSubscription) normalize() *Subscription {
	sub := &Subscription{
		ID:                r.ID,
		CustomerID:        r.Customer,
		Status:            strings.ToLower(strings.TrimSpace(r.Status)),
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
		ClientSecret:      r.LatestInvoice.PaymentIntent.ClientSecret,
	}
	if r.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(r.CurrentPeriodEnd, 0).UTC()
	}
	return sub
}

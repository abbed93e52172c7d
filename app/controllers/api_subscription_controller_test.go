package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

// withIdentity simulates the bearer middleware by injecting a resolved user
// context before the handler runs.
func withIdentity(email string, handler fiber.Handler) []fiber.Handler {
	return []fiber.Handler{
		func(c *fiber.Ctx) error {
			usercontext.SetUserContext(c, usercontext.UserContext{
				UserID:        "11111111-2222-3333-4444-555555555555",
				Email:         email,
				EmailVerified: true,
				IsLoggedIn:    email != "",
			})
			return c.Next()
		},
		handler,
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHandleMethodNotAllowed(t *testing.T) {
	app := fiber.New()
	app.Post("/api/create-subscription", HandleAPICreateSubscription)
	app.All("/api/create-subscription", HandleMethodNotAllowed)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/create-subscription", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "Method not allowed", body["error"])
	}
}

func TestAPICreateSubscription_RejectsBadInput(t *testing.T) {
	app := fiber.New()
	app.Post("/api/create-subscription", HandleAPICreateSubscription)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "certainly not json"},
		{name: "missing payment method", body: `{"email":"jane@example.com"}`},
		{name: "missing email", body: `{"paymentMethodId":"pm_123"}`},
		{name: "invalid email", body: `{"email":"not-an-email","paymentMethodId":"pm_123"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, "/api/create-subscription", tc.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			body := decodeBody(t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPIUpgradeSubscription_ForbiddenForForeignEmail(t *testing.T) {
	app := fiber.New()
	app.Post("/api/upgrade-subscription", withIdentity("owner@example.com", HandleAPIUpgradeSubscription)...)

	resp := postJSON(t, app, "/api/upgrade-subscription", `{"email":"victim@example.com","paymentMethodId":"pm_123"}`)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Forbidden", body["error"])
}

func TestAPICancelSubscription_RequiresIdentity(t *testing.T) {
	app := fiber.New()
	app.Post("/api/cancel-subscription", withIdentity("", HandleAPICancelSubscription)...)

	resp := postJSON(t, app, "/api/cancel-subscription", `{"email":"jane@example.com","cancelAtPeriodEnd":true}`)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Forbidden", body["error"])
}

func TestAPICheckSubscriptionStatus_ForbiddenForForeignEmail(t *testing.T) {
	app := fiber.New()
	app.Post("/api/check-subscription-status", withIdentity("owner@example.com", HandleAPICheckSubscriptionStatus)...)

	resp := postJSON(t, app, "/api/check-subscription-status", `{"email":"Victim@example.com"}`)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestAPICheckSubscriptionStatus_FreeAccount(t *testing.T) {
	stripe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/customers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer stripe.Close()
	t.Setenv("STRIPE_API_BASE_URL", stripe.URL)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	app := fiber.New()
	app.Post("/api/check-subscription-status", withIdentity("jane@example.com", HandleAPICheckSubscriptionStatus)...)

	// Case matching on the email is intentionally loose.
	resp := postJSON(t, app, "/api/check-subscription-status", `{"email":"Jane@Example.com"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "inactive", body["status"])
	assert.Equal(t, "Free account", body["message"])
}

func TestAPICheckSubscriptionStatus_BackendDownIsNotFree(t *testing.T) {
	stripe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"backend down"}}`)
	}))
	defer stripe.Close()
	t.Setenv("STRIPE_API_BASE_URL", stripe.URL)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	app := fiber.New()
	app.Post("/api/check-subscription-status", withIdentity("jane@example.com", HandleAPICheckSubscriptionStatus)...)

	resp := postJSON(t, app, "/api/check-subscription-status", `{"email":"jane@example.com"}`)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Error checking subscription status", body["error"])
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	app := fiber.New()
	app.Post("/api/stripe-webhook", HandleStripeWebhook)

	payload := `{"id":"evt_1","type":"customer.subscription.updated"}`

	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Invalid signature", body["error"])
}

func TestStripeWebhook_RejectsUnparsablePayload(t *testing.T) {
	const secret = "whsec_test"
	t.Setenv("STRIPE_WEBHOOK_SECRET", secret)

	app := fiber.New()
	app.Post("/api/stripe-webhook", HandleStripeWebhook)

	payload := "this is not an event"

	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(secret, payload, time.Now()))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Invalid payload", body["error"])
}

func signStripePayload(secret, payload string, now time.Time) string {
	ts := fmt.Sprintf("%d", now.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + payload))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestEmailMatchesIdentity(t *testing.T) {
	loggedIn := usercontext.UserContext{Email: "jane@example.com", IsLoggedIn: true}

	assert.True(t, emailMatchesIdentity(loggedIn, "jane@example.com"))
	assert.True(t, emailMatchesIdentity(loggedIn, "  JANE@example.COM  "))
	assert.False(t, emailMatchesIdentity(loggedIn, "other@example.com"))
	assert.False(t, emailMatchesIdentity(usercontext.UserContext{Email: "jane@example.com"}, "jane@example.com"))
	assert.False(t, emailMatchesIdentity(usercontext.UserContext{IsLoggedIn: true}, ""))
}

func TestBillingErrorMessage(t *testing.T) {
	assert.Equal(t, "Your card was declined.", billingErrorMessage(&billing.APIError{StatusCode: 402, Message: "Your card was declined."}))
	assert.Equal(t, "Subscription request failed", billingErrorMessage(assert.AnError))
}

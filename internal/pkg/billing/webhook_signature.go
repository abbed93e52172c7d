package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Stripe signs webhook payloads with HMAC-SHA256 over "<timestamp>.<payload>"
// and ships the result in the Stripe-Signature header as "t=...,v1=...".
// Multiple v1 entries can appear during secret rotation.
const webhookTimestampTolerance = 5 * time.Minute

func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	return verifyStripeWebhookSignatureAt(payload, signatureHeader, webhookSecret, time.Now())
}

func verifyStripeWebhookSignatureAt(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	secret := strings.TrimSpace(webhookSecret)
	header := strings.TrimSpace(signatureHeader)
	if secret == "" || header == "" {
		return false
	}

	timestamp, signatures := parseStripeSignatureHeader(header)
	if timestamp.IsZero() || len(signatures) == 0 {
		return false
	}

	age := now.Sub(timestamp)
	if age < -webhookTimestampTolerance || age > webhookTimestampTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	return false
}

func parseStripeSignatureHeader(header string) (time.Time, []string) {
	var timestamp time.Time
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				timestamp = time.Unix(ts, 0)
			}
		case "v1":
			if v != "" {
				signatures = append(signatures, strings.ToLower(v))
			}
		}
	}
	return timestamp, signatures
}

// WebhookEvent is the minimal normalized view of a Stripe event envelope.
// CustomerID is set for subscription and invoice objects, which are the only
// ones this app reacts to.
type WebhookEvent struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
}

// ParseStripeWebhookEvent extracts the envelope fields needed to route an
// event. Unknown event types parse fine; the caller decides relevance.
func ParseStripeWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID           string `json:"id"`
				Object       string `json:"object"`
				Customer     string `json:"customer"`
				Subscription string `json:"subscription"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("webhook payload missing event type")
	}

	ev := &WebhookEvent{
		ID:         strings.TrimSpace(raw.ID),
		Type:       strings.TrimSpace(raw.Type),
		CustomerID: strings.TrimSpace(raw.Data.Object.Customer),
	}
	switch raw.Data.Object.Object {
	case "subscription":
		ev.SubscriptionID = raw.Data.Object.ID
	default:
		ev.SubscriptionID = strings.TrimSpace(raw.Data.Object.Subscription)
	}
	return ev, nil
}

// IsStatusRelevantEvent reports whether an event type should trigger a status
// re-resolution for the affected customer.
func IsStatusRelevantEvent(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "customer.subscription.deleted", "customer.subscription.updated", "invoice.payment_failed":
		return true
	default:
		return false
	}
}

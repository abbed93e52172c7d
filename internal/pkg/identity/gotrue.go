package identity

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
)

const defaultIdentityAPIBaseURL = "http://localhost:9999"

var (
	// ErrInvalidCredentials is returned when the identity service rejects an
	// email/password pair.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned when a bearer token is missing, malformed,
	// expired or otherwise rejected by the identity service.
	ErrInvalidToken = errors.New("invalid token")
)

// Client talks to a GoTrue-compatible identity service. All authentication is
// delegated there; we never store or verify credentials ourselves.
type Client struct {
	APIBaseURL string

	HTTPClient *http.Client
}

// UserIdentity is the authenticated principal as reported by the identity
// service. EmailVerified mirrors the presence of the provider's confirmation
// timestamp; an unverified identity must never be treated as logged in.
type UserIdentity struct {
	ID            string
	Email         string
	EmailVerified bool
	ConfirmedAt   *time.Time
	AccessToken   string
}

// TokenResponse is the password-grant response of the identity service.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("IDENTITY_API_URL", defaultIdentityAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Login performs a password grant and resolves the resulting token to a full
// identity. Bad credentials map to ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (*UserIdentity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, errors.New("identity token response missing access_token")
	}

	user, err := c.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	user.AccessToken = token.AccessToken
	return user, nil
}

// Signup registers a new identity. The returned identity may be unconfirmed
// (no confirmation timestamp yet); callers must check EmailVerified before
// treating it as a session.
func (c *Client) Signup(ctx context.Context, email, password string) (*UserIdentity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/signup", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity signup failed: %s", identityErrorMessage(resp.StatusCode, body))
	}

	return parseUserPayload(body)
}

// CurrentUser resolves a bearer token to the identity it belongs to. Any
// rejection by the identity service maps to ErrInvalidToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*UserIdentity, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity user request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	user, err := parseUserPayload(body)
	if err != nil {
		return nil, err
	}
	user.AccessToken = token
	return user, nil
}

// Logout revokes the session server-side. Best effort: an already-expired
// token is not an error worth surfacing to the user.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("identity logout failed: status=%d", resp.StatusCode)
	}
	return nil
}

func parseUserPayload(body []byte) (*UserIdentity, error) {
	var raw struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		ConfirmedAt string `json:"confirmed_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("identity response missing user id")
	}

	user := &UserIdentity{
		ID:    strings.TrimSpace(raw.ID),
		Email: strings.ToLower(strings.TrimSpace(raw.Email)),
	}
	if ts := strings.TrimSpace(raw.ConfirmedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			user.ConfirmedAt = &t
			user.EmailVerified = true
		}
	}
	return user, nil
}

func identityErrorMessage(status int, body []byte) string {
	var raw struct {
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		switch {
		case raw.Msg != "":
			return raw.Msg
		case raw.ErrorDescription != "":
			return raw.ErrorDescription
		case raw.Error != "":
			return raw.Error
		}
	}
	return fmt.Sprintf("status=%d", status)
}

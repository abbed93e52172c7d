package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberFox/internal/pkg/identity"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

// BearerIdentityMiddleware authenticates requests carrying an identity
// provider bearer token. The token is verified against the provider on every
// request; no local token state is kept.
func BearerIdentityMiddleware(client *identity.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerFromHeader(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		user, err := client.CurrentUser(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired token"})
			}
			log.Printf("identity token verification failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token verification failed"})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:        user.ID,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
			IsLoggedIn:    true,
			AccessToken:   token,
		})
		c.Locals(usercontext.KeyFromProtected, true)

		return c.Next()
	}
}

func extractBearerFromHeader(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

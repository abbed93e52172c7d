package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberFox/internal/pkg/session"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// The session only mirrors what the identity provider told us on login; the
// provider stays the source of truth for token validity.
func UserContextMiddleware(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		// On error: set as anonymous user
		usercontext.SetUserContext(c, usercontext.UserContext{IsLoggedIn: false})
		c.Locals(usercontext.KeyFromProtected, false)
		return c.Next()
	}

	userID, _ := sess.Get(session.KeyUserID).(string)
	if userID == "" {
		// Anonymous user - no session data
		usercontext.SetUserContext(c, usercontext.UserContext{IsLoggedIn: false})
		c.Locals(usercontext.KeyFromProtected, false)
		return c.Next()
	}

	email, _ := sess.Get(session.KeyUserEmail).(string)
	verified, _ := sess.Get(session.KeyEmailVerified).(bool)
	token, _ := sess.Get(session.KeyAccessToken).(string)

	usercontext.SetUserContext(c, usercontext.UserContext{
		UserID:        userID,
		Email:         email,
		EmailVerified: verified,
		IsLoggedIn:    true,
		AccessToken:   token,
	})
	c.Locals(usercontext.KeyFromProtected, true)

	return c.Next()
}

package router

import (
	"strings"
	"time"

	"github.com/ManuelReschke/MemberFox/app/controllers"
	"github.com/ManuelReschke/MemberFox/internal/pkg/env"
	"github.com/ManuelReschke/MemberFox/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
)

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get("/", loggedInMiddleware, controllers.HandleHome)
	group.Get("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Post("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Get("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Post("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Account pages
	group.Get("/user", middleware.RequireAuth, controllers.HandleUserDashboard)
	group.Post("/user/status/refresh", middleware.RequireAPISessionAuth, controllers.HandleUserStatusRefresh)
	group.Get("/user/subscribe", middleware.RequireAuth, controllers.HandleSubscribe)
	group.Post("/user/subscription/cancel", middleware.RequireAuth, controllers.HandleCancelSubscription)
}

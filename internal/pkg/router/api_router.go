package router

import (
	"time"

	apiv1 "github.com/ManuelReschke/MemberFox/internal/api/v1"
	"github.com/ManuelReschke/MemberFox/app/controllers"
	"github.com/ManuelReschke/MemberFox/internal/pkg/identity"
	"github.com/ManuelReschke/MemberFox/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// The webhook endpoint is exempt from rate limiting so provider
	// redeliveries are never dropped.
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/stripe-webhook"
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	bearer := middleware.BearerIdentityMiddleware(identity.NewClientFromEnv())

	// Subscription endpoints. Create needs no bearer: a brand-new customer
	// has no session yet. Every other state-touching endpoint verifies the
	// token and the token-email/body-email match inside the handler.
	api.Post("/create-subscription", controllers.HandleAPICreateSubscription)
	api.Post("/upgrade-subscription", bearer, controllers.HandleAPIUpgradeSubscription)
	api.Post("/cancel-subscription", bearer, controllers.HandleAPICancelSubscription)
	api.Post("/check-subscription-status", bearer, controllers.HandleAPICheckSubscriptionStatus)
	api.Post("/stripe-webhook", controllers.HandleStripeWebhook)

	// Any other method on these endpoints answers 405 with a JSON body.
	for _, path := range []string{
		"/create-subscription",
		"/upgrade-subscription",
		"/cancel-subscription",
		"/check-subscription-status",
		"/stripe-webhook",
	} {
		api.All(path, controllers.HandleMethodNotAllowed)
	}

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer()
	apiv1.RegisterHandlers(v1, apiServer, bearer)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

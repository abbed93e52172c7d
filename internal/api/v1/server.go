package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the health check response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the versioned API operations. Implementations
// delegate to the controllers so v1 stays a thin, documented alias of the
// subscription surface.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	PostSubscriptionStatus(c *fiber.Ctx) error
	GetBillingStats(c *fiber.Ctx) error
}

// RegisterHandlers wires the ServerInterface onto the router. Operations
// reading account or billing data run behind the bearer middleware.
func RegisterHandlers(router fiber.Router, si ServerInterface, bearer fiber.Handler) {
	router.Get("/ping", si.GetPing)
	router.Post("/subscription/status", bearer, si.PostSubscriptionStatus)
	router.Get("/billing/stats", bearer, si.GetBillingStats)
}

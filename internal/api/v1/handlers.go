package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/MemberFox/app/controllers"
	"github.com/ManuelReschke/MemberFox/internal/pkg/metrics/counter"
)

// APIServer implements the ServerInterface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostSubscriptionStatus is the versioned alias of the status check.
// Security is enforced via the bearer middleware attached in the router.
func (s *APIServer) PostSubscriptionStatus(c *fiber.Ctx) error {
	return controllers.HandleAPICheckSubscriptionStatus(c)
}

// GetBillingStats exposes the Redis-backed billing counters for operations.
func (s *APIServer) GetBillingStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status_checks":  counter.StatusCheckTotal(),
		"webhook_events": counter.WebhookEventTotals(),
	})
}

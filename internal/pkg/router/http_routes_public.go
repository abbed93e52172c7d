package router

import (
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// The swagger middleware serves the API docs under /docs/api/v1.
	app.Get("/docs/api", loggedInMiddleware, func(c *fiber.Ctx) error {
		return c.Redirect("/docs/api/v1", fiber.StatusSeeOther)
	})
}

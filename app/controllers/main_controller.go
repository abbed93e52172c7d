package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/MemberFox/internal/pkg/constants"
	"github.com/ManuelReschke/MemberFox/internal/pkg/env"
)

func HandleHome(c *fiber.Ctx) error {
	if isLoggedIn(c) {
		return c.Redirect(constants.DashboardRoute, fiber.StatusSeeOther)
	}

	appENV := env.GetEnv("APP_ENV", "prod")
	isDEV := appENV == "dev"

	return c.Render("index", fiber.Map{
		"Page":          "home",
		"FromProtected": false,
		"Msg":           flash.Get(c),
		"IsDEV":         isDEV,
	}, "layouts/main")
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/config"
	"github.com/latticeworks/facet/internal/services"
	"gorm.io/gorm"
)

// HealthHandler handles the health probe
type HealthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// Check handles GET /healthz
// @Summary Service health
// @Description Database and backend connectivity
// @Tags Health
// @Produce json
// @Success 200 {object} services.HealthStatus
// @Failure 503 {object} services.HealthStatus
// @Router /healthz [get]
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := services.CheckHealth(h.DB, h.Cfg.BackendURL)
	code := fiber.StatusOK
	if !status.OK {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(status)
}

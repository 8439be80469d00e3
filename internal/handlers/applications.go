package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/services"
	"gorm.io/gorm"
)

// ApplicationHandler handles application catalog routes
type ApplicationHandler struct {
	DB      *gorm.DB
	Backend backend.Client
}

// List handles GET /api/applications
// @Summary List applications
// @Description Active applications; pass all=true for deactivated ones too
// @Tags Applications
// @Produce json
// @Param all query bool false "Include deactivated applications"
// @Success 200 {array} models.Application
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /applications [get]
func (h *ApplicationHandler) List(c *fiber.Ctx) error {
	includeInactive := c.QueryBool("all", false)
	apps, err := services.ListApplications(h.DB, includeInactive)
	if err != nil {
		return serviceError(c, err, "applications.list")
	}
	return c.Status(fiber.StatusOK).JSON(apps)
}

// Sync handles POST /api/applications/sync
// @Summary Sync applications from the backend
// @Description Reconciles the local catalog against the backend's installed applications
// @Tags Applications
// @Produce json
// @Success 200 {object} services.SyncResult
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /applications/sync [post]
func (h *ApplicationHandler) Sync(c *fiber.Ctx) error {
	result, err := services.SyncApplications(c.Context(), h.DB, h.Backend)
	if err != nil {
		return serviceError(c, err, "applications.sync")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
